package sdp_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/confrelay/internal/sdp"
)

const sampleOffer = "v=0\r\n" +
	"o=- 123456 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=ice-ufrag:remoteufrag\r\n" +
	"a=ice-pwd:remotepwd1234567890abcd\r\n" +
	"a=fingerprint:sha-256 AA:BB:CC\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n"

func TestPreparseCountsAudioAndVideoLines(t *testing.T) {
	counts, err := sdp.Preparse(sampleOffer)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Audio)
	assert.Equal(t, 1, counts.Video)
}

func TestPreparseRejectsInvalidSDP(t *testing.T) {
	_, err := sdp.Preparse("not an sdp body")
	assert.Error(t, err)
}

func TestParseExtractsIdentityAndCandidates(t *testing.T) {
	parsed, err := sdp.Parse(sampleOffer)
	require.NoError(t, err)
	assert.Equal(t, "remoteufrag", parsed.ICEUfrag)
	assert.Equal(t, "remotepwd1234567890abcd", parsed.ICEPwd)
	require.Len(t, parsed.Streams, 2)
	assert.False(t, parsed.Streams[0].Video)
	assert.True(t, parsed.Streams[1].Video)
	require.Len(t, parsed.Streams[0].Candidates, 1)
	assert.Equal(t, 1, parsed.Streams[0].Candidates[0].Component)
}

func TestParseSplitsCandidatesByComponent(t *testing.T) {
	const twoComponentOffer = "v=0\r\n" +
		"o=- 1 1 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host\r\n" +
		"a=candidate:1 2 udp 2130706431 10.0.0.1 5001 typ host\r\n"

	parsed, err := sdp.Parse(twoComponentOffer)
	require.NoError(t, err)
	require.Len(t, parsed.Streams, 1)
	require.Len(t, parsed.Streams[0].Candidates, 2)
	assert.Equal(t, 1, parsed.Streams[0].Candidates[0].Component)
	assert.Equal(t, 2, parsed.Streams[0].Candidates[1].Component)
}

func TestAnonymizeStripsRemoteIdentity(t *testing.T) {
	stripped, err := sdp.Anonymize(sampleOffer)
	require.NoError(t, err)
	assert.NotContains(t, stripped, "remoteufrag")
	assert.NotContains(t, stripped, "remotepwd1234567890abcd")
	assert.NotContains(t, stripped, "candidate")
}

func TestMergeSplicesGatewayIdentityBackIn(t *testing.T) {
	stripped, err := sdp.Anonymize(sampleOffer)
	require.NoError(t, err)

	merged, err := sdp.Merge(stripped, sdp.Identity{
		ICEUfrag:    "gwufrag",
		ICEPwd:      "gwpwd",
		Fingerprint: "sha-256 11:22:33",
		Candidates:  []string{"a=candidate:1 1 udp 2130706431 1.2.3.4 6000 typ host"},
	})
	require.NoError(t, err)
	assert.True(t, strings.Contains(merged, "gwufrag"))
	assert.True(t, strings.Contains(merged, "1.2.3.4"))
}
