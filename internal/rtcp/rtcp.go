// Package rtcp provides the RTCP feedback helpers named in §6 (REMB
// bandwidth notifications) and a thin RTP header peek used by the relay
// path for bookkeeping, backed by github.com/pion/rtcp and
// github.com/pion/rtp respectively. Neither package touches the encrypted
// SRTP/SRTCP payload; that remains the DTLS-SRTP collaborator's job.
package rtcp

import (
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// MaxREMBBitrate caps the bandwidth estimate the gateway will ever report
// to a plugin, regardless of what was measured, matching "generate and
// cap REMB bandwidth notifications" in §6.
const MaxREMBBitrate = 10_000_000 // 10 Mbps

// BuildREMB builds a capped Receiver Estimated Maximum Bitrate packet for
// the given SSRC and measured bitrate, and marshals it into buf-ready
// bytes for relaying to the far side.
func BuildREMB(senderSSRC uint32, mediaSSRCs []uint32, bitrate float64) ([]byte, error) {
	if bitrate > MaxREMBBitrate {
		bitrate = MaxREMBBitrate
	}
	if bitrate < 0 {
		bitrate = 0
	}
	pkt := &rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: senderSSRC,
		Bitrate:    float32(bitrate),
		SSRCs:      mediaSSRCs,
	}
	out, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rtcp: marshal REMB: %w", err)
	}
	return out, nil
}

// PacketInfo is the bookkeeping-relevant subset of an RTP packet header:
// enough for the media-ready state machine and metrics, without decoding
// or touching the (encrypted) payload itself.
type PacketInfo struct {
	SSRC        uint32
	PayloadType uint8
	Sequence    uint16
}

// CapREMBBuffer unmarshals a compound RTCP buffer, caps the bitrate of any
// ReceiverEstimatedMaximumBitrate packet it finds to MaxREMBBitrate, and
// re-marshals the buffer. Buffers with no REMB packet are returned
// unmodified. Used by the relay path so a far-side bandwidth estimate can
// never exceed what the gateway is willing to forward.
func CapREMBBuffer(buf []byte) ([]byte, error) {
	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		return nil, fmt.Errorf("rtcp: unmarshal compound buffer: %w", err)
	}

	changed := false
	for _, pkt := range pkts {
		remb, ok := pkt.(*rtcp.ReceiverEstimatedMaximumBitrate)
		if !ok || remb.Bitrate <= MaxREMBBitrate {
			continue
		}
		remb.Bitrate = MaxREMBBitrate
		changed = true
	}
	if !changed {
		return buf, nil
	}

	out, err := rtcp.Marshal(pkts)
	if err != nil {
		return nil, fmt.Errorf("rtcp: marshal capped compound buffer: %w", err)
	}
	return out, nil
}

// PeekRTPHeader unmarshals just enough of a relayed packet to read its
// SSRC, payload type, and sequence number.
func PeekRTPHeader(payload []byte) (PacketInfo, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(payload); err != nil {
		return PacketInfo{}, fmt.Errorf("rtcp: peek RTP header: %w", err)
	}
	return PacketInfo{
		SSRC:        pkt.SSRC,
		PayloadType: pkt.PayloadType,
		Sequence:    pkt.SequenceNumber,
	}, nil
}
