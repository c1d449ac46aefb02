// Package sdp implements the SDP pre-parse/parse/anonymize/merge
// collaborator described in §6, backed by github.com/pion/sdp/v3 for
// actual SDP line manipulation rather than hand-rolled string surgery.
package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Counts is the result of Preparse: how many audio and video m-lines the
// offer/answer carries. Only the first of each is ever negotiated.
type Counts struct {
	Audio int
	Video int
}

// Parsed is the intermediate result of Parse: the negotiable identity and
// candidates pulled out of a remote SDP, enough to populate a handle's
// media context.
type Parsed struct {
	ICEUfrag    string
	ICEPwd      string
	Fingerprint string
	Streams     []Stream
}

// Candidate is one remote ICE candidate parsed out of an m-line, tagged
// with the component it was advertised for (1=RTP, 2=RTCP per RFC 5245
// §15.1) so the negotiation coordinator can submit both components
// instead of assuming RTP for everything.
type Candidate struct {
	Component int
	Line      string // raw "a=candidate:..." line
}

// Stream is one negotiated audio or video m-line.
type Stream struct {
	Video      bool
	Candidates []Candidate
}

// Preparse counts audio/video m-lines in a raw SDP string without fully
// resolving candidates, matching step 1 of the negotiation dance in §4.3.
func Preparse(raw string) (Counts, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return Counts{}, fmt.Errorf("sdp: preparse: %w", err)
	}
	var c Counts
	for _, md := range desc.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio":
			c.Audio++
		case "video":
			c.Video++
		}
	}
	return c, nil
}

// Parse extracts ICE ufrag/pwd, DTLS fingerprint, and per-stream
// candidates from a remote SDP into a Parsed value, matching step 3.
func Parse(raw string) (*Parsed, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("sdp: parse: %w", err)
	}

	p := &Parsed{}
	if v, ok := desc.Attribute("ice-ufrag"); ok {
		p.ICEUfrag = v
	}
	if v, ok := desc.Attribute("ice-pwd"); ok {
		p.ICEPwd = v
	}
	if v, ok := desc.Attribute("fingerprint"); ok {
		p.Fingerprint = v
	}

	for _, md := range desc.MediaDescriptions {
		video := md.MediaName.Media == "video"
		if md.MediaName.Media != "audio" && md.MediaName.Media != "video" {
			continue
		}
		if ufrag, ok := md.Attribute("ice-ufrag"); ok {
			p.ICEUfrag = ufrag
		}
		if pwd, ok := md.Attribute("ice-pwd"); ok {
			p.ICEPwd = pwd
		}
		var cands []Candidate
		for _, a := range md.Attributes {
			if a.Key == "candidate" {
				cands = append(cands, Candidate{
					Component: candidateComponent(a.Value),
					Line:      "a=candidate:" + a.Value,
				})
			}
		}
		p.Streams = append(p.Streams, Stream{Video: video, Candidates: cands})
	}
	return p, nil
}

// Anonymize strips the remote peer's ICE/DTLS identity lines from a raw
// SDP, producing the stripped text passed on to the plugin (step 5).
func Anonymize(raw string) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("sdp: anonymize: %w", err)
	}

	desc.Attributes = stripIdentity(desc.Attributes)
	for i := range desc.MediaDescriptions {
		desc.MediaDescriptions[i].Attributes = stripIdentity(desc.MediaDescriptions[i].Attributes)
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("sdp: anonymize: marshal: %w", err)
	}
	return string(out), nil
}

// candidateComponent extracts the component id from a candidate
// attribute's value: "foundation component-id transport priority ip port
// typ ..." per RFC 5245 §15.1. Malformed or missing fields default to
// component 1 (RTP) rather than failing the whole parse over one line.
func candidateComponent(value string) int {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return 1
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

func stripIdentity(attrs []sdp.Attribute) []sdp.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		switch a.Key {
		case "ice-ufrag", "ice-pwd", "fingerprint", "candidate":
			continue
		}
		out = append(out, a)
	}
	return out
}

// Identity is the gateway's own ICE/DTLS identity, spliced into an
// outbound SDP by Merge.
type Identity struct {
	ICEUfrag    string
	ICEPwd      string
	Fingerprint string
	Candidates  []string // raw "a=candidate:..." lines, session-level
}

// Merge re-serializes a stripped SDP with the gateway's own identity and
// candidate lines added back in, producing the SDP actually sent to the
// endpoint (step 3 of the plugin-originated negotiation flow).
func Merge(stripped string, id Identity) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(stripped)); err != nil {
		return "", fmt.Errorf("sdp: merge: %w", err)
	}

	desc.Attributes = append(desc.Attributes,
		sdp.Attribute{Key: "ice-ufrag", Value: id.ICEUfrag},
		sdp.Attribute{Key: "ice-pwd", Value: id.ICEPwd},
		sdp.Attribute{Key: "fingerprint", Value: id.Fingerprint},
	)
	for _, c := range id.Candidates {
		desc.Attributes = append(desc.Attributes, sdp.Attribute{Key: "candidate", Value: strings.TrimPrefix(c, "a=candidate:")})
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("sdp: merge: marshal: %w", err)
	}
	return string(out), nil
}
