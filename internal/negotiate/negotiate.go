// Package negotiate drives the three-step SDP negotiation dance described
// in §4.3, coordinating the sdp, ice, and dtls collaborators for both an
// endpoint-originated message carrying a jsep and a plugin-originated
// event carrying one.
package negotiate

import (
	"context"
	"fmt"

	"github.com/streamspace-dev/confrelay/internal/dtls"
	"github.com/streamspace-dev/confrelay/internal/gwerrors"
	"github.com/streamspace-dev/confrelay/internal/ice"
	"github.com/streamspace-dev/confrelay/internal/pluginapi"
	"github.com/streamspace-dev/confrelay/internal/sdp"
	"github.com/streamspace-dev/confrelay/internal/session"
)

// Coordinator wires together the SDP, ICE, and DTLS collaborators for one
// gateway instance.
type Coordinator struct {
	ICE  ice.Agent
	DTLS dtls.Context
}

// New returns a Coordinator over the given collaborators.
func New(iceAgent ice.Agent, dtlsCtx dtls.Context) *Coordinator {
	return &Coordinator{ICE: iceAgent, DTLS: dtlsCtx}
}

// Inbound runs the endpoint-to-plugin direction of the dance (§4.3 steps
// 1-6) for a message carrying a jsep, returning the stripped SDP to hand
// the plugin alongside the message body.
func (c *Coordinator) Inbound(h *session.Handle, jsepType, rawSDP string) (stripped string, err error) {
	if jsepType != "offer" && jsepType != "answer" {
		return "", gwerrors.New(gwerrors.JSEPUnknownType, "unsupported jsep type %q", jsepType)
	}

	counts, err := sdp.Preparse(rawSDP)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.JSEPInvalidSDP, err, "pre-parsing offered SDP")
	}

	if jsepType == "offer" {
		audio, video := counts.Audio > 0, counts.Video > 0
		if err := c.ICE.SetupLocal(h.ID, true, audio, video); err != nil {
			return "", gwerrors.Wrap(gwerrors.JSEPInvalidSDP, err, "setting up local ICE agent")
		}
	}

	parsed, err := sdp.Parse(rawSDP)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.JSEPInvalidSDP, err, "parsing remote SDP")
	}
	h.SetMediaContext(parsed)

	if jsepType == "answer" {
		for i, stream := range parsed.Streams {
			streamID := i + 1
			for _, cand := range stream.Candidates {
				if err := c.ICE.SetupRemoteCandidate(h.ID, streamID, cand.Component, cand.Line); err != nil {
					return "", gwerrors.Wrap(gwerrors.JSEPInvalidSDP, err, "submitting remote candidate")
				}
			}
		}
	}

	if h.State() == session.HandleAttached {
		h.SetState(session.HandleNegotiating)
	}

	stripped, err = sdp.Anonymize(rawSDP)
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.JSEPInvalidSDP, err, "anonymizing remote SDP")
	}
	return stripped, nil
}

// OutboundJSEP is the result of Outbound: the merged SDP and its type,
// ready to be attached to the event envelope.
type OutboundJSEP struct {
	Type string
	SDP  string
}

// Outbound runs the plugin-to-endpoint direction of the dance (§4.3 steps
// 1-5) for a push_event call carrying sdp_type/sdp. plugin is the handle's
// own plugin implementation, invoked with SetupMedia at the moment the
// handle reaches media-ready (§4.6).
func (c *Coordinator) Outbound(ctx context.Context, h *session.Handle, jsepType, rawSDP string, plugin pluginapi.Plugin) (*OutboundJSEP, error) {
	if jsepType != "offer" && jsepType != "answer" {
		return nil, gwerrors.New(gwerrors.JSEPUnknownType, "unsupported jsep type %q", jsepType)
	}

	if jsepType == "offer" && c.ICE.StreamsNum(h.ID) == 0 {
		if err := c.ICE.SetupLocal(h.ID, false, true, true); err != nil {
			return nil, gwerrors.Wrap(gwerrors.JSEPInvalidSDP, err, "setting up local ICE agent in answerer role")
		}
	}

	if err := c.ICE.CandidatesDone(ctx, h.ID); err != nil {
		return nil, gwerrors.Wrap(gwerrors.JSEPInvalidSDP, err, "waiting for local candidate gathering")
	}

	stripped, err := sdp.Anonymize(rawSDP)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.JSEPInvalidSDP, err, "anonymizing remote SDP")
	}

	ufrag, pwd, candidates := c.ICE.LocalIdentity(h.ID)
	merged, err := sdp.Merge(stripped, sdp.Identity{
		ICEUfrag:    ufrag,
		ICEPwd:      pwd,
		Fingerprint: c.DTLS.Fingerprint(),
		Candidates:  candidates,
	})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.JSEPInvalidSDP, err, "merging gateway identity into SDP")
	}

	if jsepType == "answer" {
		parsed, err := sdp.Parse(rawSDP)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.JSEPInvalidSDP, err, "parsing remote answer SDP")
		}
		for i, stream := range parsed.Streams {
			streamID := i + 1
			for _, cand := range stream.Candidates {
				if err := c.ICE.SetupRemoteCandidate(h.ID, streamID, cand.Component, cand.Line); err != nil {
					return nil, gwerrors.Wrap(gwerrors.JSEPInvalidSDP, err, "submitting remote candidate")
				}
			}
		}
	}

	if h.State() == session.HandleNegotiating {
		h.SetState(session.HandleMediaReady)
		if plugin != nil {
			plugin.SetupMedia(h.PluginToken)
		}
	}

	return &OutboundJSEP{Type: jsepType, SDP: merged}, nil
}

// Teardown releases ICE state held for a handle, called from detach and
// session destroy.
func (c *Coordinator) Teardown(h *session.Handle) {
	c.ICE.Teardown(h.ID)
}

// Init initializes the ICE agent and DTLS context from configuration,
// fatal at startup on failure per §7.
func (c *Coordinator) Init(iceCfg ice.Config, certPEMPath, certKeyPath string) error {
	if err := c.ICE.Init(iceCfg); err != nil {
		return fmt.Errorf("negotiate: ice init: %w", err)
	}
	if err := c.DTLS.Init(certPEMPath, certKeyPath); err != nil {
		return fmt.Errorf("negotiate: dtls init: %w", err)
	}
	return nil
}
