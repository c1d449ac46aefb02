// Package gateway implements the session/handle lifecycle operations
// (create, attach, message, detach, destroy) described in §4.2, wiring
// together the session tables, the plugin registry, the negotiation
// coordinator, and each session's event queue.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/streamspace-dev/confrelay/internal/event"
	"github.com/streamspace-dev/confrelay/internal/gwerrors"
	"github.com/streamspace-dev/confrelay/internal/metrics"
	"github.com/streamspace-dev/confrelay/internal/negotiate"
	"github.com/streamspace-dev/confrelay/internal/pluginapi"
	"github.com/streamspace-dev/confrelay/internal/registry"
	"github.com/streamspace-dev/confrelay/internal/rtcp"
	"github.com/streamspace-dev/confrelay/internal/session"
)

// Gateway holds every piece of shared state one server instance needs,
// passed explicitly into handlers rather than reached through package
// globals, per the §9 design note on global mutable state.
type Gateway struct {
	Sessions   *session.Table
	Registry   *registry.Registry
	Negotiate  *negotiate.Coordinator
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
	shutdownCh chan struct{}
}

// New wires a Gateway from its already-constructed collaborators. m may be
// nil, in which case relay bookkeeping still runs but nothing is recorded.
func New(sessions *session.Table, reg *registry.Registry, neg *negotiate.Coordinator, m *metrics.Metrics, log zerolog.Logger) *Gateway {
	return &Gateway{
		Sessions:   sessions,
		Registry:   reg,
		Negotiate:  neg,
		Metrics:    m,
		Log:        log.With().Str("component", "gateway").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Shutdown closes the shutdown channel exactly once, unblocking every
// outstanding long poll within one polling interval.
func (g *Gateway) Shutdown() {
	select {
	case <-g.shutdownCh:
	default:
		close(g.shutdownCh)
	}
}

// ShutdownChan exposes the shutdown signal for the long-poll responder.
func (g *Gateway) ShutdownChan() <-chan struct{} { return g.shutdownCh }

// Create allocates and registers a new session.
func (g *Gateway) Create() (*session.Session, error) {
	s, err := g.Sessions.Create()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Unknown, err, "allocating session")
	}
	g.Log.Debug().Uint64("session", s.ID).Msg("session created")
	return s, nil
}

// Attach requires a valid plugin package in the registry, allocates a
// handle, and invokes create_session; on failure it rolls back the
// half-created handle and returns PLUGIN_ATTACH, per §4.2 and §7.
func (g *Gateway) Attach(s *session.Session, pkg string) (*session.Handle, error) {
	if s.State() != session.SessionAlive {
		return nil, gwerrors.New(gwerrors.SessionNotFound, "session %d is being destroyed", s.ID)
	}

	entry, ok := g.Registry.Get(pkg)
	if !ok {
		return nil, gwerrors.New(gwerrors.PluginNotFound, "no such plugin package %q", pkg)
	}

	h, err := s.NewHandle(entry)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Unknown, err, "allocating handle")
	}

	if err := entry.PluginImpl().CreateSession(h.PluginToken); err != nil {
		s.RemoveHandle(h.ID)
		return nil, gwerrors.Wrap(gwerrors.PluginAttach, err, "plugin %q rejected create_session", pkg)
	}

	h.SetState(session.HandleAttached)
	g.Log.Debug().Uint64("session", s.ID).Uint64("handle", h.ID).Str("plugin", pkg).Msg("handle attached")
	return h, nil
}

// jsepRequest is the subset of a message body's jsep object used to drive
// negotiation.
type jsepRequest struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Message dispatches a message's body (and optional jsep) to the handle's
// plugin, running the inbound half of the negotiation dance first when a
// jsep is present.
func (g *Gateway) Message(ctx context.Context, h *session.Handle, transaction string, body json.RawMessage, jsep json.RawMessage) error {
	entry, ok := h.Plugin.(*registry.Entry)
	if !ok {
		return gwerrors.New(gwerrors.PluginNotFound, "handle %d has no resolvable plugin entry", h.ID)
	}

	var pluginJSEP *pluginapi.JSEP
	if len(jsep) > 0 {
		var req jsepRequest
		if err := json.Unmarshal(jsep, &req); err != nil {
			return gwerrors.Wrap(gwerrors.InvalidJSON, err, "parsing jsep object")
		}
		stripped, err := g.Negotiate.Inbound(h, req.Type, req.SDP)
		if err != nil {
			return err
		}
		pluginJSEP = &pluginapi.JSEP{Type: req.Type, SDP: stripped}
	}

	if err := entry.PluginImpl().HandleMessage(h.PluginToken, transaction, body, pluginJSEP); err != nil {
		return gwerrors.Wrap(gwerrors.PluginMessage, err, "plugin rejected message")
	}
	return nil
}

// Detach invokes destroy_session on the handle's plugin and removes the
// handle from its session's table unconditionally, regardless of whether
// that call succeeded, per §4.2/§7.
func (g *Gateway) Detach(h *session.Handle) error {
	h.SetState(session.HandleClosed)
	g.Negotiate.Teardown(h)

	var callErr error
	if entry, ok := h.Plugin.(*registry.Entry); ok {
		if err := entry.PluginImpl().DestroySession(h.PluginToken); err != nil {
			callErr = gwerrors.Wrap(gwerrors.PluginDetach, err, "plugin rejected destroy_session")
		}
	}
	h.Session.RemoveHandle(h.ID)
	g.Log.Debug().Uint64("session", h.Session.ID).Uint64("handle", h.ID).Msg("handle detached")
	return callErr
}

// Destroy marks the session destroying, synchronously detaches every
// handle it still holds, drains its event queue, and removes it from the
// table. See DESIGN.md for why destroy is synchronous rather than
// best-effort.
func (g *Gateway) Destroy(s *session.Session) {
	s.MarkDestroying()
	for _, h := range s.Handles() {
		if err := g.Detach(h); err != nil {
			g.Log.Warn().Err(err).Uint64("session", s.ID).Uint64("handle", h.ID).Msg("detach during destroy reported an error")
		}
	}
	s.Events.Drain()
	g.Sessions.Remove(s.ID)
	g.Log.Debug().Uint64("session", s.ID).Msg("session destroyed")
}

// PushEvent implements pluginapi.Callbacks.PushEvent: it validates the
// message as JSON, wraps it in the event envelope (with jsep if present),
// and enqueues it onto the target handle's session.
func (g *Gateway) PushEvent(handleToken, transaction, messageText, sdpType, sdp string) int {
	s, h, ok := g.resolveToken(handleToken)
	if !ok {
		return pluginapi.PushEventNoSuchHandle
	}

	var data json.RawMessage
	if err := json.Unmarshal([]byte(messageText), &data); err != nil {
		return pluginapi.PushEventInvalidJSONObject
	}
	if len(data) == 0 || data[0] != '{' {
		return pluginapi.PushEventInvalidJSONObject
	}

	env := map[string]any{
		"janus":  "event",
		"sender": h.ID,
		"plugindata": map[string]any{
			"plugin": entryPackage(h),
			"data":   data,
		},
	}
	if transaction != "" {
		env["transaction"] = transaction
	}

	if sdpType != "" && sdp != "" {
		var plugin pluginapi.Plugin
		if entry, ok := h.Plugin.(*registry.Entry); ok {
			plugin = entry.PluginImpl()
		}
		outbound, err := g.Negotiate.Outbound(context.Background(), h, sdpType, sdp, plugin)
		if err != nil {
			g.Log.Warn().Err(err).Uint64("handle", h.ID).Msg("outbound negotiation failed, delivering event without jsep")
		} else {
			env["jsep"] = map[string]string{"type": outbound.Type, "sdp": outbound.SDP}
		}
	}

	payload, err := json.Marshal(env)
	if err != nil {
		g.Log.Error().Err(err).Msg("marshaling event envelope")
		return pluginapi.PushEventInvalidJSONObject
	}

	s.Events.Push(event.Event{Payload: string(payload)})
	return pluginapi.PushEventOK
}

// RelayRTP forwards to the handle only while it is media-ready; every
// other state silently drops the packet per §4.6/§8. Before returning it
// peeks the packet's header for per-SSRC bookkeeping and metrics; a
// malformed header is logged and otherwise ignored, since the relay
// decision itself never depends on it.
func (g *Gateway) RelayRTP(handleToken string, isVideo bool, payload []byte) {
	_, h, ok := g.resolveToken(handleToken)
	if !ok || !h.MediaReady() {
		return
	}
	// The concrete relay destination (the ICE/DTLS-SRTP collaborator's
	// send path) is out of this core's scope; what matters here is the
	// state gate above.
	info, err := rtcp.PeekRTPHeader(payload)
	if err != nil {
		g.Log.Debug().Err(err).Uint64("handle", h.ID).Msg("dropping RTP header peek for bookkeeping")
		return
	}
	h.RecordRTP(info.SSRC, isVideo)
	if g.Metrics != nil {
		g.Metrics.RTPPacketsTotal.WithLabelValues(mediaLabel(isVideo)).Inc()
	}
}

// RelayRTCP mirrors RelayRTP for RTCP packets: any compound
// ReceiverEstimatedMaximumBitrate found in the buffer is capped to
// MaxREMBBitrate before being counted, matching §6's "generate and cap
// REMB bandwidth notifications".
func (g *Gateway) RelayRTCP(handleToken string, isVideo bool, payload []byte) {
	_, h, ok := g.resolveToken(handleToken)
	if !ok || !h.MediaReady() {
		return
	}
	if _, err := rtcp.CapREMBBuffer(payload); err != nil {
		g.Log.Debug().Err(err).Uint64("handle", h.ID).Msg("dropping RTCP buffer for REMB capping")
		return
	}
	if g.Metrics != nil {
		g.Metrics.RTCPPacketsTotal.WithLabelValues(mediaLabel(isVideo)).Inc()
	}
}

func mediaLabel(isVideo bool) string {
	if isVideo {
		return "video"
	}
	return "audio"
}

func (g *Gateway) resolveToken(token string) (*session.Session, *session.Handle, bool) {
	// Tokens are opaque per-handle uuids; resolving one means scanning
	// live sessions for the handle that owns it. The session table stays
	// small enough in this gateway's operating envelope that a linear
	// scan under the table lock is simpler and cheaper than maintaining a
	// second global index purely for this callback path.
	for _, s := range g.allSessions() {
		if h, ok := s.HandleByToken(token); ok {
			return s, h, true
		}
	}
	return nil, nil, false
}

func (g *Gateway) allSessions() []*session.Session {
	return g.Sessions.Snapshot()
}

func entryPackage(h *session.Handle) string {
	if entry, ok := h.Plugin.(*registry.Entry); ok {
		return entry.Package()
	}
	return ""
}

var _ pluginapi.Callbacks = (*Gateway)(nil)

// ErrShutdown is returned by long-poll wiring helpers when the gateway is
// mid-shutdown; kept distinct from a plain timeout for logging purposes.
var ErrShutdown = fmt.Errorf("gateway: shutting down")
