package gateway_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/confrelay/internal/dtls"
	"github.com/streamspace-dev/confrelay/internal/gateway"
	"github.com/streamspace-dev/confrelay/internal/gwerrors"
	"github.com/streamspace-dev/confrelay/internal/ice"
	"github.com/streamspace-dev/confrelay/internal/metrics"
	"github.com/streamspace-dev/confrelay/internal/negotiate"
	"github.com/streamspace-dev/confrelay/internal/pluginapi"
	"github.com/streamspace-dev/confrelay/internal/registry"
	"github.com/streamspace-dev/confrelay/internal/session"
)

// stubPlugin is a minimal pluginapi.Plugin double used to exercise the
// gateway's lifecycle operations without a real application plugin.
type stubPlugin struct {
	createErr  error
	destroyErr error
	messages   []string
}

func (s *stubPlugin) Init(context.Context, pluginapi.Callbacks, string) error { return nil }
func (s *stubPlugin) Destroy()                                                {}
func (s *stubPlugin) GetVersion() int                                         { return 1 }
func (s *stubPlugin) GetVersionString() string                                { return "1.0" }
func (s *stubPlugin) GetDescription() string                                  { return "stub" }
func (s *stubPlugin) GetName() string                                         { return "stub" }
func (s *stubPlugin) GetPackage() string                                      { return "confrelay.plugin.stub" }
func (s *stubPlugin) CreateSession(string) error                              { return s.createErr }
func (s *stubPlugin) HandleMessage(handleToken, transaction string, body []byte, jsep *pluginapi.JSEP) error {
	s.messages = append(s.messages, string(body))
	return nil
}
func (s *stubPlugin) SetupMedia(string)                         {}
func (s *stubPlugin) IncomingRTP(string, bool, []byte)          {}
func (s *stubPlugin) IncomingRTCP(string, bool, []byte)         {}
func (s *stubPlugin) HangupMedia(string)                        {}
func (s *stubPlugin) DestroySession(string) error               { return s.destroyErr }

var _ pluginapi.Plugin = (*stubPlugin)(nil)

func newTestGateway(t *testing.T, pkg string, p *stubPlugin) *gateway.Gateway {
	t.Helper()
	reg := registry.New(zerolog.Nop())
	reg.RegisterBuiltin(pkg, func() pluginapi.Descriptor {
		return pluginapi.Descriptor{Package: pkg, Plugin: p}
	})

	gw := gateway.New(session.NewTable(), reg, negotiate.New(ice.NewDefaultAgent(), dtls.NewDefaultContext()), nil, zerolog.Nop())
	require.NoError(t, reg.Load(context.Background(), "", gw, ""))
	return gw
}

func TestCreateThenDestroyLeavesSessionTableUnchanged(t *testing.T) {
	gw := newTestGateway(t, "confrelay.plugin.stub", &stubPlugin{})
	before := gw.Sessions.Len()

	s, err := gw.Create()
	require.NoError(t, err)

	gw.Destroy(s)
	assert.Equal(t, before, gw.Sessions.Len())
}

func TestAttachThenDetachRunsExactlyOneCreateDestroyPair(t *testing.T) {
	stub := &stubPlugin{}
	gw := newTestGateway(t, "confrelay.plugin.stub", stub)

	s, err := gw.Create()
	require.NoError(t, err)

	h, err := gw.Attach(s, "confrelay.plugin.stub")
	require.NoError(t, err)
	assert.Equal(t, session.HandleAttached, h.State())

	require.NoError(t, gw.Detach(h))
	_, ok := s.Handle(h.ID)
	assert.False(t, ok)
}

func TestDestroyMarksSessionBeforeWalkingHandles(t *testing.T) {
	stub := &stubPlugin{}
	gw := newTestGateway(t, "confrelay.plugin.stub", stub)
	s, err := gw.Create()
	require.NoError(t, err)

	_, err = gw.Attach(s, "confrelay.plugin.stub")
	require.NoError(t, err)

	gw.Destroy(s)
	assert.Equal(t, session.SessionDestroying, s.State())

	_, err = gw.Attach(s, "confrelay.plugin.stub")
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.SessionNotFound, ge.Code)
}

func TestAttachToMissingPluginReturnsPluginNotFound(t *testing.T) {
	gw := newTestGateway(t, "confrelay.plugin.stub", &stubPlugin{})
	s, err := gw.Create()
	require.NoError(t, err)

	_, err = gw.Attach(s, "does.not.exist")
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.PluginNotFound, ge.Code)
}

func TestAttachRollsBackHandleOnPluginFailure(t *testing.T) {
	stub := &stubPlugin{createErr: assertErr}
	gw := newTestGateway(t, "confrelay.plugin.stub", stub)
	s, err := gw.Create()
	require.NoError(t, err)

	_, err = gw.Attach(s, "confrelay.plugin.stub")
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.PluginAttach, ge.Code)
	assert.Empty(t, s.Handles())
}

func TestDetachRemovesHandleEvenWhenPluginDestroyFails(t *testing.T) {
	stub := &stubPlugin{destroyErr: assertErr}
	gw := newTestGateway(t, "confrelay.plugin.stub", stub)
	s, _ := gw.Create()
	h, err := gw.Attach(s, "confrelay.plugin.stub")
	require.NoError(t, err)

	err = gw.Detach(h)
	assert.Error(t, err)
	_, ok := s.Handle(h.ID)
	assert.False(t, ok)
}

func TestMessageDispatchesBodyToPlugin(t *testing.T) {
	stub := &stubPlugin{}
	gw := newTestGateway(t, "confrelay.plugin.stub", stub)
	s, _ := gw.Create()
	h, err := gw.Attach(s, "confrelay.plugin.stub")
	require.NoError(t, err)

	body := json.RawMessage(`{"request":"ping"}`)
	require.NoError(t, gw.Message(context.Background(), h, "t1", body, nil))
	require.Len(t, stub.messages, 1)
	assert.JSONEq(t, `{"request":"ping"}`, stub.messages[0])
}

func TestPushEventRejectsNonObjectJSON(t *testing.T) {
	stub := &stubPlugin{}
	gw := newTestGateway(t, "confrelay.plugin.stub", stub)
	s, _ := gw.Create()
	h, err := gw.Attach(s, "confrelay.plugin.stub")
	require.NoError(t, err)

	code := gw.PushEvent(h.PluginToken, "t1", `"just a string"`, "", "")
	assert.Equal(t, pluginapi.PushEventInvalidJSONObject, code)
}

func TestPushEventEnqueuesDeliverableEvent(t *testing.T) {
	stub := &stubPlugin{}
	gw := newTestGateway(t, "confrelay.plugin.stub", stub)
	s, _ := gw.Create()
	h, err := gw.Attach(s, "confrelay.plugin.stub")
	require.NoError(t, err)

	code := gw.PushEvent(h.PluginToken, "t1", `{"result":"ok"}`, "", "")
	assert.Equal(t, pluginapi.PushEventOK, code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev := s.Events.Wait(ctx, nil)
	assert.Contains(t, ev.Payload, "t1")
}

func TestRelayRTPDropsBeforeMediaReady(t *testing.T) {
	stub := &stubPlugin{}
	gw := newTestGateway(t, "confrelay.plugin.stub", stub)
	s, _ := gw.Create()
	h, err := gw.Attach(s, "confrelay.plugin.stub")
	require.NoError(t, err)

	pkt := &pionrtp.Packet{Header: pionrtp.Header{Version: 2, SSRC: 7}, Payload: []byte{1}}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	gw.RelayRTP(h.PluginToken, false, raw)
	assert.Zero(t, h.LastSSRC(false))
}

func TestRelayRTPRecordsBookkeepingAndMetricsOnceMediaReady(t *testing.T) {
	stub := &stubPlugin{}
	reg := registry.New(zerolog.Nop())
	reg.RegisterBuiltin("confrelay.plugin.stub", func() pluginapi.Descriptor {
		return pluginapi.Descriptor{Package: "confrelay.plugin.stub", Plugin: stub}
	})
	m := metrics.New(prometheus.NewRegistry())
	gw := gateway.New(session.NewTable(), reg, negotiate.New(ice.NewDefaultAgent(), dtls.NewDefaultContext()), m, zerolog.Nop())
	require.NoError(t, reg.Load(context.Background(), "", gw, ""))

	s, _ := gw.Create()
	h, err := gw.Attach(s, "confrelay.plugin.stub")
	require.NoError(t, err)
	h.SetState(session.HandleMediaReady)

	pkt := &pionrtp.Packet{Header: pionrtp.Header{Version: 2, SSRC: 99}, Payload: []byte{1}}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	gw.RelayRTP(h.PluginToken, false, raw)
	assert.Equal(t, uint32(99), h.LastSSRC(false))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RTPPacketsTotal.WithLabelValues("audio")))
}

var assertErr = &testError{"plugin refused"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
