package echotest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/confrelay/internal/pluginapi"
	"github.com/streamspace-dev/confrelay/plugins/echotest"
)

type fakeCallbacks struct {
	pushed []string
}

func (f *fakeCallbacks) PushEvent(handleToken, transaction, messageText, sdpType, sdp string) int {
	f.pushed = append(f.pushed, messageText)
	return pluginapi.PushEventOK
}
func (f *fakeCallbacks) RelayRTP(string, bool, []byte)  {}
func (f *fakeCallbacks) RelayRTCP(string, bool, []byte) {}

func TestDescriptorReportsStablePackage(t *testing.T) {
	desc := echotest.Descriptor()
	assert.Equal(t, "confrelay.plugin.echotest", desc.Package)
	assert.Equal(t, "confrelay.plugin.echotest", desc.Plugin.GetPackage())
}

func TestHandleMessageRequiresKnownSession(t *testing.T) {
	p := echotest.New()
	cb := &fakeCallbacks{}
	require.NoError(t, p.Init(context.Background(), cb, ""))

	err := p.HandleMessage("unknown-token", "t1", []byte(`{}`), nil)
	assert.Error(t, err)
}

func TestHandleMessageEchoesAndPushesEvent(t *testing.T) {
	p := echotest.New()
	cb := &fakeCallbacks{}
	require.NoError(t, p.Init(context.Background(), cb, ""))
	require.NoError(t, p.CreateSession("tok1"))

	require.NoError(t, p.HandleMessage("tok1", "t1", []byte(`{"request":"echo"}`), &pluginapi.JSEP{Type: "offer", SDP: "v=0"}))
	require.Len(t, cb.pushed, 1)
	assert.Contains(t, cb.pushed[0], "ok")
}

func TestDestroySessionForgetsHandle(t *testing.T) {
	p := echotest.New()
	cb := &fakeCallbacks{}
	require.NoError(t, p.Init(context.Background(), cb, ""))
	require.NoError(t, p.CreateSession("tok2"))
	require.NoError(t, p.DestroySession("tok2"))

	err := p.HandleMessage("tok2", "t1", []byte(`{}`), nil)
	assert.Error(t, err)
}
