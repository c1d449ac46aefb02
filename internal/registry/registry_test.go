package registry_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace-dev/confrelay/internal/pluginapi"
	"github.com/streamspace-dev/confrelay/internal/registry"
)

type noopPlugin struct{ pkg string }

func (p *noopPlugin) Init(context.Context, pluginapi.Callbacks, string) error { return nil }
func (p *noopPlugin) Destroy()                                                {}
func (p *noopPlugin) GetVersion() int                                         { return 1 }
func (p *noopPlugin) GetVersionString() string                                { return "1.0" }
func (p *noopPlugin) GetDescription() string                                  { return "" }
func (p *noopPlugin) GetName() string                                         { return "noop" }
func (p *noopPlugin) GetPackage() string                                      { return p.pkg }
func (p *noopPlugin) CreateSession(string) error                              { return nil }
func (p *noopPlugin) HandleMessage(string, string, []byte, *pluginapi.JSEP) error {
	return nil
}
func (p *noopPlugin) SetupMedia(string)                 {}
func (p *noopPlugin) IncomingRTP(string, bool, []byte)  {}
func (p *noopPlugin) IncomingRTCP(string, bool, []byte) {}
func (p *noopPlugin) HangupMedia(string)                {}
func (p *noopPlugin) DestroySession(string) error       { return nil }

func TestLoadRegistersBuiltinPlugin(t *testing.T) {
	r := registry.New(zerolog.Nop())
	r.RegisterBuiltin("confrelay.plugin.noop", func() pluginapi.Descriptor {
		return pluginapi.Descriptor{Package: "confrelay.plugin.noop", Plugin: &noopPlugin{pkg: "confrelay.plugin.noop"}}
	})

	require.NoError(t, r.Load(context.Background(), "", nil, ""))
	entry, ok := r.Get("confrelay.plugin.noop")
	require.True(t, ok)
	assert.Equal(t, "confrelay.plugin.noop", entry.Package())
	assert.Equal(t, 1, r.Len())
}

func TestLoadRejectsBuiltinWithNilPluginInterface(t *testing.T) {
	r := registry.New(zerolog.Nop())
	r.RegisterBuiltin("confrelay.plugin.broken", func() pluginapi.Descriptor {
		return pluginapi.Descriptor{Package: "confrelay.plugin.broken"}
	})

	require.NoError(t, r.Load(context.Background(), "", nil, ""))
	_, ok := r.Get("confrelay.plugin.broken")
	assert.False(t, ok)
}

func TestLoadRejectsDuplicatePackage(t *testing.T) {
	r := registry.New(zerolog.Nop())
	factory := func() pluginapi.Descriptor {
		return pluginapi.Descriptor{Package: "confrelay.plugin.dup", Plugin: &noopPlugin{pkg: "confrelay.plugin.dup"}}
	}
	r.RegisterBuiltin("confrelay.plugin.dup", factory)
	require.NoError(t, r.Load(context.Background(), "", nil, ""))
	assert.Equal(t, 1, r.Len())
}

func TestLoadFailsOnMissingPluginDirectory(t *testing.T) {
	r := registry.New(zerolog.Nop())
	err := r.Load(context.Background(), "/path/does/not/exist", nil, "")
	assert.Error(t, err)
}

func TestShutdownCallsDestroyOnEveryEntry(t *testing.T) {
	r := registry.New(zerolog.Nop())
	p := &noopPlugin{pkg: "confrelay.plugin.noop"}
	r.RegisterBuiltin("confrelay.plugin.noop", func() pluginapi.Descriptor {
		return pluginapi.Descriptor{Package: "confrelay.plugin.noop", Plugin: p}
	})
	require.NoError(t, r.Load(context.Background(), "", nil, ""))
	r.Shutdown()
}
