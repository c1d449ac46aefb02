// Package echotest implements the bundled demo application plugin named
// in SPEC_FULL.md's supplemented features: it accepts an SDP offer and
// echoes it straight back through the normal push_event/JSEP merge path,
// exercising the full negotiation dance end to end.
//
// Shaped after the teacher's concrete plugin files: a small struct
// embedding shared scheduling/logging plumbing, constructed by a single
// exported function, registered both as a built-in (so tests never
// depend on a .so being present) and buildable standalone as a dynamically
// loaded module via plugins/echotest/plugin.
package echotest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streamspace-dev/confrelay/internal/pluginapi"
)

const (
	packageName = "confrelay.plugin.echotest"
	version     = 1
	versionStr  = "1.0.0"
)

// Plugin is the echo-test application plugin.
type Plugin struct {
	mu        sync.Mutex
	callbacks pluginapi.Callbacks
	sessions  map[string]struct{}
}

// New returns a ready-to-init echo-test plugin instance.
func New() *Plugin {
	return &Plugin{sessions: make(map[string]struct{})}
}

// Descriptor builds the pluginapi.Descriptor the registry's built-in
// factory path and the standalone .so entry point both use.
func Descriptor() pluginapi.Descriptor {
	return pluginapi.Descriptor{Package: packageName, Plugin: New()}
}

func (p *Plugin) Init(_ context.Context, callbacks pluginapi.Callbacks, _ string) error {
	p.mu.Lock()
	p.callbacks = callbacks
	p.mu.Unlock()
	return nil
}

func (p *Plugin) Destroy() {}

func (p *Plugin) GetVersion() int           { return version }
func (p *Plugin) GetVersionString() string  { return versionStr }
func (p *Plugin) GetDescription() string    { return "Echoes back whatever SDP and message body it receives." }
func (p *Plugin) GetName() string           { return "Echo Test" }
func (p *Plugin) GetPackage() string        { return packageName }

func (p *Plugin) CreateSession(handleToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.sessions[handleToken]; exists {
		return fmt.Errorf("echotest: handle %q already has a session", handleToken)
	}
	p.sessions[handleToken] = struct{}{}
	return nil
}

func (p *Plugin) DestroySession(handleToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, handleToken)
	return nil
}

// echoResult is the plugindata payload the echo-test plugin pushes back
// for every message it handles.
type echoResult struct {
	Result string `json:"result"`
}

func (p *Plugin) HandleMessage(handleToken, transaction string, body []byte, jsep *pluginapi.JSEP) error {
	p.mu.Lock()
	_, known := p.sessions[handleToken]
	cb := p.callbacks
	p.mu.Unlock()
	if !known {
		return fmt.Errorf("echotest: unknown handle %q", handleToken)
	}

	result, err := json.Marshal(echoResult{Result: "ok"})
	if err != nil {
		return err
	}

	sdpType, sdp := "", ""
	if jsep != nil {
		sdpType, sdp = answerTypeFor(jsep.Type), jsep.SDP
	}

	if code := cb.PushEvent(handleToken, transaction, string(result), sdpType, sdp); code != pluginapi.PushEventOK {
		return fmt.Errorf("echotest: push_event failed with code %d", code)
	}
	return nil
}

// answerTypeFor always responds with an answer to an offer (an echo test
// never originates its own offer), keeping the negotiation dance honest
// about which side is answering.
func answerTypeFor(remoteType string) string {
	if remoteType == "offer" {
		return "answer"
	}
	return "offer"
}

func (p *Plugin) SetupMedia(handleToken string)                         {}
func (p *Plugin) IncomingRTP(handleToken string, isVideo bool, payload []byte)  { _ = payload }
func (p *Plugin) IncomingRTCP(handleToken string, isVideo bool, payload []byte) { _ = payload }
func (p *Plugin) HangupMedia(handleToken string)                        {}

var _ pluginapi.Plugin = (*Plugin)(nil)
