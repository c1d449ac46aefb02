// Package pluginapi defines the bidirectional contract between the
// gateway and an application plugin: the fourteen-callback descriptor a
// plugin module exports, and the gateway callback bundle handed to the
// plugin at init.
//
// The dynamic loader produces a Plugin value for each discovered module;
// nothing downstream of the registry touches the underlying *plugin.Plugin
// handle directly, matching the "represent the contract as a trait with
// fourteen methods" guidance for dynamic dispatch via raw function
// pointers.
package pluginapi

import "context"

// JSEP is the offer/answer SDP wrapper exchanged through the envelope.
type JSEP struct {
	Type string // "offer" or "answer"
	SDP  string
}

// Plugin is the fourteen-method contract every application plugin module
// must implement, matching the descriptor's function pointers one to one.
type Plugin interface {
	// Init is invoked exactly once per plugin, immediately after loading.
	Init(ctx context.Context, callbacks Callbacks, configDir string) error
	// Destroy is invoked once at orderly shutdown, after every handle has
	// already been torn down via DestroySession.
	Destroy()

	GetVersion() int
	GetVersionString() string
	GetDescription() string
	GetName() string
	GetPackage() string

	// CreateSession is invoked by attach; handleToken is the opaque id the
	// gateway assigns this handle for the plugin to key its own state by.
	CreateSession(handleToken string) error
	// HandleMessage processes a message body (and, if present, a
	// pre-negotiated JSEP) addressed to this handle.
	HandleMessage(handleToken, transaction string, body []byte, jsep *JSEP) error
	// SetupMedia is invoked once a handle reaches media-ready.
	SetupMedia(handleToken string)
	// IncomingRTP/IncomingRTCP deliver relayed packets while the handle is
	// media-ready; the gateway never calls these outside that state.
	IncomingRTP(handleToken string, isVideo bool, payload []byte)
	IncomingRTCP(handleToken string, isVideo bool, payload []byte)
	// HangupMedia is invoked when the underlying media pipeline tears
	// down independently of the handle itself being detached.
	HangupMedia(handleToken string)
	// DestroySession is invoked by detach or session destroy. The plugin
	// must never retain pointers tied to handleToken afterward.
	DestroySession(handleToken string) error
}

// RequiredSymbol is the well-known exported symbol a plugin module must
// provide; looking it up and calling it yields a Descriptor. Go's plugin
// package only resolves exported identifiers, so this is "Create" rather
// than the lowercase "create" convention the ABI is otherwise modeled on.
const RequiredSymbol = "Create"

// Descriptor is what the well-known entry-point symbol returns: a
// self-describing bundle naming the plugin and holding the Plugin
// implementation itself. It exists as a separate type from Plugin so a
// dynamically loaded module can report its package name before Init has
// been called with real dependencies.
type Descriptor struct {
	Package string
	Plugin  Plugin
}

// Callbacks is the fixed set of functions a plugin invokes to talk back to
// the gateway: push an event, relay RTP, relay RTCP. It is constructed
// once per plugin at Init and is safe for concurrent use by however many
// worker goroutines the plugin chooses to run.
type Callbacks interface {
	// PushEvent validates messageText as JSON, wraps it in the event
	// envelope (attaching a JSEP if sdpType/sdp are non-empty), and
	// enqueues it on the handle's session. It returns 0 on success or one
	// of the well-defined PushEvent* codes on failure.
	PushEvent(handleToken, transaction, messageText, sdpType, sdp string) int
	// RelayRTP forwards a decrypted RTP packet for the given handle; a
	// no-op if the handle is not media-ready.
	RelayRTP(handleToken string, isVideo bool, payload []byte)
	// RelayRTCP forwards a decrypted RTCP packet for the given handle.
	RelayRTCP(handleToken string, isVideo bool, payload []byte)
}

// PushEvent result codes, returned by Callbacks.PushEvent.
const (
	PushEventOK                = 0
	PushEventInvalidJSONObject = 1
	PushEventNoSuchHandle      = 2
)
