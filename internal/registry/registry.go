// Package registry loads application plugins, validates their ABI, and
// indexes them by package name. It is written once at startup and read
// only thereafter, so lookups need no runtime locking — matching the
// "written only during startup, read-only thereafter" discipline §5 calls
// for the plugin registry.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/streamspace-dev/confrelay/internal/pluginapi"
)

// Entry is one loaded plugin, keyed by its stable package string.
type Entry struct {
	PkgName string
	Name    string
	Version string

	plugin pluginapi.Plugin
}

// Package implements session.PluginRef so a Handle can hold an Entry
// without the session package importing registry.
func (e *Entry) Package() string { return e.PkgName }

// Plugin returns the underlying ABI implementation for this entry.
func (e *Entry) PluginImpl() pluginapi.Plugin { return e.plugin }

// Factory constructs a built-in plugin's Descriptor without going through
// plugin.Open, used for plugins compiled directly into the binary (the
// bundled echo-test application, and any test doubles).
type Factory func() pluginapi.Descriptor

// Registry indexes loaded plugins by package name.
type Registry struct {
	log     zerolog.Logger
	entries map[string]*Entry
	builtin map[string]Factory
}

// New returns an empty registry. RegisterBuiltin and Load populate it;
// after Load returns, the registry is read-only.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		log:     log.With().Str("component", "registry").Logger(),
		entries: make(map[string]*Entry),
		builtin: make(map[string]Factory),
	}
}

// RegisterBuiltin adds a compiled-in plugin factory, tried before scanning
// the plugin directory for a module of the same name.
func (r *Registry) RegisterBuiltin(name string, f Factory) {
	r.builtin[name] = f
}

// Load scans dir for shared-object modules, opens each, resolves the
// well-known entry-point symbol, validates the resulting descriptor, and
// calls Init exactly once on every plugin that passes validation.
//
// Incomplete plugins are rejected with a warning; a scan error on the
// directory itself is fatal per §7, so it is returned rather than
// swallowed.
func (r *Registry) Load(ctx context.Context, dir string, callbacks pluginapi.Callbacks, configDir string) error {
	for name, f := range r.builtin {
		desc := f()
		if err := r.validateAndInit(ctx, desc, callbacks, configDir); err != nil {
			r.log.Warn().Err(err).Str("plugin", name).Msg("rejecting built-in plugin")
			continue
		}
	}

	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("registry: plugin directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("registry: plugin directory %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("registry: reading plugin directory %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".so") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := r.loadModule(ctx, path, callbacks, configDir); err != nil {
			r.log.Warn().Err(err).Str("path", path).Msg("rejecting plugin module")
		}
	}
	return nil
}

func (r *Registry) loadModule(ctx context.Context, path string, callbacks pluginapi.Callbacks, configDir string) error {
	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("opening module: %w", err)
	}
	sym, err := p.Lookup(pluginapi.RequiredSymbol)
	if err != nil {
		return fmt.Errorf("missing entry-point symbol %q: %w", pluginapi.RequiredSymbol, err)
	}
	create, ok := sym.(func() pluginapi.Descriptor)
	if !ok {
		return fmt.Errorf("entry-point symbol %q has the wrong signature", pluginapi.RequiredSymbol)
	}
	return r.validateAndInit(ctx, create(), callbacks, configDir)
}

// validateAndInit checks that every required callback is reachable (a nil
// Plugin interface value fails outright; Go's interface satisfaction
// already guarantees the fourteen methods exist once it compiles, so the
// remaining runtime check is "is there actually an implementation here"),
// then calls Init and registers the entry.
func (r *Registry) validateAndInit(ctx context.Context, desc pluginapi.Descriptor, callbacks pluginapi.Callbacks, configDir string) error {
	if desc.Plugin == nil {
		return fmt.Errorf("descriptor has a nil plugin implementation")
	}
	pkg := desc.Package
	if pkg == "" {
		pkg = desc.Plugin.GetPackage()
	}
	if pkg == "" {
		return fmt.Errorf("plugin did not report a package name")
	}
	if _, exists := r.entries[pkg]; exists {
		return fmt.Errorf("package %q already registered", pkg)
	}

	if err := desc.Plugin.Init(ctx, callbacks, configDir); err != nil {
		return fmt.Errorf("plugin %q init: %w", pkg, err)
	}

	r.entries[pkg] = &Entry{
		PkgName: pkg,
		Name:    desc.Plugin.GetName(),
		Version: desc.Plugin.GetVersionString(),
		plugin:  desc.Plugin,
	}
	r.log.Info().Str("package", pkg).Str("name", desc.Plugin.GetName()).Msg("plugin loaded")
	return nil
}

// Get looks up a loaded plugin by package name.
func (r *Registry) Get(pkg string) (*Entry, bool) {
	e, ok := r.entries[pkg]
	return e, ok
}

// Len reports how many plugins are loaded, used by metrics and by the
// startup log line.
func (r *Registry) Len() int { return len(r.entries) }

// Shutdown calls Destroy on every loaded plugin, at most once each, in an
// unspecified order, matching "loaded plugin modules are released only at
// process shutdown".
func (r *Registry) Shutdown() {
	for pkg, e := range r.entries {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error().Interface("panic", rec).Str("package", pkg).Msg("plugin panicked during destroy")
				}
			}()
			e.plugin.Destroy()
		}()
	}
}
