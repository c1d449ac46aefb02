// Package main is the standalone entry point for building the echo-test
// plugin as a dynamically loaded module (go build -buildmode=plugin). It
// exports the well-known "create" symbol the registry's dynamic loader
// looks up, delegating to the real implementation in plugins/echotest so
// the built-in and dynamic loading paths share one source of truth.
package main

import (
	"github.com/streamspace-dev/confrelay/internal/pluginapi"
	"github.com/streamspace-dev/confrelay/plugins/echotest"
)

// Create is resolved via plugin.Lookup("Create") by internal/registry.
func Create() pluginapi.Descriptor {
	return echotest.Descriptor()
}
