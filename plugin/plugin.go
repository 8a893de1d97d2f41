// Package plugin is the statically-typed replacement for the original
// implementation's entry-point discovery (plugins/base.py's BasePlugin,
// found at process start via setuptools entry points under the group name
// "orcha-framework"). Go has no equivalent runtime package discovery, so a
// plugin instead registers itself by calling Register from an init
// function in a package that cmd/orcha blank-imports, resolved at link time
// instead of at process start. Invalid plugins are not skipped with a
// warning: a duplicate name or alias makes Register panic.
package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/orchaframework/orcha/manager"
	"github.com/orchaframework/orcha/petition"
)

// Plugin is the contract every installable Orcha plugin implements,
// grounded on BasePlugin's name/aliases/help plus its server_main
// (delegated entirely to engine.Engine by cmd/orcha) and client_message/
// client_handle pair.
type Plugin interface {
	// Name is the subcommand name under `serve`/`run`.
	Name() string
	// Aliases are additional names this plugin answers to.
	Aliases() []string
	// Help is a one-line description shown in usage output.
	Help() string

	// NewManager builds the manager.Manager this plugin's server side
	// runs against. Called once per `serve` invocation.
	NewManager() manager.Manager

	// ClientMessage builds the Message a `run` invocation submits, from
	// the subcommand's remaining arguments.
	ClientMessage(args []string) (petition.Message, error)
}

var (
	mu       sync.Mutex
	registry = map[string]Plugin{}
	order    []string
)

// Register adds p to the registry under its name and every alias.
// Panics on a duplicate name/alias, since that can only be a build-time
// wiring mistake, never a runtime condition to recover from.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()

	names := append([]string{p.Name()}, p.Aliases()...)
	for _, name := range names {
		if _, exists := registry[name]; exists {
			panic(fmt.Sprintf("plugin: %q already registered", name))
		}
	}
	for _, name := range names {
		registry[name] = p
	}
	order = append(order, p.Name())
	sort.Strings(order)
}

// Lookup finds a plugin by name or alias.
func Lookup(name string) (Plugin, bool) {
	mu.Lock()
	defer mu.Unlock()
	p, ok := registry[name]
	return p, ok
}

// Names returns every registered plugin's primary name, sorted, for usage
// output.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, len(order))
	copy(out, order)
	return out
}
