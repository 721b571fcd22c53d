// Package plugin provides the directive registry and handler chain used by
// programs that embed omapi-sync into a DHCP server. Load builds the chain
// from directive text; the omapi-sync binary itself only lists the
// registered directives
package plugin

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/caddyserver/caddy"
	"github.com/caddyserver/caddy/caddyfile"
	"github.com/insomniacslk/dhcp/dhcpv4"
)

type (
	// Handler for DHCP requests created by a plugin factory (see Plugin).
	// Each handler is responsible of calling the next handling in the chain
	// which was passed to Plugin
	Handler interface {
		// Name returns the name of the handler
		Name() string

		// ServeDHCP is a HandlerFunc and called for each DHCPv4 request. See HandlerFunc
		// for more information
		ServeDHCP(ctx context.Context, req *dhcpv4.DHCPv4, resp *dhcpv4.DHCPv4) error
	}

	// Plugin wraps the next handler in the chain
	Plugin func(Handler) Handler

	// HandlerFunc allows to easily wrap a function as a Handler type
	HandlerFunc func(ctx context.Context, req *dhcpv4.DHCPv4, resp *dhcpv4.DHCPv4) error

	// SetupFunc parses the directive the controller is positioned at and
	// returns the plugin configured by it
	SetupFunc func(c *caddy.Controller) (Plugin, error)
)

var (
	registryMu sync.RWMutex
	registry   = map[string]SetupFunc{}
)

// ServeDHCP implements the Handler interface
func (fn HandlerFunc) ServeDHCP(ctx context.Context, req, resp *dhcpv4.DHCPv4) error {
	return fn(ctx, req, resp)
}

// Name returns "HandlerFunc" and implements the Handler interface
func (fn HandlerFunc) Name() string {
	return "HandlerFunc"
}

// Register makes a directive available to Load. It panics if name is
// registered twice
func Register(name string, setup SetupFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("plugin: directive %q already registered", name))
	}
	registry[name] = setup
}

// Directives returns the names of all registered directives
func Directives() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain wraps final with plugins. The first plugin is the outermost
// handler and sees each request first
func Chain(final Handler, plugins ...Plugin) Handler {
	chain := final
	for i := len(plugins) - 1; i >= 0; i-- {
		chain = plugins[i](chain)
	}
	return chain
}

// Load parses the directives in input and returns the handler chain they
// configure in order of appearance, terminated by final
func Load(filename string, input io.Reader, final Handler) (Handler, error) {
	c := &caddy.Controller{Dispenser: caddyfile.NewDispenser(filename, input)}

	var plugins []Plugin
	for c.Next() {
		name := c.Val()

		registryMu.RLock()
		setup, ok := registry[name]
		registryMu.RUnlock()

		if !ok {
			return nil, c.Errf("unknown directive %q", name)
		}

		p, err := setup(c)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}

	return Chain(final, plugins...), nil
}
