package prometheus

import (
	"github.com/caddyserver/caddy"
	"github.com/nextdhcp/omapi-sync/plugin"
)

func init() {
	plugin.Register("prometheus", setupPrometheus)
}

// Plugin counts the DHCP messages passing the handler chain
type Plugin struct {
	Next    plugin.Handler
	Metrics *Metrics
}

func setupPrometheus(c *caddy.Controller) (plugin.Plugin, error) {
	metrics, err := parse(c)
	if err != nil {
		return nil, err
	}

	if err := metrics.start(); err != nil {
		return nil, c.Errf("prometheus: %s", err)
	}

	return func(next plugin.Handler) plugin.Handler {
		return &Plugin{Next: next, Metrics: metrics}
	}, nil
}

// prometheus {
//	address localhost:9180
//	path /metrics
// }
// Or just: prometheus localhost:9180
func parse(c *caddy.Controller) (*Metrics, error) {
	metrics := NewMetrics("", "")

	args := c.RemainingArgs()
	switch len(args) {
	case 0:
	case 1:
		metrics.addr = args[0]
	default:
		return nil, c.ArgErr()
	}

	for c.NextBlock() {
		switch c.Val() {
		case "path":
			args = c.RemainingArgs()
			if len(args) != 1 {
				return nil, c.ArgErr()
			}
			metrics.path = args[0]
		case "address":
			args = c.RemainingArgs()
			if len(args) != 1 {
				return nil, c.ArgErr()
			}
			metrics.addr = args[0]
		default:
			return nil, c.Errf("prometheus: unknown item: %s", c.Val())
		}
	}

	return metrics, nil
}
