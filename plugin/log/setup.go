package log

import (
	"os"

	"github.com/caddyserver/caddy"
	corelog "github.com/nextdhcp/omapi-sync/core/log"
	"github.com/nextdhcp/omapi-sync/plugin"
)

func init() {
	plugin.Register("log", setupLogging)
}

// setupLogging configures the level of the default logger:
//
//	log debug
func setupLogging(c *caddy.Controller) (plugin.Plugin, error) {
	if !c.NextArg() {
		return nil, c.ArgErr()
	}

	level := c.Val()
	if c.NextArg() {
		return nil, c.SyntaxErr("a single log level")
	}

	if err := corelog.Setup(level, os.Stdout); err != nil {
		return nil, c.SyntaxErr(err.Error())
	}

	return func(next plugin.Handler) plugin.Handler {
		return next
	}, nil
}
