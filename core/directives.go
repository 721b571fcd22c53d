// Package core links all built-in directives. Programs that build handler
// chains with plugin.Load import it for its side effects
package core

import (
	// Include all built-in directives
	_ "github.com/nextdhcp/omapi-sync/plugin/log"
	_ "github.com/nextdhcp/omapi-sync/plugin/omapi"
	_ "github.com/nextdhcp/omapi-sync/plugin/prometheus"
)
