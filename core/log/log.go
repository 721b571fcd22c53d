package log

import (
	"context"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/apex/log/handlers/text"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/mattn/go-isatty"
)

// Logger is the logging interface used throughout omapi-sync
type Logger = log.Interface

type requestFieldsKey struct{}

// Setup configures the default logger. A terminal gets the colored cli
// handler, anything else the plain text handler
func Setup(level string, w io.Writer) error {
	l, err := log.ParseLevel(level)
	if err != nil {
		return err
	}

	log.SetLevel(l)

	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		log.SetHandler(cli.New(w))
	} else {
		log.SetHandler(text.New(w))
	}

	return nil
}

// GetLogger returns a logger for the given component
func GetLogger(component string) Logger {
	return log.WithField("component", component)
}

// WithFields returns a new context that carries fields in addition to
// the ones already stored in parent
func WithFields(parent context.Context, fields log.Fields) context.Context {
	merged := log.Fields{}
	if existing, ok := parent.Value(requestFieldsKey{}).(log.Fields); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}

	for k, v := range fields {
		merged[k] = v
	}

	return context.WithValue(parent, requestFieldsKey{}, merged)
}

// AddRequestFields returns a new context.Context that has the fields of
// the given request assigned
func AddRequestFields(parent context.Context, req *dhcpv4.DHCPv4) context.Context {
	fields := log.Fields{
		"hwaddr":  req.ClientHWAddr.String(),
		"xid":     req.TransactionID,
		"msgtype": req.MessageType().String(),
	}

	if req.HostName() != "" {
		fields["hostname"] = req.HostName()
	}

	return WithFields(parent, fields)
}

// With returns l enriched with the fields stored in ctx
func With(ctx context.Context, l Logger) Logger {
	if fields, ok := ctx.Value(requestFieldsKey{}).(log.Fields); ok && len(fields) > 0 {
		return l.WithFields(fields)
	}

	return l
}
