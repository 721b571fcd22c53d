package omapi

import (
	"context"
	"net"
	"sync"

	"github.com/apex/log"
	"github.com/insomniacslk/dhcp/dhcpv4"
	corelog "github.com/nextdhcp/omapi-sync/core/log"
	"github.com/nextdhcp/omapi-sync/core/matcher"
	"github.com/nextdhcp/omapi-sync/core/reservation"
	"github.com/nextdhcp/omapi-sync/internal/config"
	"github.com/nextdhcp/omapi-sync/plugin"
)

type (
	// reconciler is implemented by *reservation.Engine
	reconciler interface {
		Reconcile(ctx context.Context, req reservation.Request) (reservation.Outcome, error)
	}

	// omapiPlugin keeps the host reservations of an OMAPI server in sync
	// with the leases handed out by the handler chain. It implements the
	// plugin.Handler interface
	omapiPlugin struct {
		next   plugin.Handler
		cond   *matcher.Matcher
		server config.Server
		engine reconciler
		l      corelog.Logger

		// wg tracks reconciliations running in the background
		wg sync.WaitGroup
	}
)

// Name returns "omapi" and implements plugin.Handler
func (p *omapiPlugin) Name() string {
	return "omapi"
}

// ServeDHCP lets the handler chain build the response and reconciles the
// reservation of the client in the background
func (p *omapiPlugin) ServeDHCP(ctx context.Context, req, res *dhcpv4.DHCPv4) error {
	if err := p.next.ServeDHCP(ctx, req, res); err != nil {
		return err
	}

	l := corelog.With(corelog.AddRequestFields(ctx, req), p.l)

	hostname, ip, ok := target(req, res)
	if !ok {
		return nil
	}

	if hostname == "" {
		l.Debug("client did not send a hostname, skipping reservation")
		return nil
	}

	matched, err := p.cond.Match(ctx, req, res)
	if err != nil {
		l.Warnf("failed to evaluate condition: %s", err.Error())
		return nil
	}
	if !matched {
		return nil
	}

	r, err := p.server.Request(hostname, ip, req.ClientHWAddr.String())
	if err != nil {
		l.Warnf("cannot reconcile reservation: %s", err.Error())
		return nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		// the request context ends once the response has been sent
		outcome, err := p.engine.Reconcile(context.Background(), r)
		if err != nil {
			l.WithFields(log.Fields{"ip": ip}).Errorf("failed to reconcile reservation: %s", err.Error())
			return
		}

		l.WithFields(log.Fields{"ip": ip}).Debugf("reservation %s", outcome)
	}()

	return nil
}

// Wait blocks until all background reconciliations finished
func (p *omapiPlugin) Wait() {
	p.wg.Wait()
}

// target returns the hostname and address to reserve for the client.
// A release removes the reservation of the client
func target(req, res *dhcpv4.DHCPv4) (string, string, bool) {
	switch {
	case req.MessageType() == dhcpv4.MessageTypeRelease:
		return req.HostName(), reservation.NoAddress, true

	case res != nil && res.MessageType() == dhcpv4.MessageTypeAck:
		ip := res.YourIPAddr.To4()
		if ip == nil || ip.Equal(net.IPv4zero) {
			return "", "", false
		}

		hostname := req.HostName()
		if hostname == "" {
			hostname = res.HostName()
		}

		return hostname, ip.String(), true
	}

	return "", "", false
}
