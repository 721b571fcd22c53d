package prometheus

import (
	"context"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// Name returns "prometheus" and implements plugin.Handler
func (p *Plugin) Name() string {
	return "prometheus"
}

// ServeDHCP counts the request once the rest of the chain handled it
func (p *Plugin) ServeDHCP(ctx context.Context, req, res *dhcpv4.DHCPv4) error {
	err := p.Next.ServeDHCP(ctx, req, res)

	responseType := "none"
	if res != nil {
		responseType = res.MessageType().String()
	}

	requestCount.WithLabelValues(req.MessageType().String(), responseType).Inc()
	return err
}
