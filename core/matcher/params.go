package matcher

import (
	"fmt"
	"net"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// Params exposes a request/response pair to matcher expressions
type Params struct {
	Request  *dhcpv4.DHCPv4
	Response *dhcpv4.DHCPv4
}

// Get implements govaluate.Parameters
func (p *Params) Get(name string) (interface{}, error) {
	switch name {
	case "request":
		return p.Request, nil
	case "response":
		return p.Response, nil
	case "msgtype":
		return messageType(p.Request), nil
	case "restype":
		return messageType(p.Response), nil
	}

	if p.Request == nil {
		return nil, fmt.Errorf("no request available for %q", name)
	}

	switch name {
	case "hwaddr":
		return p.Request.ClientHWAddr.String(), nil
	case "hostname":
		return p.Request.HostName(), nil
	case "clientip":
		return ipString(p.Request.ClientIPAddr), nil
	case "requestedip":
		return ipString(p.Request.RequestedIPAddress()), nil
	case "yourip":
		if p.Response == nil {
			return "", nil
		}
		return ipString(p.Response.YourIPAddr), nil
	}

	return nil, fmt.Errorf("unknown parameter %q", name)
}

func messageType(msg *dhcpv4.DHCPv4) string {
	if msg == nil {
		return ""
	}
	return msg.MessageType().String()
}

func ipString(ip net.IP) string {
	if ip == nil || ip.IsUnspecified() {
		return ""
	}
	return ip.String()
}
