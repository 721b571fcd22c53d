package prometheus

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/caddyserver/caddy"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/nextdhcp/omapi-sync/plugin/test"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		input string
		addr  string
		path  string
		err   bool
	}{
		{"prometheus", defaultAddr, defaultPath, false},
		{"prometheus 127.0.0.1:9999", "127.0.0.1:9999", defaultPath, false},
		{"prometheus {\naddress 127.0.0.1:9998\npath /m\n}", "127.0.0.1:9998", "/m", false},
		{"prometheus a b", "", "", true},
		{"prometheus {\npath\n}", "", "", true},
		{"prometheus {\nlabel a b\n}", "", "", true},
	}

	for i, c := range cases {
		ctrl := caddy.NewTestController("dhcpv4", c.input)
		require.True(t, ctrl.Next())

		m, err := parse(ctrl)
		if c.err {
			assert.Error(t, err, "case %d", i)
			continue
		}

		require.NoError(t, err, "case %d", i)
		assert.Equal(t, c.addr, m.addr, "case %d", i)
		assert.Equal(t, c.path, m.path, "case %d", i)
	}
}

func TestServeMetrics(t *testing.T) {
	ctrl := caddy.NewTestController("dhcpv4", "prometheus 127.0.0.1:0")
	require.True(t, ctrl.Next())

	p, err := setupPrometheus(ctrl)
	require.NoError(t, err)

	h := p(test.AckHandler(net.IP{10, 0, 0, 5})).(*Plugin)
	t.Cleanup(func() { h.Metrics.stop() })
	assert.Equal(t, "prometheus", h.Name())

	req, err := dhcpv4.New(dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest))
	require.NoError(t, err)
	res, err := dhcpv4.NewReplyFromRequest(req)
	require.NoError(t, err)

	before := testutil.ToFloat64(requestCount.WithLabelValues("REQUEST", "ACK"))
	require.NoError(t, h.ServeDHCP(context.Background(), req, res))
	assert.Equal(t, before+1, testutil.ToFloat64(requestCount.WithLabelValues("REQUEST", "ACK")))

	resp, err := http.Get("http://" + h.Metrics.Addr() + defaultPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dhcp_request_count_total")
}
