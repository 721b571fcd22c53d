package omapi

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/caddyserver/caddy"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/nextdhcp/omapi-sync/core/reservation"
	"github.com/nextdhcp/omapi-sync/pkg/omapi"
	"github.com/nextdhcp/omapi-sync/pkg/omapi/omapitest"
	"github.com/nextdhcp/omapi-sync/plugin"
	"github.com/nextdhcp/omapi-sync/plugin/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = omapi.Key{Name: "omapi_key", Algorithm: omapi.HMACMD5, Secret: "c2VjcmV0"}

func TestSetupOMAPI(t *testing.T) {
	cases := []struct {
		input string
		err   bool
	}{
		{"omapi {\nserver 127.0.0.1\nkey omapi_key c2VjcmV0\n}", false},
		{"omapi msgtype == 'REQUEST' {\nserver 127.0.0.1 7912\nkey omapi_key c2VjcmV0 hmac-md5\ncompare exact\ntimeout 2s\n}", false},
		{"omapi {\nserver 127.0.0.1\n}", true},
		{"omapi {\nkey omapi_key c2VjcmV0\n}", true},
		{"omapi {\nserver 127.0.0.1\nkey omapi_key not-base64!\n}", true},
		{"omapi == {\nserver 127.0.0.1\nkey omapi_key c2VjcmV0\n}", true},
		{"omapi {\nserver 127.0.0.1\nkey omapi_key c2VjcmV0\nretries 3\n}", true},
	}

	for i, c := range cases {
		ctrl := caddy.NewTestController("dhcpv4", c.input)
		require.True(t, ctrl.Next())

		p, err := setupOMAPI(ctrl)
		if c.err {
			assert.Error(t, err, "case %d", i)
			continue
		}

		require.NoError(t, err, "case %d", i)
		h, ok := p(test.NoOpHandler).(*omapiPlugin)
		require.True(t, ok, "case %d", i)
		assert.Equal(t, "omapi", h.Name())
		assert.Equal(t, test.NoOpHandler.Name(), h.next.Name())
	}
}

func TestSetupCondition(t *testing.T) {
	ctrl := caddy.NewTestController("dhcpv4", "omapi hostname == 'h1' {\nserver 127.0.0.1\nkey omapi_key c2VjcmV0\ncompare exact\n}")
	require.True(t, ctrl.Next())

	p, err := setupOMAPI(ctrl)
	require.NoError(t, err)

	h := p(test.NoOpHandler).(*omapiPlugin)
	assert.Equal(t, "hostname == 'h1'", h.cond.String())
	assert.Equal(t, "exact", h.server.Compare)
}

func TestLoadAndReconcile(t *testing.T) {
	srv := omapitest.NewServer(t, testKey)
	host, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)

	rt := omapi.Initialize()
	SetRuntime(rt)
	t.Cleanup(Shutdown)

	input := fmt.Sprintf("omapi {\n  server %s %s\n  key %s %s\n  timeout 5s\n}\n", host, port, testKey.Name, testKey.Secret)
	chain, err := plugin.Load("Testfile", strings.NewReader(input), test.AckHandler(net.IP{10, 0, 0, 5}))
	require.NoError(t, err)

	p, ok := chain.(*omapiPlugin)
	require.True(t, ok)

	req, err := dhcpv4.New(
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithHwAddr(testMAC),
		dhcpv4.WithOption(dhcpv4.OptHostName("h1")),
	)
	require.NoError(t, err)
	res, err := dhcpv4.NewReplyFromRequest(req)
	require.NoError(t, err)
	require.NoError(t, chain.ServeDHCP(context.Background(), req, res))
	p.Wait()

	hosts := srv.Hosts()
	require.Len(t, hosts, 1)
	assert.Equal(t, "h1", hosts[0].Name)
	assert.Equal(t, testMAC, hosts[0].HardwareAddr)
	assert.True(t, hosts[0].IP.Equal(net.IP{10, 0, 0, 5}))

	// a second ACK for the same lease is a no-op
	require.NoError(t, chain.ServeDHCP(context.Background(), req, res))
	p.Wait()
	assert.Equal(t, []omapitest.OpKind{omapitest.OpQuery, omapitest.OpQuery, omapitest.OpCreate, omapitest.OpQuery}, srv.Kinds())

	// releasing the lease removes the reservation
	rel, err := dhcpv4.New(
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRelease),
		dhcpv4.WithHwAddr(testMAC),
		dhcpv4.WithOption(dhcpv4.OptHostName("h1")),
	)
	require.NoError(t, err)
	require.NoError(t, chain.ServeDHCP(context.Background(), rel, nil))
	p.Wait()

	assert.Empty(t, srv.Hosts())
	kinds := srv.Kinds()
	require.Len(t, kinds, 6)
	assert.Equal(t, []omapitest.OpKind{omapitest.OpQuery, omapitest.OpRemove}, kinds[4:])
	assert.Eventually(t, func() bool { return rt.Sessions() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEngineRejectsIncompleteRequest(t *testing.T) {
	var r reconciler = reservation.New(omapi.Initialize())
	out, err := r.Reconcile(context.Background(), reservation.Request{})
	assert.Equal(t, reservation.NoOp, out)
	assert.Error(t, err)
}
