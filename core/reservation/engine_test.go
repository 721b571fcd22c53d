package reservation

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/nextdhcp/omapi-sync/pkg/omapi"
	"github.com/nextdhcp/omapi-sync/pkg/omapi/omapitest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = omapi.Key{
	Name:      "omapi_key",
	Algorithm: omapi.HMACMD5,
	Secret:    "c2VjcmV0",
}

var testMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

type fixture struct {
	srv     *omapitest.Server
	rt      *omapi.Runtime
	engine  *Engine
	logs    *memory.Handler
	metrics *Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	f := &fixture{
		srv:  omapitest.NewServer(t, testKey),
		rt:   omapi.Initialize(),
		logs: memory.New(),
	}
	t.Cleanup(f.rt.Shutdown)

	var err error
	f.metrics, err = NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	logger := &log.Logger{Handler: f.logs, Level: log.DebugLevel}
	opts = append([]Option{WithLogger(logger), WithMetrics(f.metrics), WithTimeout(5 * time.Second)}, opts...)
	f.engine = New(f.rt, opts...)

	return f
}

func (f *fixture) request(t *testing.T, hostname, ip string) Request {
	host, port, err := net.SplitHostPort(f.srv.Addr())
	require.NoError(t, err)

	req, err := FromFields(Fields{
		Server:    host,
		Port:      port,
		Hostname:  hostname,
		IP:        ip,
		MAC:       testMAC.String(),
		KeySecret: testKey.Secret,
		KeyName:   testKey.Name,
	})
	require.NoError(t, err)

	return req
}

func (f *fixture) reconcile(t *testing.T, hostname, ip string) (Outcome, error) {
	out, err := f.engine.Reconcile(context.Background(), f.request(t, hostname, ip))
	assert.Equal(t, 0, f.rt.Sessions(), "connection leaked")
	return out, err
}

func (f *fixture) warnings() []string {
	var msgs []string
	for _, e := range f.logs.Entries {
		if e.Level == log.WarnLevel {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

func TestReconcileCreatesMissingReservation(t *testing.T) {
	f := newFixture(t)

	out, err := f.reconcile(t, "h1", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, Success, out)

	assert.Equal(t, []omapitest.OpKind{omapitest.OpQuery, omapitest.OpQuery, omapitest.OpCreate}, f.srv.Kinds())

	ops := f.srv.Ops()
	mac, ok := ops[0].Fields.Get("hardware-address")
	require.True(t, ok)
	assert.Equal(t, []byte(testMAC), mac.Data)

	name, ok := ops[1].Fields.Get("name")
	require.True(t, ok)
	assert.Equal(t, "h1", name.Text())

	create := ops[2]
	assert.True(t, create.Exclusive)
	assert.Equal(t, []string{"name", "hardware-address", "hardware-type", "ip-address"}, create.Fields.Names())

	v, _ := create.Fields.Get("name")
	assert.Equal(t, "h1", v.Text())
	v, _ = create.Fields.Get("hardware-address")
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, v.Data)
	v, _ = create.Fields.Get("hardware-type")
	assert.Equal(t, []byte{0, 0, 0, 1}, v.Data)
	v, _ = create.Fields.Get("ip-address")
	assert.Equal(t, []byte{10, 0, 0, 5}, v.Data)
	assert.Equal(t, "10.0.0.5", v.IP().String())

	hosts := f.srv.Hosts()
	require.Len(t, hosts, 1)
	assert.Equal(t, "h1", hosts[0].Name)
	assert.Equal(t, testMAC, hosts[0].HardwareAddr)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.reconciles.WithLabelValues("success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.operations.WithLabelValues("query", "notfound")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.operations.WithLabelValues("create", "success")))
}

func TestReconcileUpToDate(t *testing.T) {
	f := newFixture(t)
	f.srv.AddHost(omapitest.Host{Name: "h1", HardwareAddr: testMAC, IP: net.ParseIP("10.0.0.5")})

	out, err := f.reconcile(t, "h1", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, NoOp, out)

	assert.Equal(t, []omapitest.OpKind{omapitest.OpQuery}, f.srv.Kinds())
	assert.Len(t, f.srv.Hosts(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.reconciles.WithLabelValues("noop")))
}

func TestReconcileReplacesOutdatedAddress(t *testing.T) {
	f := newFixture(t)
	handle := f.srv.AddHost(omapitest.Host{Name: "h1", HardwareAddr: testMAC, IP: net.ParseIP("10.0.0.9")})

	out, err := f.reconcile(t, "h1", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, Success, out)

	assert.Equal(t, []omapitest.OpKind{
		omapitest.OpQuery,
		omapitest.OpRemove,
		omapitest.OpQuery,
		omapitest.OpCreate,
	}, f.srv.Kinds())

	hosts := f.srv.Hosts()
	require.Len(t, hosts, 1)
	assert.NotEqual(t, handle, hosts[0].Handle)
	assert.True(t, hosts[0].IP.Equal(net.ParseIP("10.0.0.5")))
}

func TestReconcileRemovesStaleHostname(t *testing.T) {
	f := newFixture(t)
	f.srv.AddHost(omapitest.Host{
		Name:         "h1",
		HardwareAddr: net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		IP:           net.ParseIP("10.0.0.7"),
	})

	out, err := f.reconcile(t, "h1", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, Success, out)

	assert.Equal(t, []omapitest.OpKind{
		omapitest.OpQuery,
		omapitest.OpQuery,
		omapitest.OpRemove,
		omapitest.OpCreate,
	}, f.srv.Kinds())

	hosts := f.srv.Hosts()
	require.Len(t, hosts, 1)
	assert.Equal(t, testMAC, hosts[0].HardwareAddr)
}

func TestReconcileUnassignedAddress(t *testing.T) {
	t.Run("existing record", func(t *testing.T) {
		f := newFixture(t)
		f.srv.AddHost(omapitest.Host{Name: "h1", HardwareAddr: testMAC, IP: net.ParseIP("10.0.0.9")})

		out, err := f.reconcile(t, "h1", NoAddress)
		require.NoError(t, err)
		assert.Equal(t, Success, out)

		assert.Equal(t, []omapitest.OpKind{omapitest.OpQuery, omapitest.OpRemove}, f.srv.Kinds())
		assert.Empty(t, f.srv.Hosts())
	})

	t.Run("no record", func(t *testing.T) {
		f := newFixture(t)

		out, err := f.reconcile(t, "h1", NoAddress)
		require.NoError(t, err)
		assert.Equal(t, Success, out)

		assert.Equal(t, []omapitest.OpKind{omapitest.OpQuery}, f.srv.Kinds())
	})
}

func TestReconcilePrefixComparison(t *testing.T) {
	t.Run("prefix", func(t *testing.T) {
		f := newFixture(t)
		f.srv.AddHost(omapitest.Host{Name: "h1", HardwareAddr: testMAC, IP: net.ParseIP("10.0.0.12")})

		out, err := f.reconcile(t, "h1", "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, NoOp, out)
		assert.Equal(t, []omapitest.OpKind{omapitest.OpQuery}, f.srv.Kinds())
	})

	t.Run("exact", func(t *testing.T) {
		f := newFixture(t, WithCompare(CompareExact))
		f.srv.AddHost(omapitest.Host{Name: "h1", HardwareAddr: testMAC, IP: net.ParseIP("10.0.0.12")})

		out, err := f.reconcile(t, "h1", "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, Success, out)
		assert.Equal(t, []omapitest.OpKind{
			omapitest.OpQuery,
			omapitest.OpRemove,
			omapitest.OpQuery,
			omapitest.OpCreate,
		}, f.srv.Kinds())
	})
}

func TestReconcileRecordWithoutAddress(t *testing.T) {
	f := newFixture(t)
	f.srv.AddHost(omapitest.Host{Name: "h1", HardwareAddr: testMAC})

	out, err := f.reconcile(t, "h1", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, Success, out)
	assert.Equal(t, omapitest.OpRemove, f.srv.Kinds()[1])
}

func TestReconcileUnexpectedHardwareType(t *testing.T) {
	f := newFixture(t)
	f.srv.AddHost(omapitest.Host{Name: "h1", HardwareAddr: testMAC, HardwareType: 6, IP: net.ParseIP("10.0.0.5")})

	out, err := f.reconcile(t, "h1", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, NoOp, out)

	warnings := f.warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "hardware-type 6")
}

func TestReconcileInvalidInput(t *testing.T) {
	f := newFixture(t)
	valid := f.request(t, "h1", "10.0.0.5")

	cases := map[string]func(r *Request){
		"server":    func(r *Request) { r.Server = "" },
		"port":      func(r *Request) { r.Port = 0 },
		"key name":  func(r *Request) { r.KeyName = "" },
		"algorithm": func(r *Request) { r.KeyAlgorithm = omapi.AlgorithmUnknown },
		"secret":    func(r *Request) { r.KeySecret = "" },
		"hostname":  func(r *Request) { r.Hostname = "" },
		"ip":        func(r *Request) { r.IP = "" },
		"mac":       func(r *Request) { r.MAC = "" },
		"bad ip":    func(r *Request) { r.IP = "10.0.0" },
		"ipv6":      func(r *Request) { r.IP = "fe80::1" },
		"bad mac":   func(r *Request) { r.MAC = "aa:bb:cc" },
		"long mac":  func(r *Request) { r.MAC = "00:00:00:00:fe:80:00:00" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := valid
			mutate(&req)

			out, err := f.engine.Reconcile(context.Background(), req)
			assert.Equal(t, NoOp, out)

			var ie *InputError
			assert.ErrorAs(t, err, &ie)
		})
	}

	assert.Empty(t, f.srv.Ops())
	assert.Equal(t, 0, f.srv.Conns())
	assert.Equal(t, 0, f.rt.Sessions())
}

func TestReconcileConnectFailures(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		f := newFixture(t)
		req := f.request(t, "h1", "10.0.0.5")
		f.srv.Close()

		out, err := f.engine.Reconcile(context.Background(), req)
		assert.Equal(t, Failure, out)

		var ce *omapi.ConnectError
		assert.ErrorAs(t, err, &ce)
		assert.Equal(t, 0, f.rt.Sessions())
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.reconciles.WithLabelValues("error")))
	})

	t.Run("bad secret", func(t *testing.T) {
		f := newFixture(t)
		req := f.request(t, "h1", "10.0.0.5")
		req.KeyName = "unknown"

		out, err := f.engine.Reconcile(context.Background(), req)
		assert.Equal(t, Failure, out)

		var ae *omapi.AuthError
		assert.ErrorAs(t, err, &ae)
		assert.Equal(t, 0, f.rt.Sessions())
	})
}

func TestReconcileFailures(t *testing.T) {
	outdated := omapitest.Host{Name: "h1", HardwareAddr: testMAC, IP: net.ParseIP("10.0.0.9")}

	cases := []struct {
		name    string
		host    *omapitest.Host
		setup   func(srv *omapitest.Server)
		kinds   []omapitest.OpKind
		session bool
		text    string
	}{
		{
			name:  "lookup rejected",
			setup: func(srv *omapitest.Server) { srv.Fail(omapitest.OpQuery, omapi.ResultNoPermission) },
			kinds: []omapitest.OpKind{omapitest.OpQuery},
			text:  "server rejected query host",
		},
		{
			name:    "lookup dropped",
			setup:   func(srv *omapitest.Server) { srv.Drop(omapitest.OpQuery) },
			kinds:   []omapitest.OpKind{omapitest.OpQuery},
			session: true,
			text:    "connection failed",
		},
		{
			name:  "remove rejected",
			host:  &outdated,
			setup: func(srv *omapitest.Server) { srv.Fail(omapitest.OpRemove, omapi.ResultNoPermission) },
			kinds: []omapitest.OpKind{omapitest.OpQuery, omapitest.OpRemove},
			text:  "server rejected remove host",
		},
		{
			name:    "remove dropped",
			host:    &outdated,
			setup:   func(srv *omapitest.Server) { srv.Drop(omapitest.OpRemove) },
			kinds:   []omapitest.OpKind{omapitest.OpQuery, omapitest.OpRemove},
			session: true,
			text:    "connection failed",
		},
		{
			name:  "create rejected",
			setup: func(srv *omapitest.Server) { srv.Fail(omapitest.OpCreate, omapi.ResultExists) },
			kinds: []omapitest.OpKind{omapitest.OpQuery, omapitest.OpQuery, omapitest.OpCreate},
			text:  "server rejected create|exclusive host",
		},
		{
			name:    "create dropped",
			setup:   func(srv *omapitest.Server) { srv.Drop(omapitest.OpCreate) },
			kinds:   []omapitest.OpKind{omapitest.OpQuery, omapitest.OpQuery, omapitest.OpCreate},
			session: true,
			text:    "connection failed",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			if c.host != nil {
				f.srv.AddHost(*c.host)
			}
			c.setup(f.srv)

			out, err := f.reconcile(t, "h1", "10.0.0.5")
			assert.Equal(t, Failure, out)
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.text)
			assert.Equal(t, c.session, omapi.IsSessionError(err))
			assert.Equal(t, c.kinds, f.srv.Kinds())
		})
	}
}

func TestReconcileStaleHostnameIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.srv.AddHost(omapitest.Host{
		Name:         "h1",
		HardwareAddr: net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		IP:           net.ParseIP("10.0.0.7"),
	})
	f.srv.Fail(omapitest.OpRemove, omapi.ResultNoPermission)

	out, err := f.reconcile(t, "h1", "10.0.0.5")

	// the stale record still holds the name so the create is refused
	assert.Equal(t, Failure, out)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "create reservation"), err.Error())
	assert.True(t, omapi.IsExists(err))

	kinds := f.srv.Kinds()
	assert.Equal(t, []omapitest.OpKind{
		omapitest.OpQuery,
		omapitest.OpQuery,
		omapitest.OpRemove,
		omapitest.OpCreate,
	}, kinds)

	warnings := f.warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "remove stale hostname failed")
}

func TestReconcileStaleHostnameConnectionFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.srv.AddHost(omapitest.Host{
		Name:         "h1",
		HardwareAddr: net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		IP:           net.ParseIP("10.0.0.7"),
	})
	f.srv.Drop(omapitest.OpRemove)

	out, err := f.reconcile(t, "h1", "10.0.0.5")
	assert.Equal(t, Failure, out)
	assert.True(t, omapi.IsSessionError(err))
	assert.Equal(t, []omapitest.OpKind{omapitest.OpQuery, omapitest.OpQuery, omapitest.OpRemove}, f.srv.Kinds())
}

func TestReconcileRepeatedInvocationsDoNotLeak(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		f.reconcile(t, "h1", "10.0.0.5")
	}

	f.srv.Drop(omapitest.OpQuery)
	f.reconcile(t, "h1", "10.0.0.6")

	assert.Equal(t, 0, f.rt.Sessions())
	assert.Eventually(t, func() bool { return f.srv.Conns() == 0 }, time.Second, 10*time.Millisecond)
}

func TestReconcileCanceledContext(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, "h1", "10.0.0.5")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := f.engine.Reconcile(ctx, req)
	assert.Equal(t, Failure, out)
	assert.Error(t, err)
	assert.Equal(t, 0, f.rt.Sessions())
}

func TestNewMetricsSharesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	m1, err := NewMetrics(reg)
	require.NoError(t, err)
	m2, err := NewMetrics(reg)
	require.NoError(t, err)

	m1.observe(Success, time.Millisecond)
	m2.observe(Success, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m1.reconciles.WithLabelValues("success")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.observe(NoOp, 0)
		nilMetrics.operation("query", "success")
	})
}
