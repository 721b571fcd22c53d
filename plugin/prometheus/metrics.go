package prometheus

import (
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultPath = "/metrics"
	defaultAddr = "localhost:9180"
)

var (
	requestCount *prometheus.CounterVec
	once         sync.Once
)

// Metrics serves the metrics of the default registry, including the
// reconciliation metrics of the omapi plugin, over HTTP
type Metrics struct {
	addr string // where to we listen
	path string

	ln  net.Listener
	srv *http.Server
}

// NewMetrics create a new Metrics
func NewMetrics(path, addr string) *Metrics {
	p := path
	if path == "" {
		p = defaultPath
	}
	a := addr
	if addr == "" {
		a = defaultAddr
	}
	return &Metrics{
		path: p,
		addr: a,
	}
}

func define() {
	once.Do(func() {
		requestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhcp_request_count_total",
			Help: "Counter of DHCP requests passed to the omapi-sync handlers.",
		}, []string{"request_type", "response_type"})

		prometheus.MustRegister(requestCount)
	})
}

// Addr returns the address the metrics are served on. It is only valid
// after the metrics have been started
func (m *Metrics) Addr() string {
	if m.ln == nil {
		return m.addr
	}
	return m.ln.Addr().String()
}

func (m *Metrics) start() error {
	define()

	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return err
	}
	m.ln = ln

	mux := http.NewServeMux()
	mux.Handle(m.path, promhttp.Handler())
	m.srv = &http.Server{Handler: mux}

	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[ERROR] Starting handler: %v", err)
		}
	}()

	return nil
}

func (m *Metrics) stop() error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Close()
}
