package omapi

import (
	"sync"

	"github.com/caddyserver/caddy"
	corelog "github.com/nextdhcp/omapi-sync/core/log"
	"github.com/nextdhcp/omapi-sync/core/matcher"
	"github.com/nextdhcp/omapi-sync/core/reservation"
	"github.com/nextdhcp/omapi-sync/internal/config"
	"github.com/nextdhcp/omapi-sync/pkg/omapi"
	"github.com/nextdhcp/omapi-sync/plugin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runtimeMu sync.Mutex
	runtime   *omapi.Runtime
)

func init() {
	plugin.Register("omapi", setupOMAPI)
}

// SetRuntime sets the runtime used by omapi directives parsed afterwards.
// If it is never called a runtime is initialized on first use
func SetRuntime(rt *omapi.Runtime) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	runtime = rt
}

// Shutdown closes all OMAPI connections opened by the plugin
func Shutdown() {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtime != nil {
		runtime.Shutdown()
		runtime = nil
	}
}

func getRuntime() *omapi.Runtime {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtime == nil {
		runtime = omapi.Initialize()
	}
	return runtime
}

func setupOMAPI(c *caddy.Controller) (plugin.Plugin, error) {
	cond, err := matcher.SetupMatcherRemainingArgs(c)
	if err != nil {
		return nil, c.Err(err.Error())
	}

	srv, err := config.ParseBlock(&c.Dispenser)
	if err != nil {
		return nil, err
	}

	if err := srv.Validate(); err != nil {
		return nil, c.Err(err.Error())
	}

	opts, err := srv.EngineOptions()
	if err != nil {
		return nil, c.Err(err.Error())
	}

	metrics, err := reservation.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}

	l := corelog.GetLogger("omapi")
	opts = append(opts, reservation.WithLogger(l), reservation.WithMetrics(metrics))
	engine := reservation.New(getRuntime(), opts...)

	return func(next plugin.Handler) plugin.Handler {
		return &omapiPlugin{
			next:   next,
			cond:   cond,
			server: srv,
			engine: engine,
			l:      l,
		}
	}, nil
}
