package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	corelog "github.com/nextdhcp/omapi-sync/core/log"
	"github.com/nextdhcp/omapi-sync/pkg/omapi"
)

// hostType is the OMAPI object type of static reservations
const hostType = "host"

// ethernet is the hardware-type value of ethernet addresses
const ethernet = 1

type (
	// Engine reconciles the host reservations of an OMAPI server. An Engine
	// may be used by multiple goroutines; every call to Reconcile opens its
	// own connection
	Engine struct {
		rt      *omapi.Runtime
		compare CompareMode
		logger  corelog.Logger
		metrics *Metrics
		timeout time.Duration
	}

	// Option configures an Engine
	Option func(*Engine)
)

// WithCompare sets how the stored address is compared with the requested one
func WithCompare(m CompareMode) Option {
	return func(e *Engine) { e.compare = m }
}

// WithLogger sets the logger used for reconciliations
func WithLogger(l corelog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics enables metric collection
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTimeout bounds the duration of a single reconciliation. Zero disables
// the limit
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// New returns an engine that opens its connections using rt
func New(rt *omapi.Runtime, opts ...Option) *Engine {
	e := &Engine{
		rt:      rt,
		compare: ComparePrefix,
		logger:  corelog.GetLogger("reservation"),
	}

	for _, fn := range opts {
		fn(e)
	}

	return e
}

// Reconcile makes sure the server holds a reservation matching req. Invalid
// requests return NoOp together with an *InputError and never touch the
// network. A Failure outcome is always accompanied by an error
func (e *Engine) Reconcile(ctx context.Context, req Request) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return NoOp, err
	}

	t, _ := req.target()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	r := &run{
		engine: e,
		req:    req,
		target: t,
		logger: e.logger.WithFields(log.Fields{
			"server":   req.Addr(),
			"hostname": req.Hostname,
			"ip":       req.IP,
			"mac":      t.mac.String(),
		}),
	}

	start := time.Now()
	outcome, err := r.exec(ctx)
	e.metrics.observe(outcome, time.Since(start))

	if err != nil {
		r.logger.WithError(err).Error("reconciliation failed")
	} else {
		r.logger.Infof("reconciliation finished: %s", outcome)
	}

	return outcome, err
}

// run is the state of a single reconciliation
type run struct {
	engine *Engine
	req    Request
	target target
	logger corelog.Logger

	conn    *omapi.Conn
	removed bool
}

func (r *run) exec(ctx context.Context) (Outcome, error) {
	defer r.teardown()

	for _, s := range steps {
		outcome, done, err := s.run(r, ctx)
		if err != nil {
			if s.policy == continueOnFailure && !omapi.IsSessionError(err) && isRemote(err) {
				r.logger.WithError(err).Warnf("%s failed, continuing", s.name)
				continue
			}
			return Failure, fmt.Errorf("%s: %w", s.name, err)
		}

		if done {
			return outcome, nil
		}
	}

	return Failure, errors.New("reconciliation ended without an outcome")
}

func (r *run) teardown() {
	if r.conn == nil {
		return
	}

	if err := r.conn.Close(); err != nil {
		r.logger.WithError(err).Debug("failed to close connection")
	}
	r.conn = nil
}

func (r *run) connect(ctx context.Context) (Outcome, bool, error) {
	conn, err := r.engine.rt.Dial(ctx, r.req.Addr(), r.req.Key())
	if err != nil {
		return Failure, true, err
	}

	r.conn = conn
	r.logger.Debug("connected")
	return NoOp, false, nil
}

func (r *run) lookupByMAC(ctx context.Context) (Outcome, bool, error) {
	obj, err := r.conn.NewObject(hostType)
	if err != nil {
		return Failure, true, err
	}
	defer obj.Release()

	if err := obj.SetValue("hardware-address", omapi.HardwareAddr(r.target.mac)); err != nil {
		return Failure, true, err
	}

	if err := r.do(ctx, obj, omapi.Query); err != nil {
		if omapi.IsNotFound(err) {
			r.logger.Debug("no reservation for hardware address")
			return NoOp, false, nil
		}
		return Failure, true, err
	}

	if v, ok := obj.Value("hardware-type"); ok {
		if hwtype, ok := v.Uint(); ok && hwtype != ethernet {
			r.logger.Warnf("existing reservation has hardware-type %d, expected %d", hwtype, ethernet)
		}
	}

	var name, stored string
	if v, ok := obj.Value("name"); ok {
		name = v.Text()
	}
	if v, ok := obj.Value("ip-address"); ok {
		if ip := v.IP(); ip != nil {
			stored = ip.String()
		}
	}

	l := r.logger.WithFields(log.Fields{
		"existing_name": name,
		"existing_ip":   stored,
	})

	// A record without ip-address is removed as well. Keeping it would make
	// the exclusive create below fail on the hardware address
	if stored != "" && r.engine.compare.Matches(stored, r.req.IP) {
		l.Info("reservation is up to date")
		return NoOp, true, nil
	}

	l.Info("removing outdated reservation")
	if err := r.do(ctx, obj, omapi.Remove); err != nil {
		return Failure, true, err
	}

	r.removed = true
	return NoOp, false, nil
}

func (r *run) guardUnassigned(_ context.Context) (Outcome, bool, error) {
	if !r.req.Unassigned() {
		return NoOp, false, nil
	}

	if r.removed {
		r.logger.Info("no address to assign, reservation removed")
	} else {
		r.logger.Info("no address to assign")
	}
	return Success, true, nil
}

func (r *run) removeStaleName(ctx context.Context) (Outcome, bool, error) {
	obj, err := r.conn.NewObject(hostType)
	if err != nil {
		return Failure, true, err
	}
	defer obj.Release()

	if err := obj.SetString("name", r.req.Hostname); err != nil {
		return Failure, true, err
	}

	if err := r.do(ctx, obj, omapi.Query); err != nil {
		if omapi.IsNotFound(err) {
			r.logger.Debug("no reservation for hostname")
			return NoOp, false, nil
		}
		return Failure, true, err
	}

	r.logger.Info("removing reservation holding the hostname")
	if err := r.do(ctx, obj, omapi.Remove); err != nil {
		return Failure, true, err
	}

	return NoOp, false, nil
}

func (r *run) create(ctx context.Context) (Outcome, bool, error) {
	obj, err := r.conn.NewObject(hostType)
	if err != nil {
		return Failure, true, err
	}
	defer obj.Release()

	if err := obj.SetString("name", r.req.Hostname); err != nil {
		return Failure, true, err
	}
	if err := obj.SetValue("hardware-address", omapi.HardwareAddr(r.target.mac)); err != nil {
		return Failure, true, err
	}
	if err := obj.SetInt("hardware-type", ethernet); err != nil {
		return Failure, true, err
	}
	if err := obj.SetIP("ip-address", r.target.ip); err != nil {
		return Failure, true, err
	}

	if err := r.do(ctx, obj, omapi.Create|omapi.Exclusive); err != nil {
		return Failure, true, err
	}

	r.logger.Info("reservation created")
	return Success, true, nil
}

// do submits obj and waits for the server to complete the operation. Failed
// operations are returned as *omapi.RemoteError
func (r *run) do(ctx context.Context, obj *omapi.Object, mode omapi.Mode) error {
	op := mode.String() + " " + obj.Type()
	label := operationLabel(mode)

	if err := obj.Submit(ctx, mode); err != nil {
		r.engine.metrics.operation(label, "failed")
		return err
	}

	st, err := obj.Wait(ctx)
	if err != nil {
		r.engine.metrics.operation(label, "failed")
		return err
	}

	r.engine.metrics.operation(label, resultLabel(st))
	return st.Err(op)
}

func operationLabel(mode omapi.Mode) string {
	switch {
	case mode == omapi.Query:
		return "query"
	case mode&omapi.Create != 0:
		return "create"
	case mode&omapi.Remove != 0:
		return "remove"
	}
	return mode.String()
}

func resultLabel(st omapi.Status) string {
	switch {
	case st.OK():
		return "success"
	case st.Result == omapi.ResultNotFound:
		return "notfound"
	case st.Result == omapi.ResultExists:
		return "exists"
	}
	return "rejected"
}

func isRemote(err error) bool {
	var re *omapi.RemoteError
	return errors.As(err, &re)
}
