package omapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// aLongTimeAgo is used to unblock pending I/O when a context is canceled
var aLongTimeAgo = time.Unix(1, 0)

// Conn is an authenticated OMAPI connection. It is not safe for concurrent
// use; operations must be submitted and waited for one after another
type Conn struct {
	rt   *Runtime
	addr string
	nc   net.Conn
	r    *bufio.Reader
	auth *Authenticator

	mu      sync.Mutex
	pending *Object
	broken  error
	objects int
	lastID  uint32

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newConn(rt *Runtime, addr string, nc net.Conn, auth *Authenticator) *Conn {
	return &Conn{
		rt:     rt,
		addr:   addr,
		nc:     nc,
		r:      bufio.NewReader(nc),
		auth:   auth,
		lastID: rand.Uint32(),
	}
}

// Addr returns the address of the server
func (c *Conn) Addr() string {
	return c.addr
}

// Objects returns the number of objects created on c that have not been
// released yet
func (c *Conn) Objects() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.objects
}

// Close closes the connection and destroys the authenticator. It is safe
// to call Close more than once
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.nc.Close()

		c.mu.Lock()
		c.auth.destroy()
		c.pending = nil
		if c.broken == nil {
			c.broken = ErrClosed
		}
		c.mu.Unlock()

		if c.rt != nil {
			c.rt.remove(c)
		}
	})

	return c.closeErr
}

// NewObject returns a new local handle for an object of the given type
func (c *Conn) NewObject(typ string) (*Object, error) {
	if typ == "" {
		return nil, protocolErrorf("new object", "object type must not be empty")
	}

	if c.closed.Load() {
		return nil, &SessionError{Op: "new object", Err: ErrClosed}
	}

	c.mu.Lock()
	c.objects++
	c.mu.Unlock()

	return &Object{
		conn:   c,
		typ:    typ,
		schema: schemas[typ],
	}, nil
}

func (c *Conn) authenticate(ctx context.Context) error {
	stop := c.watch(ctx)
	defer stop()

	rw := struct {
		io.Reader
		io.Writer
	}{c.r, c.nc}

	if err := Handshake(rw); err != nil {
		return &ConnectError{Addr: c.addr, Err: contextErr(ctx, err)}
	}

	msg := &Message{Opcode: OpOpen}
	msg.Message.Set("type", String("authenticator"))
	msg.Object = c.auth.Fields()

	id, err := c.send(msg)
	if err != nil {
		return &ConnectError{Addr: c.addr, Err: contextErr(ctx, err)}
	}

	resp, err := c.receive(id)
	if err != nil {
		return &ConnectError{Addr: c.addr, Err: contextErr(ctx, err)}
	}

	if resp.Opcode != OpUpdate {
		return &AuthError{KeyName: c.auth.Name(), Err: fmt.Errorf("server refused key: %s", resp.Status().Text())}
	}

	if resp.Handle == 0 {
		return &AuthError{KeyName: c.auth.Name(), Err: errors.New("server returned an invalid authenticator handle")}
	}

	c.auth.Bind(resp.Handle)
	return nil
}

func (c *Conn) nextID() uint32 {
	c.lastID++
	if c.lastID == 0 {
		c.lastID++
	}
	return c.lastID
}

// send signs (once authenticated) and writes msg. It returns the
// transaction ID assigned to msg
func (c *Conn) send(msg *Message) (uint32, error) {
	msg.ID = c.nextID()

	if c.auth.ID() != 0 {
		if err := msg.Sign(c.auth); err != nil {
			return 0, err
		}
	}

	return msg.ID, WriteMessage(c.nc, msg)
}

// receive reads the next message and checks that it answers id and
// carries a valid signature
func (c *Conn) receive(id uint32) (*Message, error) {
	m, err := ReadMessage(c.r)
	if err != nil {
		return nil, err
	}

	if m.RID != id {
		return nil, fmt.Errorf("response %d does not match request %d", m.RID, id)
	}

	switch m.AuthID {
	case 0:
		if len(m.Signature) != 0 {
			return nil, errors.New("unsigned response carries a signature")
		}
	case c.auth.ID():
		if !m.Verify(c.auth) {
			return nil, errors.New("bad response signature")
		}
	default:
		return nil, fmt.Errorf("response signed by unknown authenticator %d", m.AuthID)
	}

	return m, nil
}

// watch applies the deadline of ctx to the socket and aborts pending
// I/O if ctx is canceled. The returned function must be called once
// the I/O finished
func (c *Conn) watch(ctx context.Context) func() {
	if d, ok := ctx.Deadline(); ok {
		c.nc.SetDeadline(d)
	} else {
		c.nc.SetDeadline(time.Time{})
	}

	if ctx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.nc.SetDeadline(aLongTimeAgo)
		case <-done:
		}
	}()

	return func() { close(done) }
}

func (c *Conn) submit(ctx context.Context, o *Object, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return &SessionError{Op: o.op, Err: c.broken}
	}

	if c.pending != nil {
		return protocolErrorf(o.op, "another operation is still in progress")
	}

	if err := ctx.Err(); err != nil {
		return &SessionError{Op: o.op, Err: err}
	}

	stop := c.watch(ctx)
	defer stop()

	id, err := c.send(msg)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			return err
		}

		c.broken = err
		return &SessionError{Op: o.op, Err: contextErr(ctx, err)}
	}

	o.pendingID = id
	c.pending = o
	return nil
}

func (c *Conn) wait(ctx context.Context, o *Object) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != o {
		if c.broken != nil {
			return nil, &SessionError{Op: o.op, Err: c.broken}
		}
		return nil, protocolErrorf(o.op, "object has no operation in progress")
	}
	c.pending = nil

	if c.broken != nil {
		return nil, &SessionError{Op: o.op, Err: c.broken}
	}

	if err := ctx.Err(); err != nil {
		c.broken = err
		return nil, &SessionError{Op: o.op, Err: err}
	}

	stop := c.watch(ctx)
	defer stop()

	m, err := c.receive(o.pendingID)
	if err != nil {
		c.broken = err
		return nil, &SessionError{Op: o.op, Err: contextErr(ctx, err)}
	}

	return m, nil
}

// release drops o from the connection. If o still has an operation in
// flight the response can no longer be matched and the connection is
// marked broken
func (c *Conn) release(o *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.objects--
	if c.pending == o {
		c.pending = nil
		if c.broken == nil {
			c.broken = errors.New("object released with an operation in progress")
		}
	}
}

func (c *Conn) markBroken(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken == nil {
		c.broken = err
	}
}

func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
