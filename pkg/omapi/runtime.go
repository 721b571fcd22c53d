package omapi

import (
	"context"
	"net"
	"sync"
)

// Runtime holds the process wide state of the OMAPI client. It must be
// created once using Initialize before any connection is opened and shut
// down when the process no longer needs it
type Runtime struct {
	dialer net.Dialer

	mu    sync.Mutex
	down  bool
	conns map[*Conn]struct{}
}

// Initialize returns a new, ready to use runtime
func Initialize() *Runtime {
	return &Runtime{
		conns: make(map[*Conn]struct{}),
	}
}

// Dial opens an authenticated connection to the OMAPI server at addr. The
// authenticator is built from key before any network I/O happens so malformed
// key material fails with an *AuthError. Network and handshake failures are
// reported as *ConnectError. The deadline of ctx applies to the handshake
func (rt *Runtime) Dial(ctx context.Context, addr string, key Key) (*Conn, error) {
	auth, err := NewAuthenticator(key)
	if err != nil {
		return nil, err
	}

	if rt.isDown() {
		auth.destroy()
		return nil, &ConnectError{Addr: addr, Err: ErrShutdown}
	}

	nc, err := rt.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		auth.destroy()
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	c := newConn(rt, addr, nc, auth)
	if err := c.authenticate(ctx); err != nil {
		nc.Close()
		auth.destroy()
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.down {
		nc.Close()
		auth.destroy()
		return nil, &ConnectError{Addr: addr, Err: ErrShutdown}
	}

	rt.conns[c] = struct{}{}
	return c, nil
}

// Sessions returns the number of connections that have been opened but
// not yet closed
func (rt *Runtime) Sessions() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return len(rt.conns)
}

// Shutdown closes all open connections. Dial fails afterwards
func (rt *Runtime) Shutdown() {
	rt.mu.Lock()
	rt.down = true

	conns := make([]*Conn, 0, len(rt.conns))
	for c := range rt.conns {
		conns = append(conns, c)
	}
	rt.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (rt *Runtime) isDown() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.down
}

func (rt *Runtime) remove(c *Conn) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	delete(rt.conns, c)
}
