// Package omapitest provides an in-process OMAPI server for tests. It speaks
// the real wire protocol, keeps host objects in memory and records every
// operation it receives.
package omapitest

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/nextdhcp/omapi-sync/pkg/omapi"
)

// OpKind is the kind of an operation received by the server
type OpKind string

// Operation kinds recorded by the server
const (
	OpQuery  OpKind = "query"
	OpCreate OpKind = "create"
	OpRemove OpKind = "remove"
)

type (
	// Host is a host object stored by the server
	Host struct {
		Handle       uint32
		Name         string
		HardwareAddr net.HardwareAddr
		HardwareType uint32
		IP           net.IP
	}

	// Op is an operation received by the server
	Op struct {
		Kind      OpKind
		Exclusive bool
		Fields    omapi.Fields
		Result    omapi.Result
	}

	// Server is an OMAPI server listening on a random loopback port
	Server struct {
		key omapi.Key
		ln  net.Listener
		wg  sync.WaitGroup
		t   testing.TB

		mu         sync.Mutex
		hosts      map[uint32]*Host
		nextHandle uint32
		ops        []Op
		fail       map[OpKind]omapi.Result
		drop       map[OpKind]bool
		conns      map[net.Conn]struct{}
	}
)

// NewServer starts a server accepting key. It is stopped when the test
// finishes
func NewServer(t testing.TB, key omapi.Key) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("omapitest: failed to listen: %s", err)
	}

	s := &Server{
		key:        key,
		ln:         ln,
		t:          t,
		hosts:      make(map[uint32]*Host),
		nextHandle: 100,
		fail:       make(map[OpKind]omapi.Result),
		drop:       make(map[OpKind]bool),
		conns:      make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()

	t.Cleanup(s.Close)
	return s
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops the server and closes all connections
func (s *Server) Close() {
	s.ln.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// AddHost stores h and returns the handle assigned to it
func (s *Server) AddHost(h Host) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.HardwareType == 0 {
		h.HardwareType = 1
	}

	h.Handle = s.nextHandle
	s.nextHandle++
	s.hosts[h.Handle] = &h

	return h.Handle
}

// Hosts returns a copy of all stored hosts
func (s *Server) Hosts() []Host {
	s.mu.Lock()
	defer s.mu.Unlock()

	hosts := make([]Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		hosts = append(hosts, *h)
	}
	return hosts
}

// Ops returns all operations received so far
func (s *Server) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Op(nil), s.ops...)
}

// Kinds returns the kinds of all operations received so far
func (s *Server) Kinds() []OpKind {
	ops := s.Ops()
	kinds := make([]OpKind, len(ops))
	for i, op := range ops {
		kinds[i] = op.Kind
	}
	return kinds
}

// Fail makes every following operation of the given kind fail with res
func (s *Server) Fail(kind OpKind, res omapi.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fail[kind] = res
}

// Drop makes the server close the connection instead of answering the
// next operation of the given kind
func (s *Server) Drop(kind OpKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drop[kind] = true
}

// Conns returns the number of connections currently open
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				c.Close()
				s.mu.Lock()
				delete(s.conns, c)
				s.mu.Unlock()
			}()

			s.handle(c)
		}()
	}
}

type session struct {
	c    net.Conn
	r    *bufio.Reader
	auth *omapi.Authenticator
}

func (s *Server) handle(c net.Conn) {
	sess := &session{c: c, r: bufio.NewReader(c)}

	rw := struct {
		io.Reader
		io.Writer
	}{sess.r, c}
	if err := omapi.Handshake(rw); err != nil {
		return
	}

	for {
		req, err := omapi.ReadMessage(sess.r)
		if err != nil {
			return
		}

		// the reply to the authenticator open is sent unsigned
		authenticated := sess.auth != nil

		resp, ok := s.dispatch(sess, req)
		if !ok {
			return
		}

		if authenticated {
			resp.Sign(sess.auth)
		}

		if err := omapi.WriteMessage(c, resp); err != nil {
			return
		}
	}
}

// dispatch handles req and returns the response. It returns false if the
// connection should be dropped
func (s *Server) dispatch(sess *session, req *omapi.Message) (*omapi.Message, bool) {
	if sess.auth == nil {
		return s.authenticate(sess, req)
	}

	if !req.Verify(sess.auth) {
		s.t.Logf("omapitest: dropping connection: bad signature on %s", req.Opcode)
		return nil, false
	}

	switch req.Opcode {
	case omapi.OpOpen:
		typ, _ := req.Message.Get("type")
		if typ.Text() != "host" {
			return omapi.NewStatus(req, omapi.Status{Result: omapi.ResultNotImplemented, Message: "unsupported object type"}), true
		}

		if isSet(req.Message, "create") {
			return s.create(req)
		}
		return s.query(req)

	case omapi.OpDelete:
		return s.remove(req)
	}

	return omapi.NewStatus(req, omapi.Status{Result: omapi.ResultNotImplemented}), true
}

func (s *Server) authenticate(sess *session, req *omapi.Message) (*omapi.Message, bool) {
	typ, _ := req.Message.Get("type")
	if req.Opcode != omapi.OpOpen || typ.Text() != "authenticator" {
		return omapi.NewStatus(req, omapi.Status{Result: omapi.ResultNoPermission, Message: "not authenticated"}), true
	}

	name, _ := req.Object.Get("name")
	alg, _ := req.Object.Get("algorithm")
	if name.Text() != s.key.Name || alg.Text() != s.key.Algorithm.WireName() {
		return omapi.NewStatus(req, omapi.Status{Result: omapi.ResultNotFound, Message: "no such key"}), true
	}

	auth, err := omapi.NewAuthenticator(s.key)
	if err != nil {
		s.t.Logf("omapitest: invalid server key: %s", err)
		return nil, false
	}

	auth.Bind(1)
	sess.auth = auth

	resp := &omapi.Message{Opcode: omapi.OpUpdate, Handle: auth.ID(), RID: req.ID}
	return resp, true
}

func (s *Server) record(kind OpKind, req *omapi.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, Op{
		Kind:      kind,
		Exclusive: isSet(req.Message, "exclusive"),
		Fields:    append(omapi.Fields(nil), req.Object...),
	})

	if s.drop[kind] {
		delete(s.drop, kind)
		return false
	}

	return true
}

func (s *Server) setResult(kind OpKind, res omapi.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.ops) - 1; i >= 0; i-- {
		if s.ops[i].Kind == kind {
			s.ops[i].Result = res
			return
		}
	}
}

func (s *Server) injected(kind OpKind) (omapi.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.fail[kind]
	return res, ok
}

func (s *Server) query(req *omapi.Message) (*omapi.Message, bool) {
	if !s.record(OpQuery, req) {
		return nil, false
	}

	if res, ok := s.injected(OpQuery); ok {
		s.setResult(OpQuery, res)
		return omapi.NewStatus(req, omapi.Status{Result: res}), true
	}

	s.mu.Lock()
	h := s.lookup(req.Object)
	s.mu.Unlock()

	if h == nil {
		s.setResult(OpQuery, omapi.ResultNotFound)
		return omapi.NewStatus(req, omapi.Status{Result: omapi.ResultNotFound, Message: "no object matches specification"}), true
	}

	return updateFor(req, h), true
}

func (s *Server) create(req *omapi.Message) (*omapi.Message, bool) {
	if !s.record(OpCreate, req) {
		return nil, false
	}

	if res, ok := s.injected(OpCreate); ok {
		s.setResult(OpCreate, res)
		return omapi.NewStatus(req, omapi.Status{Result: res}), true
	}

	s.mu.Lock()
	if s.lookup(req.Object) != nil && isSet(req.Message, "exclusive") {
		s.mu.Unlock()
		s.setResult(OpCreate, omapi.ResultExists)
		return omapi.NewStatus(req, omapi.Status{Result: omapi.ResultExists}), true
	}

	h := &Host{Handle: s.nextHandle}
	s.nextHandle++

	if v, ok := req.Object.Get("name"); ok {
		h.Name = v.Text()
	}
	if v, ok := req.Object.Get("hardware-address"); ok {
		h.HardwareAddr = v.MAC()
	}
	if v, ok := req.Object.Get("hardware-type"); ok {
		h.HardwareType, _ = v.Uint()
	}
	if v, ok := req.Object.Get("ip-address"); ok {
		h.IP = v.IP()
	}

	s.hosts[h.Handle] = h
	s.mu.Unlock()

	return updateFor(req, h), true
}

func (s *Server) remove(req *omapi.Message) (*omapi.Message, bool) {
	if !s.record(OpRemove, req) {
		return nil, false
	}

	if res, ok := s.injected(OpRemove); ok {
		s.setResult(OpRemove, res)
		return omapi.NewStatus(req, omapi.Status{Result: res}), true
	}

	s.mu.Lock()
	_, ok := s.hosts[req.Handle]
	delete(s.hosts, req.Handle)
	s.mu.Unlock()

	if !ok {
		s.setResult(OpRemove, omapi.ResultNotFound)
		return omapi.NewStatus(req, omapi.Status{Result: omapi.ResultNotFound}), true
	}

	return omapi.NewStatus(req, omapi.Status{Result: omapi.ResultSuccess}), true
}

// lookup finds the host matching the first key present in fields. It must
// be called with s.mu held
func (s *Server) lookup(fields omapi.Fields) *Host {
	if v, ok := fields.Get("name"); ok {
		for _, h := range s.hosts {
			if h.Name == v.Text() {
				return h
			}
		}
	}

	if v, ok := fields.Get("hardware-address"); ok {
		for _, h := range s.hosts {
			if bytes.Equal(h.HardwareAddr, v.Data) {
				return h
			}
		}
	}

	if v, ok := fields.Get("ip-address"); ok {
		for _, h := range s.hosts {
			if h.IP.Equal(v.IP()) {
				return h
			}
		}
	}

	return nil
}

func updateFor(req *omapi.Message, h *Host) *omapi.Message {
	resp := &omapi.Message{
		Opcode: omapi.OpUpdate,
		Handle: h.Handle,
		RID:    req.ID,
	}

	resp.Object.Set("name", omapi.String(h.Name))
	resp.Object.Set("hardware-address", omapi.HardwareAddr(h.HardwareAddr))
	resp.Object.Set("hardware-type", omapi.Int(h.HardwareType))
	if h.IP != nil {
		if v, err := omapi.IPv4(h.IP); err == nil {
			resp.Object.Set("ip-address", v)
		}
	}

	return resp
}

func isSet(fields omapi.Fields, name string) bool {
	v, ok := fields.Get(name)
	if !ok {
		return false
	}

	i, ok := v.Uint()
	return ok && i != 0
}
