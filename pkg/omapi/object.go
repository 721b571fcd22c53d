package omapi

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// Mode selects what the server should do with a submitted object
type Mode uint8

// Submission modes. Create may be combined with Exclusive
const (
	Query     Mode = 0
	Create    Mode = 1 << 0
	Exclusive Mode = 1 << 1
	Remove    Mode = 1 << 2
)

func (m Mode) String() string {
	if m == Query {
		return "query"
	}

	var parts []string
	if m&Create != 0 {
		parts = append(parts, "create")
	}
	if m&Exclusive != 0 {
		parts = append(parts, "exclusive")
	}
	if m&Remove != 0 {
		parts = append(parts, "remove")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
	return strings.Join(parts, "|")
}

func (m Mode) validate() error {
	switch m {
	case Query, Create, Create | Exclusive, Remove:
		return nil
	}
	return protocolErrorf("submit", "invalid mode %s", m)
}

type objectState int

const (
	stateUnbound objectState = iota
	statePopulated
	stateSubmitted
	stateResolved
)

// Object is a local handle to an object on the server. It is bound to the
// connection it was created on. Objects must be released once they are no
// longer needed
type Object struct {
	conn   *Conn
	typ    string
	schema schema

	fields Fields // values sent to the server
	values Fields // values received from the server
	handle uint32 // server side handle

	state     objectState
	mode      Mode
	op        string
	pendingID uint32
	released  bool
}

// Type returns the object type
func (o *Object) Type() string {
	return o.typ
}

// Handle returns the server side handle of the object. It is zero until a
// query or create succeeded and after the object has been removed
func (o *Object) Handle() uint32 {
	return o.handle
}

// SetValue attaches v to the object. Nothing is sent to the server until
// the object is submitted
func (o *Object) SetValue(name string, v Value) error {
	if err := o.usable("set " + name); err != nil {
		return err
	}

	if o.state == stateSubmitted {
		return protocolErrorf("set "+name, "object has an operation in progress")
	}

	if name == "" {
		return protocolErrorf("set", "value name must not be empty")
	}

	if err := o.schema.check(name, v); err != nil {
		return err
	}

	o.fields.Set(name, v)
	if o.state == stateUnbound {
		o.state = statePopulated
	}
	return nil
}

// SetString attaches a string value
func (o *Object) SetString(name, s string) error {
	return o.SetValue(name, String(s))
}

// SetInt attaches a 4 byte integer value
func (o *Object) SetInt(name string, i uint32) error {
	return o.SetValue(name, Int(i))
}

// SetIP attaches an IPv4 address
func (o *Object) SetIP(name string, ip net.IP) error {
	v, err := IPv4(ip)
	if err != nil {
		return protocolErrorf("set "+name, "%s", err)
	}
	return o.SetValue(name, v)
}

// Submit sends the object to the server. It does not wait for the
// operation to complete; use Wait for that. Remove requires a server
// handle obtained by a previous query
func (o *Object) Submit(ctx context.Context, mode Mode) error {
	if err := o.usable(mode.String()); err != nil {
		return err
	}

	if err := mode.validate(); err != nil {
		return err
	}

	if o.state == stateSubmitted {
		return protocolErrorf(mode.String(), "object already has an operation in progress")
	}

	var msg *Message
	if mode == Remove {
		if o.handle == 0 {
			return protocolErrorf("remove", "object is not bound to a server handle")
		}

		msg = &Message{Opcode: OpDelete, Handle: o.handle}
	} else {
		msg = &Message{Opcode: OpOpen}
		msg.Message.Set("type", String(o.typ))
		if mode&Create != 0 {
			msg.Message.Set("create", Int(1))
		}
		if mode&Exclusive != 0 {
			msg.Message.Set("exclusive", Int(1))
		}
		msg.Object = append(Fields(nil), o.fields...)
	}

	o.mode = mode
	o.op = mode.String() + " " + o.typ
	if err := o.conn.submit(ctx, o, msg); err != nil {
		return err
	}

	o.state = stateSubmitted
	return nil
}

// Wait blocks until the server completed the submitted operation. A non-nil
// error means waiting itself failed (e.g. the connection dropped) and the
// connection must not be used anymore. Otherwise the returned Status tells
// whether the operation succeeded
func (o *Object) Wait(ctx context.Context) (Status, error) {
	if o.released {
		return Status{}, &ProtocolError{Op: "wait", Msg: ErrReleased.Error()}
	}

	if o.state != stateSubmitted {
		return Status{}, protocolErrorf("wait", "nothing has been submitted")
	}

	resp, err := o.conn.wait(ctx, o)
	o.state = stateResolved
	if err != nil {
		return Status{}, err
	}

	switch resp.Opcode {
	case OpUpdate:
		o.handle = resp.Handle
		o.values = o.schema.decode(resp.Object)
		return Status{Result: ResultSuccess}, nil

	case OpStatus:
		st := resp.Status()
		if st.OK() && o.mode == Remove {
			o.handle = 0
			o.values = nil
		}
		return st, nil
	}

	err = fmt.Errorf("unexpected %s response", resp.Opcode)
	o.conn.markBroken(err)
	return Status{}, &SessionError{Op: o.op, Err: err}
}

// Value returns a value received from the server after a successful
// query or create
func (o *Object) Value(name string) (Value, bool) {
	if o.released {
		return Value{}, false
	}

	return o.values.Get(name)
}

// Values returns all values received from the server
func (o *Object) Values() Fields {
	return append(Fields(nil), o.values...)
}

// Release frees the object. It is safe to call Release more than once
func (o *Object) Release() {
	if o.released {
		return
	}

	o.released = true
	o.conn.release(o)
	o.fields = nil
	o.values = nil
}

func (o *Object) usable(op string) error {
	if o.released {
		return &ProtocolError{Op: op, Msg: ErrReleased.Error()}
	}

	if o.conn.closed.Load() {
		return &SessionError{Op: op, Err: ErrClosed}
	}

	return nil
}
