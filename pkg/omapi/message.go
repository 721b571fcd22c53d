package omapi

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	// DefaultPort is the TCP port ISC dhcpd listens on for OMAPI connections
	DefaultPort = 7911

	protocolVersion = 100
	headerSize      = 24

	// maxValueSize limits the size of a single value we are willing to
	// read from the wire
	maxValueSize = 64 * 1024

	// maxSignatureSize limits the size of a signature we are willing to
	// read from the wire
	maxSignatureSize = 1024
)

// Opcode is the operation carried by a message
type Opcode uint32

// OMAPI opcodes
const (
	OpOpen Opcode = iota + 1
	OpRefresh
	OpUpdate
	OpNotify
	OpStatus
	OpDelete
)

func (op Opcode) String() string {
	switch op {
	case OpOpen:
		return "open"
	case OpRefresh:
		return "refresh"
	case OpUpdate:
		return "update"
	case OpNotify:
		return "notify"
	case OpStatus:
		return "status"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("opcode(%d)", uint32(op))
}

// Message is a single OMAPI protocol message
type Message struct {
	// AuthID is the handle of the authenticator that signed the message.
	// Zero means unsigned
	AuthID uint32

	Opcode Opcode

	// Handle is the server side handle of the object the message
	// refers to
	Handle uint32

	// ID is the transaction ID of the message
	ID uint32

	// RID is the ID of the message this one is a response to
	RID uint32

	// Message holds the message values (e.g. "type", "create")
	Message Fields

	// Object holds the values of the object itself
	Object Fields

	Signature []byte
}

// Status returns the status carried by a status message
func (m *Message) Status() Status {
	st := Status{Result: ResultFailure}

	if v, ok := m.Message.Get("result"); ok {
		if r, ok := v.Uint(); ok {
			st.Result = Result(r)
		}
	}

	if v, ok := m.Message.Get("message"); ok {
		st.Message = v.Text()
	}

	return st
}

// NewStatus creates a status message in response to req
func NewStatus(req *Message, st Status) *Message {
	m := &Message{
		Opcode: OpStatus,
		RID:    req.ID,
	}

	m.Message.Set("result", Int(uint32(st.Result)))
	if st.Message != "" {
		m.Message.Set("message", String(st.Message))
	}

	return m
}

// appendBody serializes everything but the AuthID and the signature. This
// is also the part covered by the signature
func (m *Message) appendBody(b []byte, sigLen int) ([]byte, error) {
	var err error

	b = binary.BigEndian.AppendUint32(b, uint32(sigLen))
	b = binary.BigEndian.AppendUint32(b, uint32(m.Opcode))
	b = binary.BigEndian.AppendUint32(b, m.Handle)
	b = binary.BigEndian.AppendUint32(b, m.ID)
	b = binary.BigEndian.AppendUint32(b, m.RID)

	if b, err = appendFields(b, m.Message); err != nil {
		return nil, err
	}

	return appendFields(b, m.Object)
}

func appendFields(b []byte, fields Fields) ([]byte, error) {
	for _, f := range fields {
		if len(f.Name) == 0 || len(f.Name) > math.MaxUint16 {
			return nil, protocolErrorf("encode", "invalid value name length %d", len(f.Name))
		}
		if len(f.Value.Data) > maxValueSize {
			return nil, protocolErrorf("encode", "value %s exceeds %d bytes", f.Name, maxValueSize)
		}

		b = binary.BigEndian.AppendUint16(b, uint16(len(f.Name)))
		b = append(b, f.Name...)
		b = binary.BigEndian.AppendUint32(b, uint32(len(f.Value.Data)))
		b = append(b, f.Value.Data...)
	}

	// a zero length name terminates the list
	return binary.BigEndian.AppendUint16(b, 0), nil
}

// MarshalBinary returns the wire representation of m
func (m *Message) MarshalBinary() ([]byte, error) {
	b := binary.BigEndian.AppendUint32(make([]byte, 0, 128), m.AuthID)

	b, err := m.appendBody(b, len(m.Signature))
	if err != nil {
		return nil, err
	}

	return append(b, m.Signature...), nil
}

// Sign signs m using a. The AuthID of m is set to the ID of a
func (m *Message) Sign(a *Authenticator) error {
	m.AuthID = a.ID()

	body, err := m.appendBody(nil, a.SignatureSize())
	if err != nil {
		return err
	}

	m.Signature = a.Sign(body)
	return nil
}

// Verify checks the signature of m against a
func (m *Message) Verify(a *Authenticator) bool {
	if a == nil || m.AuthID != a.ID() {
		return false
	}

	body, err := m.appendBody(nil, len(m.Signature))
	if err != nil {
		return false
	}

	return a.Verify(body, m.Signature)
}

// WriteMessage writes the wire representation of m to w
func WriteMessage(w io.Writer, m *Message) error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}

// ReadMessage reads a single message from r
func ReadMessage(r io.Reader) (*Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	m := &Message{
		AuthID: binary.BigEndian.Uint32(hdr[0:4]),
		Opcode: Opcode(binary.BigEndian.Uint32(hdr[8:12])),
		Handle: binary.BigEndian.Uint32(hdr[12:16]),
		ID:     binary.BigEndian.Uint32(hdr[16:20]),
		RID:    binary.BigEndian.Uint32(hdr[20:24]),
	}

	sigLen := binary.BigEndian.Uint32(hdr[4:8])
	if sigLen > maxSignatureSize {
		return nil, fmt.Errorf("signature length %d exceeds limit", sigLen)
	}

	var err error
	if m.Message, err = readFields(r); err != nil {
		return nil, err
	}

	if m.Object, err = readFields(r); err != nil {
		return nil, err
	}

	if sigLen > 0 {
		m.Signature = make([]byte, sigLen)
		if _, err := io.ReadFull(r, m.Signature); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func readFields(r io.Reader) (Fields, error) {
	var fields Fields

	for {
		var nl [2]byte
		if _, err := io.ReadFull(r, nl[:]); err != nil {
			return nil, err
		}

		nameLen := binary.BigEndian.Uint16(nl[:])
		if nameLen == 0 {
			return fields, nil
		}

		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}

		var vl [4]byte
		if _, err := io.ReadFull(r, vl[:]); err != nil {
			return nil, err
		}

		valueLen := binary.BigEndian.Uint32(vl[:])
		if valueLen > maxValueSize {
			return nil, fmt.Errorf("value %s: length %d exceeds limit", name, valueLen)
		}

		data := make([]byte, valueLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}

		fields = append(fields, Field{Name: string(name), Value: Value{Kind: KindBinary, Data: data}})
	}
}

// writeStartup sends the protocol version and header size
func writeStartup(w io.Writer) error {
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], protocolVersion)
	binary.BigEndian.PutUint32(b[4:8], headerSize)

	_, err := w.Write(b[:])
	return err
}

// readStartup reads and checks the peer's startup message
func readStartup(r io.Reader) error {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}

	version := binary.BigEndian.Uint32(b[0:4])
	hdrSize := binary.BigEndian.Uint32(b[4:8])

	if version != protocolVersion {
		return fmt.Errorf("unsupported protocol version %d", version)
	}

	if hdrSize < headerSize {
		return fmt.Errorf("header size %d too small", hdrSize)
	}

	return nil
}

// Handshake exchanges the startup message with the peer
func Handshake(rw io.ReadWriter) error {
	if err := writeStartup(rw); err != nil {
		return err
	}

	return readStartup(rw)
}
