package omapi

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Kind describes how the bytes of a Value are interpreted
type Kind uint8

// Value kinds supported by the client
const (
	KindBinary Kind = iota
	KindString
	KindInt
	KindIPv4
)

func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindIPv4:
		return "ipv4"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a typed, length-prefixed value attached to an object or
// received from the server
type Value struct {
	Kind Kind
	Data []byte
}

// Bytes returns a binary value. b is copied
func Bytes(b []byte) Value {
	return Value{Kind: KindBinary, Data: append([]byte(nil), b...)}
}

// String returns a string value
func String(s string) Value {
	return Value{Kind: KindString, Data: []byte(s)}
}

// Int returns a 4 byte network order integer value
func Int(i uint32) Value {
	return Value{Kind: KindInt, Data: binary.BigEndian.AppendUint32(nil, i)}
}

// IPv4 returns the 4 byte network order representation of ip. It fails if
// ip is not an IPv4 address
func IPv4(ip net.IP) (Value, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Value{}, fmt.Errorf("%q is not an IPv4 address", ip.String())
	}

	return Value{Kind: KindIPv4, Data: append([]byte(nil), v4...)}, nil
}

// HardwareAddr returns the raw bytes of hw as a binary value
func HardwareAddr(hw net.HardwareAddr) Value {
	return Bytes(hw)
}

// Len returns the number of bytes in v
func (v Value) Len() int {
	return len(v.Data)
}

// Text returns the bytes of v as a string
func (v Value) Text() string {
	return string(v.Data)
}

// Uint returns the integer stored in v. Both the 4 byte network order
// encoding and single byte values are accepted
func (v Value) Uint() (uint32, bool) {
	switch len(v.Data) {
	case 4:
		return binary.BigEndian.Uint32(v.Data), true
	case 1:
		return uint32(v.Data[0]), true
	}
	return 0, false
}

// IP returns the IPv4 address stored in v or nil if v does not hold
// exactly 4 bytes
func (v Value) IP() net.IP {
	if len(v.Data) != net.IPv4len {
		return nil
	}

	return net.IPv4(v.Data[0], v.Data[1], v.Data[2], v.Data[3]).To4()
}

// MAC returns the bytes of v as a hardware address
func (v Value) MAC() net.HardwareAddr {
	return net.HardwareAddr(append([]byte(nil), v.Data...))
}

// Format renders v for humans according to its kind
func (v Value) Format() string {
	switch v.Kind {
	case KindString:
		return fmt.Sprintf("%q", v.Text())
	case KindInt:
		if i, ok := v.Uint(); ok {
			return fmt.Sprintf("%d", i)
		}
	case KindIPv4:
		if ip := v.IP(); ip != nil {
			return ip.String()
		}
	}

	if len(v.Data) == 0 {
		return "<null>"
	}

	return v.MAC().String()
}

// Field is a single name/value pair of a message
type Field struct {
	Name  string
	Value Value
}

// Fields is an ordered list of name/value pairs
type Fields []Field

// Get returns the value stored for name
func (f Fields) Get(name string) (Value, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}

	return Value{}, false
}

// Set replaces the value for name or appends it
func (f *Fields) Set(name string, v Value) {
	for i := range *f {
		if (*f)[i].Name == name {
			(*f)[i].Value = v
			return
		}
	}

	*f = append(*f, Field{Name: name, Value: v})
}

// Names returns the names of all fields in order
func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i, field := range f {
		names[i] = field.Name
	}
	return names
}
