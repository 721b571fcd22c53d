package reservation

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/nextdhcp/omapi-sync/pkg/omapi"
)

// NoAddress is the target IP sentinel meaning that there is no address
// to assign. Reconciling it only removes the record held for the MAC
const NoAddress = "0.0.0.0"

var validate = validator.New()

type (
	// Request describes the reservation that should exist on the server. It
	// is built once per reconciliation and not modified afterwards
	Request struct {
		Server       string          `validate:"required,hostname_rfc1123|ip"`
		Port         uint16          `validate:"required"`
		KeyName      string          `validate:"required"`
		KeyAlgorithm omapi.Algorithm `validate:"required"`
		KeySecret    string          `validate:"required,base64"`
		Hostname     string          `validate:"required,max=253"`
		IP           string          `validate:"required,ipv4"`
		MAC          string          `validate:"required,mac"`
	}

	// Fields is the raw string record handed over by input adapters
	Fields struct {
		Server    string
		Port      string
		Hostname  string
		IP        string
		MAC       string
		KeySecret string
		KeyName   string
	}

	// InputError is returned for missing or invalid request fields. Requests
	// failing validation never reach the network
	InputError struct {
		Field  string
		Reason string
	}

	// target holds the parsed addresses of a validated request
	target struct {
		mac net.HardwareAddr
		ip  net.IP
	}
)

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// FromFields builds a request from the string record of an input adapter
// using the only supported key algorithm
func FromFields(f Fields) (Request, error) {
	if f.Port == "" {
		return Request{}, &InputError{Field: "Port", Reason: "missing"}
	}

	port, err := strconv.ParseUint(f.Port, 10, 16)
	if err != nil {
		return Request{}, &InputError{Field: "Port", Reason: fmt.Sprintf("invalid port %q", f.Port)}
	}

	req := Request{
		Server:       f.Server,
		Port:         uint16(port),
		KeyName:      f.KeyName,
		KeyAlgorithm: omapi.HMACMD5,
		KeySecret:    f.KeySecret,
		Hostname:     f.Hostname,
		IP:           f.IP,
		MAC:          f.MAC,
	}

	if err := req.Validate(); err != nil {
		return Request{}, err
	}

	return req, nil
}

// Validate checks that all fields are present and well formed
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			if e.Tag() == "required" {
				return &InputError{Field: e.Field(), Reason: "missing"}
			}
			return &InputError{Field: e.Field(), Reason: fmt.Sprintf("validation failed on %q (value: %v)", e.Tag(), e.Value())}
		}
		return err
	}

	_, err := r.target()
	return err
}

// Addr returns the host:port address of the server
func (r Request) Addr() string {
	return net.JoinHostPort(r.Server, strconv.Itoa(int(r.Port)))
}

// Key returns the authentication key of the request
func (r Request) Key() omapi.Key {
	return omapi.Key{
		Name:      r.KeyName,
		Algorithm: r.KeyAlgorithm,
		Secret:    r.KeySecret,
	}
}

// Unassigned returns true if the request carries the NoAddress sentinel
func (r Request) Unassigned() bool {
	return r.IP == NoAddress
}

func (r Request) target() (target, error) {
	mac, err := net.ParseMAC(r.MAC)
	if err != nil {
		return target{}, &InputError{Field: "MAC", Reason: err.Error()}
	}

	if len(mac) != 6 {
		return target{}, &InputError{Field: "MAC", Reason: fmt.Sprintf("expected a 6 byte ethernet address, got %d bytes", len(mac))}
	}

	ip := net.ParseIP(r.IP).To4()
	if ip == nil {
		return target{}, &InputError{Field: "IP", Reason: fmt.Sprintf("%q is not an IPv4 address", r.IP)}
	}

	return target{mac: mac, ip: ip}, nil
}
