package omapi

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// Algorithm is a message signing algorithm
type Algorithm int

// Supported signing algorithms
const (
	AlgorithmUnknown Algorithm = iota
	HMACMD5
)

type algorithmSpec struct {
	name string
	wire string // name announced to the server
	hash func() hash.Hash
	size int
}

// algorithms holds the signing algorithms the client knows about. New
// algorithms only need an entry here
var algorithms = map[Algorithm]algorithmSpec{
	HMACMD5: {
		name: "hmac-md5",
		wire: "hmac-md5.SIG-ALG.REG.INT.",
		hash: md5.New,
		size: md5.Size,
	},
}

// ParseAlgorithm parses the short ("hmac-md5") or the wire name
// ("hmac-md5.SIG-ALG.REG.INT.") of a signing algorithm
func ParseAlgorithm(s string) (Algorithm, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	for alg, spec := range algorithms {
		if s == spec.name || s == strings.ToLower(spec.wire) {
			return alg, nil
		}
	}

	return AlgorithmUnknown, fmt.Errorf("unsupported key algorithm %q", s)
}

func (a Algorithm) String() string {
	if spec, ok := algorithms[a]; ok {
		return spec.name
	}

	return "unknown"
}

// WireName returns the name used to announce a to the server
func (a Algorithm) WireName() string {
	return algorithms[a].wire
}

// Key describes the shared secret used to authenticate against the server
type Key struct {
	// Name is the name of the key as configured on the server
	Name string

	// Algorithm is the signing algorithm
	Algorithm Algorithm

	// Secret is the base64 encoded shared secret
	Secret string
}

// Authenticator signs and verifies messages using a Key. It is created
// from a Key and bound to the handle the server assigned to it
type Authenticator struct {
	id     uint32
	name   string
	alg    Algorithm
	spec   algorithmSpec
	secret []byte
}

// NewAuthenticator builds an authenticator for k
func NewAuthenticator(k Key) (*Authenticator, error) {
	if k.Name == "" {
		return nil, &AuthError{KeyName: k.Name, Err: errors.New("key name must not be empty")}
	}

	spec, ok := algorithms[k.Algorithm]
	if !ok {
		return nil, &AuthError{KeyName: k.Name, Err: fmt.Errorf("unsupported key algorithm %s", k.Algorithm)}
	}

	secret, err := base64.StdEncoding.DecodeString(strings.TrimSpace(k.Secret))
	if err != nil {
		return nil, &AuthError{KeyName: k.Name, Err: fmt.Errorf("invalid secret: %w", err)}
	}

	if len(secret) == 0 {
		return nil, &AuthError{KeyName: k.Name, Err: errors.New("secret must not be empty")}
	}

	return &Authenticator{
		name:   k.Name,
		alg:    k.Algorithm,
		spec:   spec,
		secret: secret,
	}, nil
}

// Name returns the key name
func (a *Authenticator) Name() string { return a.name }

// Algorithm returns the signing algorithm
func (a *Authenticator) Algorithm() Algorithm { return a.alg }

// ID returns the handle the server assigned to the authenticator. It is
// zero until Bind has been called
func (a *Authenticator) ID() uint32 { return a.id }

// Bind associates the authenticator with the handle assigned by the server
func (a *Authenticator) Bind(id uint32) { a.id = id }

// SignatureSize returns the length of the signatures produced
func (a *Authenticator) SignatureSize() int { return a.spec.size }

// Fields returns the object values used to open the authenticator on
// the server
func (a *Authenticator) Fields() Fields {
	return Fields{
		{Name: "name", Value: String(a.name)},
		{Name: "algorithm", Value: String(a.spec.wire)},
	}
}

// Sign returns the signature of data
func (a *Authenticator) Sign(data []byte) []byte {
	mac := hmac.New(a.spec.hash, a.secret)
	mac.Write(data)
	return mac.Sum(nil)
}

// Verify checks sig against the signature of data
func (a *Authenticator) Verify(data, sig []byte) bool {
	return hmac.Equal(a.Sign(data), sig)
}

// destroy wipes the secret. The authenticator must not be used afterwards
func (a *Authenticator) destroy() {
	for i := range a.secret {
		a.secret[i] = 0
	}
	a.secret = nil
	a.id = 0
}
