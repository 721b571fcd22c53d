package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/caddyserver/caddy/caddyfile"
	"github.com/nextdhcp/omapi-sync/pkg/omapi"
)

// Directive is the name of the configuration block
const Directive = "omapi"

// DefaultFile is the configuration file used if none is given
const DefaultFile = "Omapifile"

// DefaultTimeout bounds a single reconciliation
const DefaultTimeout = 10 * time.Second

// Default returns the configuration used for values that are not set
func Default() Server {
	return Server{
		Port:      omapi.DefaultPort,
		Algorithm: omapi.HMACMD5.String(),
		Compare:   "prefix",
		Timeout:   DefaultTimeout,
	}
}

// ParseBlock parses the body of an omapi block. The dispenser must be
// positioned on the last token before the opening brace. Values that are
// not set keep their defaults
func ParseBlock(d *caddyfile.Dispenser) (Server, error) {
	s := Default()

	for d.NextBlock() {
		switch d.Val() {
		case "server":
			args := d.RemainingArgs()
			if len(args) < 1 || len(args) > 2 {
				return s, d.ArgErr()
			}

			s.Host = args[0]
			if len(args) == 2 {
				port, err := strconv.ParseUint(args[1], 10, 16)
				if err != nil {
					return s, d.Errf("invalid port %q", args[1])
				}
				s.Port = uint16(port)
			}

		case "key":
			args := d.RemainingArgs()
			if len(args) < 2 || len(args) > 3 {
				return s, d.ArgErr()
			}

			s.KeyName = args[0]
			s.KeySecret = args[1]
			if len(args) == 3 {
				if _, err := omapi.ParseAlgorithm(args[2]); err != nil {
					return s, d.Err(err.Error())
				}
				s.Algorithm = args[2]
			}

		case "compare":
			if !d.NextArg() {
				return s, d.ArgErr()
			}

			switch d.Val() {
			case "prefix", "exact":
				s.Compare = d.Val()
			default:
				return s, d.Errf("unknown compare mode %q", d.Val())
			}

			if d.NextArg() {
				return s, d.ArgErr()
			}

		case "timeout":
			if !d.NextArg() {
				return s, d.ArgErr()
			}

			timeout, err := time.ParseDuration(d.Val())
			if err != nil {
				return s, d.Errf("invalid timeout: %s", err)
			}
			s.Timeout = timeout

			if d.NextArg() {
				return s, d.ArgErr()
			}

		default:
			return s, d.Errf("unknown property %q", d.Val())
		}
	}

	return s, nil
}

// Read parses a configuration file holding a single omapi block
func Read(filename string, r io.Reader) (Server, error) {
	d := caddyfile.NewDispenser(filename, r)

	if !d.Next() {
		return Server{}, fmt.Errorf("%s: missing %s block", filename, Directive)
	}

	if d.Val() != Directive {
		return Server{}, d.Errf("expected %s block, found %q", Directive, d.Val())
	}

	if args := d.RemainingArgs(); len(args) > 0 {
		return Server{}, d.Err("conditions are not allowed in configuration files")
	}

	s, err := ParseBlock(&d)
	if err != nil {
		return Server{}, err
	}

	if d.Next() {
		return Server{}, d.Errf("unexpected %q after %s block", d.Val(), Directive)
	}

	return s, nil
}

// ReadFile reads the configuration file at path
func ReadFile(path string) (Server, error) {
	f, err := os.Open(path)
	if err != nil {
		return Server{}, err
	}
	defer f.Close()

	return Read(path, f)
}
