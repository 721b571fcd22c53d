package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nextdhcp/omapi-sync/core/reservation"
	"github.com/nextdhcp/omapi-sync/pkg/omapi"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables, e.g. OMAPI_KEY_SECRET
const EnvPrefix = "OMAPI"

var validate = validator.New()

// Server describes how to reach and authenticate against an OMAPI server
type Server struct {
	Host      string        `mapstructure:"server" validate:"required"`
	Port      uint16        `mapstructure:"port" validate:"required"`
	KeyName   string        `mapstructure:"key-name" validate:"required"`
	KeySecret string        `mapstructure:"key-secret" validate:"required,base64"`
	Algorithm string        `mapstructure:"algorithm" validate:"required"`
	Compare   string        `mapstructure:"compare" validate:"omitempty,oneof=prefix exact"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Load builds the configuration from flags, OMAPI_* environment variables
// and the configuration file at path, in that order of precedence. Only
// flags that have been set on the command line take precedence. A missing
// DefaultFile is not an error
func Load(path string, flags *pflag.FlagSet) (*Server, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		file, err := ReadFile(path)
		switch {
		case err == nil:
			setDefaults(v, file)
		case errors.Is(err, fs.ErrNotExist) && path == DefaultFile:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	var s Server
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &s, nil
}

func setDefaults(v *viper.Viper, s Server) {
	v.SetDefault("server", s.Host)
	v.SetDefault("port", s.Port)
	v.SetDefault("key-name", s.KeyName)
	v.SetDefault("key-secret", s.KeySecret)
	v.SetDefault("algorithm", s.Algorithm)
	v.SetDefault("compare", s.Compare)
	v.SetDefault("timeout", s.Timeout)
}

// Validate checks that s is complete
func (s Server) Validate() error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}

	if _, err := omapi.ParseAlgorithm(s.Algorithm); err != nil {
		return fmt.Errorf("algorithm: %w", err)
	}

	return nil
}

// Key returns the authentication key
func (s Server) Key() (omapi.Key, error) {
	alg, err := omapi.ParseAlgorithm(s.Algorithm)
	if err != nil {
		return omapi.Key{}, err
	}

	return omapi.Key{Name: s.KeyName, Algorithm: alg, Secret: s.KeySecret}, nil
}

// Request returns the reservation request for the given target
func (s Server) Request(hostname, ip, mac string) (reservation.Request, error) {
	key, err := s.Key()
	if err != nil {
		return reservation.Request{}, err
	}

	req := reservation.Request{
		Server:       s.Host,
		Port:         s.Port,
		KeyName:      key.Name,
		KeyAlgorithm: key.Algorithm,
		KeySecret:    key.Secret,
		Hostname:     hostname,
		IP:           ip,
		MAC:          mac,
	}

	if err := req.Validate(); err != nil {
		return reservation.Request{}, err
	}

	return req, nil
}

// EngineOptions returns the engine options configured by s
func (s Server) EngineOptions() ([]reservation.Option, error) {
	mode, err := reservation.ParseCompareMode(s.Compare)
	if err != nil {
		return nil, err
	}

	return []reservation.Option{
		reservation.WithCompare(mode),
		reservation.WithTimeout(s.Timeout),
	}, nil
}

// formatValidationError converts validator errors into user-friendly messages.
// Missing settings are reported as *reservation.InputError like any other
// missing request field
func formatValidationError(err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		e := errs[0]
		if e.Tag() == "required" {
			return &reservation.InputError{Field: e.Namespace(), Reason: "missing"}
		}
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}

	return err
}
