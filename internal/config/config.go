// Package config provides layered configuration loading for the Tether
// service: struct defaults overlaid by TETHER_* environment variables, then
// validated. There are no config files and no flags; the service is built for
// container-style deployment where the environment is the interface.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TETHER_"

// Config holds the merged runtime configuration for the Tether service.
type Config struct {
	Addr          string        `koanf:"addr" validate:"required,ip_port"`               // listen address, e.g. ":8080"
	Header        string        `koanf:"header" validate:"required"`                     // correlation header name
	GelfURL       string        `koanf:"gelf_url" validate:"omitempty,http_url"`         // log collector endpoint; empty disables emission
	Host          string        `koanf:"host"`                                           // origin host stamped on log records; empty => os.Hostname at wire-up
	DataDir       string        `koanf:"data_dir" validate:"required,safe_dir"`          // directory holding the metrics database
	EmitTimeout   time.Duration `koanf:"emit_timeout" validate:"required,min=100ms"`     // per-emission HTTP timeout
	FlushInterval time.Duration `koanf:"flush_interval" validate:"required,min=100ms"`   // metrics flush cadence
	QueueSize     int           `koanf:"queue_size" validate:"gte=1,lte=65536"`          // pending emission capacity
	Workers       int           `koanf:"workers" validate:"gte=1,lte=64"`                // concurrent emitters
	MetricsToken  string        `koanf:"metrics_token"`                                  // optional bearer token guarding /metricsz
}

// DefaultAppConfig is the configuration used when no environment overrides
// are present.
var DefaultAppConfig = Config{
	Addr:          ":8080",
	Header:        "X-Correlation-ID",
	GelfURL:       "",
	Host:          "",
	DataDir:       "./data",
	EmitTimeout:   5 * time.Second,
	FlushInterval: 5 * time.Second,
	QueueSize:     256,
	Workers:       4,
	MetricsToken:  "",
}

// Load merges defaults with TETHER_* environment variables and validates the
// result. TETHER_EMIT_TIMEOUT and TETHER_FLUSH_INTERVAL accept Go duration
// strings (e.g. "2s", "500ms").
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("ip_port", validIPPort)
	_ = v.RegisterValidation("safe_dir", validDataDir)
	return v
}

// validIPPort accepts "ip:port" or ":port" where the host part, if present,
// is a literal IP (hostnames are rejected) and the port is numeric 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return false
	}
	return true
}

// validDataDir rejects empty, root, and any path escaping upward.
func validDataDir(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" {
		return false
	}
	clean := filepath.Clean(p)
	if clean == "." || clean == "/" {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(clean), "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
