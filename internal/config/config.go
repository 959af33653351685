// Package config loads the sidecar's TOML configuration, following the same
// normalized-field-name convention as the teacher's cmd/mive/config.go
// tomlSettings.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
)

// tomlSettings ensures TOML keys use the same names as the Go struct fields,
// exactly as the teacher's cmd/mive/config.go configures naoina/toml.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// Persistent configures internal/persistent.Store.
type Persistent struct {
	Datadir      string
	CacheSizeMB  int `toml:",omitempty"`
	MaxOpenFiles int `toml:",omitempty"`
}

// Upstream configures the blockchain-updates stream and point-lookup data
// API endpoints (internal/rpcclient).
type Upstream struct {
	URL            string
	SubscribeFrom  uint64 `toml:",omitempty"`
	DialTimeoutSec int    `toml:",omitempty"`
}

// HTTP configures the REST façade (internal/api).
type HTTP struct {
	ListenAddr     string
	AllowedOrigins []string `toml:",omitempty"`
}

// Orchestrator configures the Starting/Working/WorkingWithFork state
// machine's startup parameters (internal/orchestrator).
type Orchestrator struct {
	// WorkingHeightDelta is the "N" in spec.md §4.7's "working_height is
	// fixed at startup as last known height + N".
	WorkingHeightDelta uint64 `toml:",omitempty"`
	EvaluatorPoolSize  int    `toml:",omitempty"`
}

// Log configures structured logging (internal/logging), mirroring the
// teacher's log-file/verbosity flags.
type Log struct {
	Verbosity int    `toml:",omitempty"`
	File      string `toml:",omitempty"`
}

// Config is the sidecar's full configuration tree, loaded from the CLI's
// positional config-root argument (spec.md §6's CLI surface).
type Config struct {
	Persistent   Persistent
	Upstream     Upstream
	HTTP         HTTP
	Orchestrator Orchestrator
	Log          Log `toml:",omitempty"`

	// RequestListFile is the second, optional CLI positional argument: a
	// JSON file of previously-registered (address, requestJSON) pairs used
	// to prefill the registry at startup (spec.md §4.6, §9 supplement).
	RequestListFile string `toml:"-"`
}

// Default returns the configuration defaults applied before the TOML file
// is decoded over them, mirroring defaultNodeConfig's role in the teacher.
func Default() Config {
	return Config{
		Persistent: Persistent{
			CacheSizeMB:  256,
			MaxOpenFiles: 512,
		},
		Upstream: Upstream{
			DialTimeoutSec: 10,
		},
		HTTP: HTTP{
			ListenAddr: "127.0.0.1:6890",
		},
		Orchestrator: Orchestrator{
			WorkingHeightDelta: 100,
			EvaluatorPoolSize:  8,
		},
	}
}

// Load reads file as TOML into cfg, starting from Default(). file is the
// single config file living at the root of the CLI's config-directory
// argument (conventionally "config.toml").
func Load(file string) (Config, error) {
	cfg := Default()

	f, err := os.Open(file)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		var lineErr *toml.LineError
		if errors.As(err, &lineErr) {
			return Config{}, fmt.Errorf("%s, %w", file, err)
		}
		return Config{}, err
	}
	return cfg, nil
}
