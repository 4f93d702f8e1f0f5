// Package config loads the PackScript host parameters from YAML on top of
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/dueldanov/packscript/internal/packscript"
)

// Parameters contains the definition of the parameters used by the CLI and
// the engine it builds.
type Parameters struct {
	Engine struct {
		// Mode selects the executor: vm or interpreter
		Mode string `yaml:"mode" usage:"the execution engine: vm or interpreter"`
		// MaxScriptSize is the largest accepted source in bytes
		MaxScriptSize int `yaml:"maxScriptSize" usage:"the largest accepted script in bytes"`
		// ExecutionTimeout bounds one run, timers included
		ExecutionTimeout time.Duration `yaml:"executionTimeout" usage:"the maximum duration of one run"`
		// GasLimit caps execution steps; 0 disables the cap
		GasLimit int64 `yaml:"gasLimit" usage:"the maximum number of execution steps, 0 for unlimited"`
		// CacheTTL is how long compiled scripts stay cached
		CacheTTL time.Duration `yaml:"cacheTTL" usage:"how long compiled scripts stay cached"`
	} `yaml:"engine"`

	Storage struct {
		// Realm prefixes every key written by store
		Realm string `yaml:"realm" usage:"the key-value realm used by store, recall and forget"`
		// KeyFile holds the master key that seals stored values; empty stores them in the clear
		KeyFile string `yaml:"keyFile" usage:"path of the master key file sealing stored values"`
	} `yaml:"storage"`

	HTTP struct {
		Timeout time.Duration `yaml:"timeout" usage:"the timeout of one http get"`
		// RequestsPerSecond limits http get; 0 disables the limit
		RequestsPerSecond float64 `yaml:"requestsPerSecond" usage:"maximum http get requests per second, 0 for unlimited"`
		Burst             int     `yaml:"burst" usage:"maximum burst size for rate limiting"`
	} `yaml:"http"`

	Socket struct {
		DialTimeout time.Duration `yaml:"dialTimeout" usage:"the timeout for socket connect and sends"`
	} `yaml:"socket"`

	Report struct {
		// Path receives the JSON step report; empty disables it
		Path string `yaml:"path" usage:"file receiving the JSON step report"`
		// Console prints each step while it runs
		Console bool `yaml:"console" usage:"print pipeline steps while they run"`
	} `yaml:"report"`
}

// DefaultParameters returns the parameters used when no file overrides them
func DefaultParameters() *Parameters {
	p := &Parameters{}
	def := packscript.DefaultEngineConfig()

	p.Engine.Mode = string(def.Mode)
	p.Engine.MaxScriptSize = def.MaxScriptSize
	p.Engine.ExecutionTimeout = def.ExecutionTimeout
	p.Engine.GasLimit = def.GasLimit
	p.Engine.CacheTTL = def.CacheTTL

	p.Storage.Realm = "packscript"

	p.HTTP.Timeout = 10 * time.Second
	p.HTTP.RequestsPerSecond = 10
	p.HTTP.Burst = 20

	p.Socket.DialTimeout = 5 * time.Second

	return p
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Parameters, error) {
	p := DefaultParameters()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	if err := Parse(data, p); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return p, nil
}

// Parse decodes YAML into p and validates the result. Unknown keys are errors.
func Parse(data []byte, p *Parameters) error {
	if err := yaml.UnmarshalStrict(data, p); err != nil {
		return err
	}
	return p.Validate()
}

// Validate rejects values no component can run with
func (p *Parameters) Validate() error {
	if _, err := packscript.ParseMode(p.Engine.Mode); err != nil {
		return err
	}
	if p.Engine.MaxScriptSize <= 0 {
		return fmt.Errorf("engine.maxScriptSize must be positive, got %d", p.Engine.MaxScriptSize)
	}
	if p.Engine.ExecutionTimeout <= 0 {
		return fmt.Errorf("engine.executionTimeout must be positive, got %s", p.Engine.ExecutionTimeout)
	}
	if p.Engine.GasLimit < 0 {
		return fmt.Errorf("engine.gasLimit must not be negative, got %d", p.Engine.GasLimit)
	}
	if p.Storage.Realm == "" {
		return errors.New("storage.realm must not be empty")
	}
	if p.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requestsPerSecond must not be negative, got %v", p.HTTP.RequestsPerSecond)
	}
	return nil
}

// EngineConfig converts the engine section
func (p *Parameters) EngineConfig() packscript.EngineConfig {
	mode, _ := packscript.ParseMode(p.Engine.Mode)
	return packscript.EngineConfig{
		Mode:             mode,
		MaxScriptSize:    p.Engine.MaxScriptSize,
		ExecutionTimeout: p.Engine.ExecutionTimeout,
		GasLimit:         p.Engine.GasLimit,
		CacheTTL:         p.Engine.CacheTTL,
	}
}
