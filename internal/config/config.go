// Package config holds the run configuration for the simulator. It loads
// YAML files, applies SEHIR_* environment overrides and validates the
// result before anything is constructed.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/sehir-simulator/core"
	"github.com/signalsfoundry/sehir-simulator/internal/observability"
	"github.com/signalsfoundry/sehir-simulator/model"
	"github.com/signalsfoundry/sehir-simulator/timectrl"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Graph kinds.
const (
	GraphErdosRenyi = "erdos_renyi"
	GraphComplete   = "complete"
	GraphFile       = "file"
)

// Config is the complete description of one simulation run.
type Config struct {
	Graph    GraphConfig                 `yaml:"graph"`
	Seeds    SeedConfig                  `yaml:"seeds"`
	Rates    RatesConfig                 `yaml:"rates"`
	Exposure string                      `yaml:"exposure" validate:"oneof=ambient contact"`
	Run      RunConfig                   `yaml:"run"`
	Logging  LoggingConfig               `yaml:"logging"`
	HTTP     HTTPConfig                  `yaml:"http"`
	Tracing  observability.TracingConfig `yaml:"tracing"`
}

// GraphConfig selects the contact network.
type GraphConfig struct {
	// Kind is "erdos_renyi" (default), "complete" or "file".
	Kind string `yaml:"kind" validate:"oneof=erdos_renyi complete file"`
	// Nodes is the number of agents for generated graphs.
	Nodes int `yaml:"nodes" validate:"required_unless=Kind file,omitempty,gte=1"`
	// AvgDegree sets p = avg_degree / nodes for erdos_renyi.
	AvgDegree float64 `yaml:"avg_degree" validate:"gte=0"`
	// Path is a JSON edge list, used when Kind is "file".
	Path string `yaml:"path" validate:"required_if=Kind file"`
}

// SeedConfig names how many agents start outside Susceptible.
type SeedConfig struct {
	InitialOutbreakSize int `yaml:"initial_outbreak_size" validate:"gte=0"`
	Exposed             int `yaml:"exposed" validate:"gte=0"`
	Hibernating         int `yaml:"hibernating" validate:"gte=0"`
}

// RatesConfig mirrors model.Rates with YAML names.
type RatesConfig struct {
	Phi                 float64 `yaml:"phi" validate:"gte=0,lte=1"`
	B1                  float64 `yaml:"b1" validate:"gte=0,lte=1"`
	B2                  float64 `yaml:"b2" validate:"gte=0,lte=1"`
	B3                  float64 `yaml:"b3" validate:"gte=0,lte=1"`
	B4                  float64 `yaml:"b4" validate:"gte=0,lte=1"`
	B5                  float64 `yaml:"b5" validate:"gte=0,lte=1"`
	L2                  float64 `yaml:"l2" validate:"gte=0,lte=1"`
	L3                  float64 `yaml:"l3" validate:"gte=0,lte=1"`
	Mu                  float64 `yaml:"mu" validate:"gte=0,lte=1"`
	VirusCheckFrequency float64 `yaml:"virus_check_frequency" validate:"gte=0,lte=1"`
	N2                  float64 `yaml:"n2" validate:"gte=0,lte=1"`
}

// RunConfig controls stepping.
type RunConfig struct {
	Seed    uint64        `yaml:"seed"`
	Steps   int           `yaml:"steps" validate:"gte=0"`
	Tick    time.Duration `yaml:"tick" validate:"gte=0"`
	Mode    string        `yaml:"mode" validate:"oneof=accelerated realtime"`
	Workers int           `yaml:"workers" validate:"gte=1"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// HTTPConfig configures the observer endpoint. An empty Listen disables it.
type HTTPConfig struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration of the reference interactive model:
// 10 agents, average degree 3, one initial infection, seed 42.
func Default() *Config {
	r := model.DefaultRates()
	return &Config{
		Graph: GraphConfig{
			Kind:      GraphErdosRenyi,
			Nodes:     10,
			AvgDegree: 3,
		},
		Seeds: SeedConfig{
			InitialOutbreakSize: 1,
		},
		Rates: RatesConfig{
			Phi:                 r.Phi,
			B1:                  r.B1,
			B2:                  r.B2,
			B3:                  r.B3,
			B4:                  r.B4,
			B5:                  r.B5,
			L2:                  r.L2,
			L3:                  r.L3,
			Mu:                  r.Mu,
			VirusCheckFrequency: r.VirusCheckFrequency,
			N2:                  r.N2,
		},
		Exposure: "ambient",
		Run: RunConfig{
			Seed:    42,
			Steps:   50,
			Tick:    time.Second,
			Mode:    "accelerated",
			Workers: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			AllowedOrigins: []string{"*"},
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load returns defaults overlaid with the YAML file at path (if path is
// non-empty) and then with environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.LoadYAML(data)
}

// LoadYAML overlays YAML data onto c. Unknown keys are rejected.
func (c *Config) LoadYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides c with the SEHIR_* environment variables that are set.
func (c *Config) ApplyEnv() error {
	ints := map[string]*int{
		"SEHIR_NODES":                 &c.Graph.Nodes,
		"SEHIR_INITIAL_OUTBREAK_SIZE": &c.Seeds.InitialOutbreakSize,
		"SEHIR_SEED_EXPOSED":          &c.Seeds.Exposed,
		"SEHIR_SEED_HIBERNATING":      &c.Seeds.Hibernating,
		"SEHIR_STEPS":                 &c.Run.Steps,
		"SEHIR_WORKERS":               &c.Run.Workers,
	}
	for key, dst := range ints {
		if raw := os.Getenv(key); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, raw, err)
			}
			*dst = v
		}
	}

	if raw := os.Getenv("SEHIR_AVG_DEGREE"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%w: SEHIR_AVG_DEGREE=%q: %v", ErrInvalidConfig, raw, err)
		}
		c.Graph.AvgDegree = v
	}
	if raw := os.Getenv("SEHIR_SEED"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: SEHIR_SEED=%q: %v", ErrInvalidConfig, raw, err)
		}
		c.Run.Seed = v
	}
	if raw := os.Getenv("SEHIR_TICK"); raw != "" {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%w: SEHIR_TICK=%q: %v", ErrInvalidConfig, raw, err)
		}
		c.Run.Tick = v
	}

	strs := map[string]*string{
		"SEHIR_GRAPH_KIND": &c.Graph.Kind,
		"SEHIR_EXPOSURE":   &c.Exposure,
		"SEHIR_MODE":       &c.Run.Mode,
		"LOG_LEVEL":        &c.Logging.Level,
		"LOG_FORMAT":       &c.Logging.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = strings.ToLower(v)
		}
	}
	if v := os.Getenv("SEHIR_GRAPH_PATH"); v != "" {
		c.Graph.Path = v
	}
	if v := os.Getenv("SEHIR_HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}

	observability.ApplyTracingEnv(&c.Tracing)
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint and returns a readable error
// wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.ModelRates().Validate(); err != nil {
		// NaN passes the range tags
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.HTTP.Listen != "" {
		if _, _, err := net.SplitHostPort(c.HTTP.Listen); err != nil {
			return fmt.Errorf("%w: HTTP.Listen must be host:port (got %q)", ErrInvalidConfig, c.HTTP.Listen)
		}
	}
	return nil
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be >= %s (got %v)", field, fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s must be <= %s (got %v)", field, fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got %q)", field, fe.Param(), fe.Value())
	case "required_if", "required_unless":
		return fmt.Sprintf("%s is required", field)
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

// ModelRates converts the YAML rates into the engine's value type.
func (c *Config) ModelRates() model.Rates {
	r := c.Rates
	return model.Rates{
		Phi:                 r.Phi,
		B1:                  r.B1,
		B2:                  r.B2,
		B3:                  r.B3,
		B4:                  r.B4,
		B5:                  r.B5,
		L2:                  r.L2,
		L3:                  r.L3,
		Mu:                  r.Mu,
		VirusCheckFrequency: r.VirusCheckFrequency,
		N2:                  r.N2,
	}
}

// SeedPlan converts the seed counts into a core.SeedPlan.
func (c *Config) SeedPlan() core.SeedPlan {
	return core.SeedPlan{
		Infected:    c.Seeds.InitialOutbreakSize,
		Exposed:     c.Seeds.Exposed,
		Hibernating: c.Seeds.Hibernating,
	}
}

// Rule returns the transition rule selected by Exposure.
func (c *Config) Rule() core.Rule {
	if c.Exposure == "contact" {
		return core.SEHIRRule{Exposure: core.ExposureContact}
	}
	return core.SEHIRRule{Exposure: core.ExposureAmbient}
}

// ClockMode parses Run.Mode.
func (c *Config) ClockMode() (timectrl.Mode, error) {
	return timectrl.ParseMode(c.Run.Mode)
}
