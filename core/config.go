package core

import (
	"os"

	"github.com/spf13/cast"
	"github.com/vuuvv/errors"
	"gopkg.in/yaml.v3"
)

// DecodeAsRule remaps one discriminator to a protocol. Value accepts numbers
// or strings such as "0x2328".
type DecodeAsRule struct {
	Table    string `yaml:"table"`
	Value    any    `yaml:"value"`
	Protocol string `yaml:"protocol"`
}

func (r *DecodeAsRule) Discriminator() (Discriminator, error) {
	v, err := cast.ToUint64E(r.Value)
	if err != nil {
		return Discriminator{}, errors.Wrapf(ErrInvalidDiscriminator, "decode_as %s value %v", r.Table, r.Value)
	}
	if r.Table == "" {
		return Discriminator{}, errors.Wrapf(ErrInvalidDiscriminator, "decode_as %v has no table", r.Value)
	}
	return Discriminator{Table: r.Table, Value: v}, nil
}

// HeuristicRule installs a CEL expression as a heuristic probe.
type HeuristicRule struct {
	Name     string `yaml:"name"`
	Table    string `yaml:"table"`
	Protocol string `yaml:"protocol"`
	Expr     string `yaml:"expr"`
}

type Config struct {
	MaxDepth    int              `yaml:"max_depth"`
	HistorySize int              `yaml:"history_size"`
	DecodeAs    []*DecodeAsRule  `yaml:"decode_as"`
	Heuristics  []*HeuristicRule `yaml:"heuristics"`
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Setup(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ParseConfig(data)
}

func (c *Config) Setup() error {
	if c.MaxDepth < 0 {
		return errors.Errorf("max_depth must not be negative: %d", c.MaxDepth)
	}
	if c.HistorySize < 0 {
		return errors.Errorf("history_size must not be negative: %d", c.HistorySize)
	}
	for _, r := range c.DecodeAs {
		if _, err := r.Discriminator(); err != nil {
			return err
		}
	}
	for _, h := range c.Heuristics {
		if h.Table == "" {
			h.Table = TableAny
		}
		if h.Name == "" {
			h.Name = h.Protocol
		}
	}
	return nil
}

// Apply compiles the heuristic rules into registry. It must run before the
// registry is frozen.
func (c *Config) Apply(registry *Registry) error {
	for _, h := range c.Heuristics {
		eval, err := CompileExpression(h.Expr)
		if err != nil {
			return errors.Wrapf(err, "heuristic %s", h.Name)
		}
		err = registry.AddHeuristic(&Heuristic{Name: h.Name, Table: h.Table, Protocol: h.Protocol, Probe: eval.Probe})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) DispatcherConfig() DispatcherConfig {
	cfg := DispatcherConfig{MaxDepth: c.MaxDepth, DecodeAs: make(map[Discriminator]string)}
	for _, r := range c.DecodeAs {
		disc, err := r.Discriminator()
		if err != nil {
			continue
		}
		cfg.DecodeAs[disc] = r.Protocol
	}
	return cfg
}

func (c *Config) SessionOptions(metrics *Metrics) SessionOptions {
	return SessionOptions{Dispatcher: c.DispatcherConfig(), HistorySize: c.HistorySize, Metrics: metrics}
}
