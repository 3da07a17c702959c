// Package vdissect decodes captured frames into annotated field trees. It
// wires the engine in core with the built-in dissectors.
package vdissect

import (
	"os"

	"github.com/vuuvv/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/vuuvv/vdissect/core"
	"github.com/vuuvv/vdissect/dissector"
	"github.com/vuuvv/vdissect/log"
	"github.com/vuuvv/vdissect/tcp"
)

type Registry = core.Registry
type Session = core.Session
type SessionOptions = core.SessionOptions
type Frame = core.Frame
type Field = core.Field
type Cursor = core.Cursor
type Context = core.Context
type Metrics = core.Metrics

var NewMetrics = core.NewMetrics

type TcpServer = tcp.Server
type TcpServerConfig = tcp.ServerConfig

var NewTcpServer = tcp.NewServer

func Setup() {
	var logger *zap.Logger
	var err error
	if !zap.L().Core().Enabled(zapcore.PanicLevel) {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
	} else {
		logger = zap.L()
	}
	log.SetLogger(logger)
	log.SetDefaultLogger(logger)
}

// Config is the engine config plus the protocols declared in the same file.
type Config struct {
	core.Config `yaml:",inline"`
	Framed      []*dissector.FramedConfig `yaml:"framed"`
	Server      *tcp.ServerConfig         `yaml:"server"`
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Config.Setup(); err != nil {
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

// Apply registers the framed protocols first, so heuristic rules can target
// them.
func (c *Config) Apply(registry *Registry) error {
	if err := dissector.RegisterFramed(registry, c.Framed); err != nil {
		return err
	}
	return c.Config.Apply(registry)
}

// NewRegistry returns a registry holding the built-in dissectors, not yet
// frozen.
func NewRegistry() (*Registry, error) {
	reg := core.NewRegistry()
	if err := dissector.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// NewSession builds a registry with the built-in dissectors, applies cfg when
// given and starts a session over it.
func NewSession(cfg *Config, metrics *Metrics) (*Session, error) {
	reg, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return core.NewSession(reg, SessionOptions{Metrics: metrics}), nil
	}
	if err = cfg.Apply(reg); err != nil {
		return nil, err
	}
	return core.NewSession(reg, cfg.SessionOptions(metrics)), nil
}
