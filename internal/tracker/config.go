// Copyright 2025 Trackfs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracker

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"trackfs/internal/common"
)

// Strategy selects how detected drift is handled before a tracked operation.
type Strategy string

const (
	// StrategyStrict rejects the operation outright on any drift.
	StrategyStrict Strategy = "strict"
	// StrategyWarn proceeds and surfaces warnings.
	StrategyWarn Strategy = "warn"
	// StrategyAutoIntegrate synthesizes a compensating snapshot carrying
	// the drift so the chain stays truthful about what happened on disk.
	StrategyAutoIntegrate Strategy = "auto-integrate"
)

// ParseStrategy normalizes the strategy spellings accepted in config and
// API options ("strict"/"reject", "warn", "auto-integrate"/"integrate").
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "warn":
		return StrategyWarn, nil
	case "strict", "reject":
		return StrategyStrict, nil
	case "auto-integrate", "integrate":
		return StrategyAutoIntegrate, nil
	default:
		return "", fmt.Errorf("unknown validation strategy %q", s)
	}
}

// Config is the per-workspace configuration from .trackfs/config.yaml.
type Config struct {
	Validation         string `yaml:"validation"`           // strict, warn, auto-integrate
	KeepAllCheckpoints bool   `yaml:"keep-all-checkpoints"` // default: false (latest only)
	TrackJSON          bool   `yaml:"track-json"`           // default: false (*.json ignored)
	Logging            string `yaml:"logging"`              // none, warn, info, debug, trace
	CheckpointMaxAge   string `yaml:"checkpoint-max-age"`   // e.g. "168h", empty = no age pruning
}

// ApplyDefaults fills zero-value fields with their defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Validation == "" {
		cfg.Validation = string(StrategyWarn)
	}
	if cfg.Logging == "" {
		cfg.Logging = "warn"
	}
}

// Strategy returns the configured validation strategy.
func (cfg *Config) Strategy() Strategy {
	s, err := ParseStrategy(cfg.Validation)
	if err != nil {
		log.WithField("validation", cfg.Validation).Warn("config: unknown strategy, using warn")
		return StrategyWarn
	}
	return s
}

// LoadConfig reads the workspace config file. A missing file yields the
// defaults; a malformed file is an error so misconfiguration is not
// silently ignored.
func LoadConfig(workspace string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(common.ConfigPath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ConfigureLogging applies the configured logging level to logrus.
func ConfigureLogging(level string) {
	switch strings.ToLower(level) {
	case "none":
		log.SetOutput(io.Discard)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "trace":
		log.SetLevel(log.TraceLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}
