// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package docengine

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sassoftware/viya-doc-engine/logger"
	"gopkg.in/yaml.v3"
)

// CacheLimits bounds one cache region. MaxBytes of 0 disables the byte budget.
type CacheLimits struct {
	MaxEntries int   `yaml:"max_entries" validate:"min=1"`
	MaxBytes   int64 `yaml:"max_bytes" validate:"min=0"`
}

type Config struct {
	PoolCapacity         int            `yaml:"pool_capacity" validate:"min=1,max=64"`
	ContextDocuments     int            `yaml:"context_documents" validate:"min=1,max=256"`
	ActorQueueSize       int            `yaml:"actor_queue_size" validate:"min=1"`
	OperationTimeout     time.Duration  `yaml:"operation_timeout" validate:"required"`
	ParsedCache          CacheLimits    `yaml:"parsed_cache"`
	RenderCache          CacheLimits    `yaml:"render_cache"`
	TextCache            CacheLimits    `yaml:"text_cache"`
	DefaultThumbnailSize int            `yaml:"default_thumbnail_size" validate:"min=16,max=4096"`
	SearchSnippetRadius  int            `yaml:"search_snippet_radius" validate:"min=0,max=1000"`
	DebugOn              bool           `yaml:"debug"`
	Logger               logger.LogFunc `yaml:"-"`
}

func NewDefaultConfig() *Config {
	return &Config{
		PoolCapacity:     4,
		ContextDocuments: 8,
		ActorQueueSize:   64,
		OperationTimeout: 30 * time.Second,
		ParsedCache: CacheLimits{
			MaxEntries: 256,
		},
		RenderCache: CacheLimits{
			MaxEntries: 512,
			MaxBytes:   256 << 20,
		},
		TextCache: CacheLimits{
			MaxEntries: 1024,
			MaxBytes:   64 << 20,
		},
		DefaultThumbnailSize: 256,
		SearchSnippetRadius:  40,
		DebugOn:              false,
	}
}

func (cfg *Config) Validate() error {
	logger.Debug("Validating Config Object")
	validate := validator.New()
	return validate.Struct(cfg)
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	logger.Debug(fmt.Sprintf("Config loaded: path=%s pool_capacity=%d timeout=%s", path, cfg.PoolCapacity, cfg.OperationTimeout), true)
	return cfg, nil
}
