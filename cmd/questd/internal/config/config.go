// Copyright 2025 Tom Barlow
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

// Package config loads questd's recognised configuration keys
// (store_path, worker_endpoints, default_tool_timeout_ms,
// retry.max_tries_cap, retry.wait_ms_cap) from a questd.yaml file
// layered under QUESTD_-prefixed environment variables.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// RetryCaps bounds how far a step's retry policy is allowed to clamp.
type RetryCaps struct {
	MaxTriesCap int `mapstructure:"max_tries_cap"`
	WaitMsCap   int `mapstructure:"wait_ms_cap"`
}

// Config is questd's fully-resolved configuration.
type Config struct {
	StorePath            string            `mapstructure:"store_path"`
	WorkerEndpoints      map[string]string `mapstructure:"worker_endpoints"`
	DefaultToolTimeoutMs int               `mapstructure:"default_tool_timeout_ms"`
	Retry                RetryCaps         `mapstructure:"retry"`
}

// Load reads configuration from path (if non-empty), ./questd.yaml, or
// $HOME/.questd/questd.yaml, overlaying QUESTD_-prefixed environment
// variables. A missing config file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("store_path", "questd.db")
	v.SetDefault("default_tool_timeout_ms", 30000)
	v.SetDefault("retry.max_tries_cap", 5)
	v.SetDefault("retry.wait_ms_cap", 5000)

	v.SetEnvPrefix("QUESTD")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("questd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.questd")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
