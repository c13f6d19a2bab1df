// Copyright 2016 CoreOS, Inc.
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

// Package config loads the core's on-disk configuration: the few
// knobs spec.md leaves to deployment (server URL, check interval,
// signing key path) rather than to compiled-in constants.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the on-disk settings file, normally installed at
// /etc/flatcar/update.conf or overridden for testing.
type EngineConfig struct {
	// ServerURL is the update check endpoint.
	ServerURL string `yaml:"server_url"`

	// PublicKeyPath is where the payload-signing public key (PEM/PKIX)
	// is staged on the root filesystem.
	PublicKeyPath string `yaml:"public_key_path"`

	// CheckInterval is the scheduler's nominal (pre-jitter) interval
	// between update checks.
	CheckInterval time.Duration `yaml:"check_interval"`

	// CheckJitter bounds the uniform jitter added to CheckInterval.
	CheckJitter time.Duration `yaml:"check_jitter"`

	// MaxBackoff caps the scheduler's exponential backoff after
	// consecutive failed attempts.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BootFlagsDelay is how long after process start the core waits
	// before calling UpdateBootFlags (spec.md §4.5).
	BootFlagsDelay time.Duration `yaml:"boot_flags_delay"`

	// PrefsDir is the directory the prefs store is rooted at.
	PrefsDir string `yaml:"prefs_dir"`
}

// Default returns the engine's built-in configuration, used when no
// on-disk file is present.
func Default() EngineConfig {
	return EngineConfig{
		ServerURL:      "https://public.update.flatcar-linux.net/v1/update/",
		PublicKeyPath:  "/usr/share/update_engine/update-payload-key.pub.pem",
		CheckInterval:  45 * time.Minute,
		CheckJitter:    10 * time.Minute,
		MaxBackoff:     8 * time.Hour,
		BootFlagsDelay: 45 * time.Second,
		PrefsDir:       "/var/lib/update_engine/prefs",
	}
}

// Load reads and parses an EngineConfig from path, applying Default's
// values for any field the file leaves zero.
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return EngineConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
