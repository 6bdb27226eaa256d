// Package config provides the rc-file configuration loader.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/marimeireles/mamba/internal/core/domain"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Loader implements ports.ConfigLoader using a YAML rc file.
type Loader struct{}

// NewLoader creates a new Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// rcFile represents the structure of the .mambarc configuration file.
type rcFile struct {
	Channels   []string `yaml:"channels"`
	AlwaysYes  *bool    `yaml:"always_yes"`
	Offline    *bool    `yaml:"offline"`
	SSLVerify  *bool    `yaml:"ssl_verify"`
	CACertPath string   `yaml:"cacert_path"`
	Workers    int      `yaml:"workers"`
	MaxRetries int      `yaml:"max_retries"`
}

// Load merges the rc file at path into opts. A missing file leaves opts
// untouched; values already set on opts (by flags) win over file values.
func (l *Loader) Load(path string, opts domain.Options) (domain.Options, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is provided by user
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return opts, nil
		}
		return opts, zerr.Wrap(err, "failed to read rc file")
	}

	var rc rcFile
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return opts, zerr.With(fmt.Errorf("%w: %w", domain.ErrConfig, err), "path", path)
	}

	if len(opts.Channels) == 0 {
		opts.Channels = rc.Channels
	}
	if rc.AlwaysYes != nil && !opts.AlwaysYes {
		opts.AlwaysYes = *rc.AlwaysYes
	}
	if rc.Offline != nil && !opts.Offline {
		opts.Offline = *rc.Offline
	}
	if rc.SSLVerify != nil {
		opts.SSLVerify = *rc.SSLVerify
	}
	if opts.CACertPath == "" {
		opts.CACertPath = rc.CACertPath
	}
	if rc.Workers > 0 && opts.Workers == 0 {
		opts.Workers = rc.Workers
	}
	if rc.MaxRetries > 0 {
		opts.MaxRetries = rc.MaxRetries
	}
	return opts, nil
}
