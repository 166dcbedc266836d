// Package config holds the settings of an extsort run. Settings come from
// defaults, an optional YAML file and command line flags, in that order of
// precedence from lowest to highest.
package config

import (
	"io"
	"os"

	"github.com/moby/patternmatcher"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tonistiigi/extsort"
	"gopkg.in/yaml.v3"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

type Config struct {
	// Workers bounds concurrent copies. 0 picks a default, -1 is unbounded.
	Workers        int  `yaml:"workers"`
	FollowSymlinks bool `yaml:"follow_symlinks"`
	// Case is "preserve" or "lower".
	Case         string   `yaml:"case"`
	PreserveMode bool     `yaml:"preserve_mode"`
	Sniff        bool     `yaml:"sniff"`
	Sync         bool     `yaml:"sync"`
	Exclude      []string `yaml:"exclude"`
	LogLevel     string   `yaml:"log_level"`
	LogFormat    string   `yaml:"log_format"`
	NoColor      bool     `yaml:"no_color"`
}

func Default() *Config {
	return &Config{
		FollowSymlinks: true,
		Case:           extsort.CasePreserve.String(),
		LogLevel:       "info",
		LogFormat:      FormatText,
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return cfg, nil
}

// CaseMode returns the parsed Case setting. Call Validate first.
func (c *Config) CaseMode() extsort.CaseMode {
	m, _ := extsort.ParseCaseMode(c.Case)
	return m
}

func (c *Config) Validate() error {
	if c.Workers < -1 {
		return errors.Errorf("workers must be >= -1, got %d", c.Workers)
	}
	if _, err := extsort.ParseCaseMode(c.Case); err != nil {
		return errors.Wrap(err, "invalid case")
	}
	if len(c.Exclude) > 0 {
		if _, err := patternmatcher.New(c.Exclude); err != nil {
			return errors.Wrapf(err, "invalid exclude patterns %q", c.Exclude)
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Errorf("invalid log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case FormatText, FormatJSON:
	default:
		return errors.Errorf("invalid log_format %q, must be one of: text, json", c.LogFormat)
	}
	return nil
}
