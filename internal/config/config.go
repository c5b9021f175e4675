// Package config loads rewatch settings and the watch rule table.
//
// Values are resolved with the following precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (REWATCH_ prefix)
//  3. Config file (.rewatch.yaml in the working directory or $HOME)
//  4. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/TFMV/rewatch/internal/rebuild"
)

// Rule is the config-file form of a watch rule.
type Rule struct {
	Name      string   `mapstructure:"name"`
	Source    string   `mapstructure:"source"`
	Glob      string   `mapstructure:"glob"`
	Regex     string   `mapstructure:"regex"`
	Output    string   `mapstructure:"output"`
	Extension string   `mapstructure:"extension"`
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
}

// WatchRule converts r to the engine's rule type.
func (r Rule) WatchRule() rebuild.WatchRule {
	return rebuild.WatchRule{
		Name:      r.Name,
		SourceDir: r.Source,
		Glob:      r.Glob,
		Regex:     r.Regex,
		OutputDir: r.Output,
		OutputExt: r.Extension,
		Command:   r.Command,
		Args:      r.Args,
	}
}

// Config is the resolved rewatch configuration.
type Config struct {
	LogLevel     string `mapstructure:"log-level"`
	Verbose      bool   `mapstructure:"verbose"`
	Silent       bool   `mapstructure:"silent"`
	Serialize    bool   `mapstructure:"serialize"`
	InitialBuild bool   `mapstructure:"initial-build"`
	Workers      int    `mapstructure:"workers"`
	Rules        []Rule `mapstructure:"rules"`

	// ConfigFile is the config file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

// DefaultRules reproduces the template and stylesheet watchers the tool
// replaces: HAML templates to HTML and LESS stylesheets to CSS.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "haml",
			Source:    "webdev/templates",
			Glob:      "*.haml",
			Output:    "web/templates",
			Extension: ".html",
			Command:   "haml",
		},
		{
			Name:      "less",
			Source:    "webdev/css/less",
			Glob:      "*.less",
			Output:    "web/assets/css",
			Extension: ".css",
			Command:   "lessc",
		},
	}
}

// Default returns a Config with default values and the built-in rules.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Workers:  4,
		Rules:    DefaultRules(),
	}
}

// Validate checks every setting and reports all problems together.
func (c *Config) Validate() error {
	var errs error
	if _, err := rebuild.ParseLogLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Verbose && c.Silent {
		errs = multierr.Append(errs, errors.New("verbose and silent are mutually exclusive"))
	}
	if c.Workers < 1 {
		errs = multierr.Append(errs, fmt.Errorf("invalid workers value %d: must be at least 1", c.Workers))
	}
	if _, err := rebuild.CompileRules(c.WatchRules()); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// EffectiveLogLevel applies the verbose and silent switches to LogLevel.
func (c *Config) EffectiveLogLevel() rebuild.LogLevel {
	switch {
	case c.Verbose:
		return rebuild.LogLevelDebug
	case c.Silent:
		return rebuild.LogLevelError
	}
	level, _ := rebuild.ParseLogLevel(c.LogLevel)
	return level
}

// WatchRules returns the configured rules in engine form.
func (c *Config) WatchRules() []rebuild.WatchRule {
	rules := make([]rebuild.WatchRule, 0, len(c.Rules))
	for _, r := range c.Rules {
		rules = append(rules, r.WatchRule())
	}
	return rules
}

// Load resolves configuration from flags, environment and an optional config
// file. A fresh viper instance is used on every call.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := configureFile(v, configFile); err != nil {
		return nil, err
	}

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("verbose", false)
	v.SetDefault("silent", false)
	v.SetDefault("serialize", false)
	v.SetDefault("initial-build", false)
	v.SetDefault("workers", d.Workers)
}

func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("REWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func configureFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName(".rewatch")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// bindFlags binds the command's flags and every persistent flag up to the root.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}
	return nil
}
