// Package config resolves the run configuration: built-in defaults, then
// ui-test.toml, then UI_TEST_* environment variables. Command-line flags are
// applied last by the caller.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the config file looked up in the working directory.
const FileName = "ui-test.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "UI_TEST_"

// Formats are the known report formats.
var Formats = []string{"text", "json", "junit", "tui"}

// Browsers are the browser kinds the automation server accepts.
var Browsers = []string{"chromium", "chrome", "firefox", "webkit", "msedge"}

// Defaults.
const (
	DefaultServerCommand = "npx"
	DefaultServerPackage = "@playwright/mcp@latest"
)

// Config is the resolved run configuration.
type Config struct {
	Concurrency   int
	Timeout       time.Duration
	ActionTimeout time.Duration
	CleanupGrace  time.Duration
	Retries       int
	FailFast      bool

	Browser Browser
	Server  Server

	Format              string
	Output              string // report destination, empty for stdout
	Artifacts           string
	ScreenshotOnFailure bool
	Tags                []string
	Filter              string
	MetricsAddr         string
	Trace               string // JSONL trace file, empty to disable
	LogLevel            string
	Color               bool

	// Path is the config file that was loaded, if any.
	Path string
}

// Browser holds browser launch parameters.
type Browser struct {
	Kind     string
	Headless bool
	Width    int
	Height   int
}

// Server describes how to start the automation server.
type Server struct {
	Command string
	Args    []string
	Env     []string // KEY=VALUE
	// BrowserFlags appends --browser, --headless and --viewport-size
	// derived from Browser to Args.
	BrowserFlags bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Concurrency:   1,
		Timeout:       30 * time.Second,
		ActionTimeout: 10 * time.Second,
		CleanupGrace:  5 * time.Second,
		Retries:       3,
		Browser: Browser{
			Kind:     "chromium",
			Headless: true,
			Width:    1280,
			Height:   720,
		},
		Server: Server{
			Command:      DefaultServerCommand,
			Args:         []string{DefaultServerPackage},
			BrowserFlags: true,
		},
		Format:    "text",
		Artifacts: "ui-test-artifacts",
		LogLevel:  "warn",
		Color:     true,
	}
}

// fileConfig mirrors ui-test.toml. Pointers distinguish unset from zero.
type fileConfig struct {
	Concurrency         *int     `toml:"concurrency"`
	Timeout             string   `toml:"timeout"`
	ActionTimeout       string   `toml:"action_timeout"`
	CleanupGrace        string   `toml:"cleanup_grace"`
	Retries             *int     `toml:"retries"`
	FailFast            *bool    `toml:"fail_fast"`
	Format              string   `toml:"format"`
	Output              string   `toml:"output"`
	Artifacts           string   `toml:"artifacts"`
	ScreenshotOnFailure *bool    `toml:"screenshot_on_failure"`
	Tags                []string `toml:"tags"`
	Filter              string   `toml:"filter"`
	MetricsAddr         string   `toml:"metrics_addr"`
	Trace               string   `toml:"trace"`
	LogLevel            string   `toml:"log_level"`

	Browser struct {
		Kind     string `toml:"kind"`
		Headless *bool  `toml:"headless"`
		Width    *int   `toml:"width"`
		Height   *int   `toml:"height"`
	} `toml:"browser"`

	Server struct {
		Command      string            `toml:"command"`
		Args         []string          `toml:"args"`
		Env          map[string]string `toml:"env"`
		BrowserFlags *bool             `toml:"browser_flags"`
	} `toml:"server"`
}

// Load resolves defaults, the config file and the environment. An explicit
// path must exist; otherwise ui-test.toml in the working directory is used
// when present.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = FileName
	}
	if _, err := os.Stat(path); err == nil {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	} else if explicit {
		return cfg, fmt.Errorf("config file: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile merges a TOML file into cfg. Unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("parse %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := c.merge(fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.Path = path
	return nil
}

func (c *Config) merge(fc fileConfig) error {
	setInt(&c.Concurrency, fc.Concurrency)
	setInt(&c.Retries, fc.Retries)
	setBool(&c.FailFast, fc.FailFast)
	setBool(&c.ScreenshotOnFailure, fc.ScreenshotOnFailure)
	setString(&c.Format, fc.Format)
	setString(&c.Output, fc.Output)
	setString(&c.Artifacts, fc.Artifacts)
	setString(&c.Filter, fc.Filter)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	setString(&c.Trace, fc.Trace)
	setString(&c.LogLevel, fc.LogLevel)
	if fc.Tags != nil {
		c.Tags = fc.Tags
	}

	for _, d := range []struct {
		dst  *time.Duration
		src  string
		name string
	}{
		{&c.Timeout, fc.Timeout, "timeout"},
		{&c.ActionTimeout, fc.ActionTimeout, "action_timeout"},
		{&c.CleanupGrace, fc.CleanupGrace, "cleanup_grace"},
	} {
		if d.src == "" {
			continue
		}
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	setString(&c.Browser.Kind, fc.Browser.Kind)
	setBool(&c.Browser.Headless, fc.Browser.Headless)
	setInt(&c.Browser.Width, fc.Browser.Width)
	setInt(&c.Browser.Height, fc.Browser.Height)

	setString(&c.Server.Command, fc.Server.Command)
	if fc.Server.Args != nil {
		c.Server.Args = fc.Server.Args
	} else if fc.Server.Command != "" && fc.Server.Command != DefaultServerCommand {
		c.Server.Args = nil
	}
	setBool(&c.Server.BrowserFlags, fc.Server.BrowserFlags)
	keys := make([]string, 0, len(fc.Server.Env))
	for k := range fc.Server.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		c.Server.Env = append(c.Server.Env, k+"="+fc.Server.Env[k])
	}
	return nil
}

// ApplyEnv applies UI_TEST_* overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	intVar := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolVar := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	durVar := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	strVar := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	intVar("CONCURRENCY", &c.Concurrency)
	intVar("RETRIES", &c.Retries)
	durVar("TIMEOUT", &c.Timeout)
	durVar("ACTION_TIMEOUT", &c.ActionTimeout)
	durVar("CLEANUP_GRACE", &c.CleanupGrace)
	boolVar("FAIL_FAST", &c.FailFast)
	boolVar("HEADLESS", &c.Browser.Headless)
	boolVar("SCREENSHOT_ON_FAILURE", &c.ScreenshotOnFailure)
	strVar("BROWSER", &c.Browser.Kind)
	strVar("FORMAT", &c.Format)
	strVar("ARTIFACTS", &c.Artifacts)
	strVar("METRICS_ADDR", &c.MetricsAddr)
	strVar("TRACE", &c.Trace)
	strVar("LOG_LEVEL", &c.LogLevel)
	if v, ok := get("SERVER_COMMAND"); ok {
		fields := strings.Fields(v)
		c.Server.Command = fields[0]
		c.Server.Args = fields[1:]
	}
	if _, ok := lookup("NO_COLOR"); ok {
		c.Color = false
	}
	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.ActionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("action timeout must be positive, got %s", c.ActionTimeout))
	}
	if c.CleanupGrace <= 0 {
		errs = append(errs, fmt.Errorf("cleanup grace must be positive, got %s", c.CleanupGrace))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		errs = append(errs, fmt.Errorf("viewport must be positive, got %dx%d", c.Browser.Width, c.Browser.Height))
	}
	if !slices.Contains(Browsers, c.Browser.Kind) {
		errs = append(errs, fmt.Errorf("unknown browser %q (known: %s)", c.Browser.Kind, strings.Join(Browsers, ", ")))
	}
	if !slices.Contains(Formats, c.Format) {
		errs = append(errs, fmt.Errorf("unknown format %q (known: %s)", c.Format, strings.Join(Formats, ", ")))
	}
	if c.Server.Command == "" {
		errs = append(errs, errors.New("server command must not be empty"))
	}
	return errors.Join(errs...)
}

// ServerArgs returns the automation server's arguments with the browser
// launch parameters appended.
func (c *Config) ServerArgs() []string {
	args := append([]string(nil), c.Server.Args...)
	if !c.Server.BrowserFlags {
		return args
	}
	if c.Browser.Kind != "" && c.Browser.Kind != "chromium" {
		args = append(args, "--browser", c.Browser.Kind)
	}
	if c.Browser.Headless {
		args = append(args, "--headless")
	}
	if c.Browser.Width > 0 && c.Browser.Height > 0 {
		args = append(args, "--viewport-size", fmt.Sprintf("%d,%d", c.Browser.Width, c.Browser.Height))
	}
	return args
}

// LoadDotEnv reads KEY=VALUE lines from path and sets any variable not
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, val)
		}
	}
	return scanner.Err()
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
