// Package config loads run settings from a YAML file, LOADTANK_* environment
// variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"loadtank/internal/ammo"
	"loadtank/internal/autostop"
	"loadtank/internal/schedule"
	"loadtank/internal/stpd"
)

const (
	GeneratorHTTP    = "http"
	GeneratorProcess = "process"
)

type Process struct {
	Path string
	Args []string
}

type Config struct {
	Generator string
	Target    string
	Timeout   time.Duration
	Process   Process

	Stepper   stpd.Config
	Autostop  []string
	Artifacts string

	Tick  time.Duration
	Grace time.Duration
	Lag   int

	LogLevel  string
	LogFormat string
	Metrics   string
	Journal   string
	Out       string
	UI        bool
}

// SetDefaults registers every key with its default so that env variables
// are picked up for keys absent from the file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("generator", GeneratorHTTP)
	v.SetDefault("target", "")
	v.SetDefault("timeout", "10s")
	v.SetDefault("process.path", "")
	v.SetDefault("process.args", []string{})

	v.SetDefault("rps_schedule", []string{})
	v.SetDefault("instances_schedule", []string{})
	v.SetDefault("instances", 1000)

	v.SetDefault("ammo.file", "")
	v.SetDefault("ammo.type", "phantom")
	v.SetDefault("ammo.uris", []string{})
	v.SetDefault("ammo.headers", []string{})
	v.SetDefault("ammo.http_version", "1.1")
	v.SetDefault("ammo.loop", -1)
	v.SetDefault("ammo.limit", -1)
	v.SetDefault("ammo.marker", "")
	v.SetDefault("ammo.enum", false)
	v.SetDefault("ammo.chosen_cases", []string{})
	v.SetDefault("ammo.hash", "")

	v.SetDefault("stepper.cache_dir", defaultCacheDir())
	v.SetDefault("stepper.use_cache", true)
	v.SetDefault("stepper.force", false)
	v.SetDefault("stepper.max_size", int64(0))

	v.SetDefault("autostop", []string{})
	v.SetDefault("artifacts_dir", "logs")

	v.SetDefault("core.tick", "1s")
	v.SetDefault("core.grace", "10s")
	v.SetDefault("core.lag", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("journal", filepath.Join(defaultCacheDir(), "runs.db"))
	v.SetDefault("out", "")
	v.SetDefault("ui", false)
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "loadtank")
	}
	return ".loadtank"
}

// New returns a viper instance set up for loadtank: env prefix, key
// replacer and defaults. File is read when set, otherwise
// $HOME/.loadtank.yaml is read if it exists.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("LOADTANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
			v.SetConfigType("yaml")
			v.SetConfigName(".loadtank")
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return v, nil
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (Config, error) {
	c := Read(v)
	return c, c.Validate()
}

// Read builds a Config from v without validating it.
func Read(v *viper.Viper) Config {
	return Config{
		Generator: v.GetString("generator"),
		Target:    v.GetString("target"),
		Timeout:   v.GetDuration("timeout"),
		Process: Process{
			Path: v.GetString("process.path"),
			Args: v.GetStringSlice("process.args"),
		},
		Stepper: stpd.Config{
			RPSSchedule:       v.GetStringSlice("rps_schedule"),
			InstancesSchedule: v.GetStringSlice("instances_schedule"),
			Instances:         v.GetInt("instances"),
			Ammo: ammo.Options{
				File:        v.GetString("ammo.file"),
				Type:        v.GetString("ammo.type"),
				URIs:        v.GetStringSlice("ammo.uris"),
				Headers:     v.GetStringSlice("ammo.headers"),
				HTTPVersion: v.GetString("ammo.http_version"),
				Limits: ammo.Limits{
					Loops: max(0, v.GetInt("ammo.loop")),
					Count: max(0, v.GetInt("ammo.limit")),
				},
				Marker:      v.GetString("ammo.marker"),
				Enumerate:   v.GetBool("ammo.enum"),
				ChosenCases: v.GetStringSlice("ammo.chosen_cases"),
			},
			AmmoHash:      v.GetString("ammo.hash"),
			CacheDir:      v.GetString("stepper.cache_dir"),
			UseCache:      v.GetBool("stepper.use_cache"),
			ForceStepping: v.GetBool("stepper.force"),
			MaxSize:       v.GetInt64("stepper.max_size"),
		},
		Autostop:  v.GetStringSlice("autostop"),
		Artifacts: v.GetString("artifacts_dir"),
		Tick:      v.GetDuration("core.tick"),
		Grace:     v.GetDuration("core.grace"),
		Lag:       v.GetInt("core.lag"),
		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
		Metrics:   v.GetString("metrics.listen"),
		Journal:   v.GetString("journal"),
		Out:       v.GetString("out"),
		UI:        v.GetBool("ui"),
	}
}

// Validate fails on settings that would only break once the test runs.
func (c Config) Validate() error {
	switch c.Generator {
	case GeneratorHTTP:
		if c.Target == "" {
			return errors.New("config: target is required for the http generator")
		}
	case GeneratorProcess:
		if c.Process.Path == "" {
			return errors.New("config: process.path is required for the process generator")
		}
	default:
		return fmt.Errorf("config: unknown generator %q", c.Generator)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	if c.Stepper.Instances < 0 {
		return fmt.Errorf("config: instances must not be negative, got %d", c.Stepper.Instances)
	}
	if c.Lag < 1 {
		return fmt.Errorf("config: core.lag must be at least 1, got %d", c.Lag)
	}
	for _, def := range c.Autostop {
		for _, text := range autostop.Split(def) {
			if _, err := autostop.Parse(text); err != nil {
				return err
			}
		}
	}
	return c.ValidateStepper()
}

// ValidateStepper checks only what is needed to build the artifact.
func (c Config) ValidateStepper() error {
	if err := schedule.CheckExclusive(c.Stepper.RPSSchedule, c.Stepper.InstancesSchedule); err != nil {
		return err
	}
	if len(c.Stepper.RPSSchedule) == 0 && len(c.Stepper.InstancesSchedule) == 0 {
		return errors.New("config: one of rps_schedule or instances_schedule is required")
	}
	if _, err := schedule.Build(c.Stepper.RPSSchedule, c.Stepper.InstancesSchedule); err != nil {
		return err
	}
	if c.Stepper.Ammo.File == "" && len(c.Stepper.Ammo.URIs) == 0 {
		return errors.New("config: ammo.file or ammo.uris is required")
	}
	return nil
}

// ReportPath is where the autostop report goes.
func (c Config) ReportPath() string {
	return filepath.Join(c.Artifacts, autostop.DefaultReportFile)
}

// PhoutPath is the raw result file of the run.
func (c Config) PhoutPath() string {
	return filepath.Join(c.Artifacts, "phout.txt")
}
