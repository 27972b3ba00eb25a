package stpd

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"loadtank/internal/ammo"
	"loadtank/internal/schedule"
)

// Config is everything needed to produce a run's artifact.
type Config struct {
	RPSSchedule       []string
	InstancesSchedule []string
	// Instances is the worker pool size for rps schedules.
	Instances int

	Ammo ammo.Options
	// AmmoHash, when set, replaces the file identity (path, size, mtime)
	// in the cache key.
	AmmoHash string

	CacheDir      string
	UseCache      bool
	ForceStepping bool
	MaxSize       int64
}

// Prepare builds or reuses the artifact described by cfg.
func Prepare(cfg Config, log *zap.Logger) (Entry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "stepper"))

	plan, err := schedule.Build(cfg.RPSSchedule, cfg.InstancesSchedule)
	if err != nil {
		return Entry{}, err
	}
	_, isRate := plan.(*schedule.RatePlan)

	opts := cfg.Ammo
	if opts.Limits.Loops == 0 && opts.Limits.Count == 0 && !isRate {
		// An instances plan never ends on its own.
		opts.Limits.Loops = 1
	}

	key, err := cacheKey(cfg, opts)
	if err != nil {
		return Entry{}, err
	}
	cache := &Cache{Dir: cfg.CacheDir, Log: log}
	force := cfg.ForceStepping || !cfg.UseCache

	entry, err := cache.GetOrBuild(artifactName(opts), key, force, func(w io.Writer) (Info, error) {
		progress := &logProgress{total: plan.Len(), log: log}
		if !isRate {
			progress.total = int64(opts.Limits.Count)
		}
		src, err := ammo.New(opts, progress, log)
		if err != nil {
			return Info{}, err
		}
		defer src.Close()
		st := &Stepper{Plan: plan, Ammo: src, Instances: cfg.Instances, MaxSize: cfg.MaxSize, Log: log}
		return st.Write(w)
	})
	if err != nil {
		return Entry{}, err
	}
	if isRate && cfg.Instances > 0 {
		entry.Info.Instances = cfg.Instances
	}
	return entry, nil
}

func artifactName(opts ammo.Options) string {
	if len(opts.URIs) > 0 || opts.File == "" {
		return "uris"
	}
	return filepath.Base(opts.File)
}

func cacheKey(cfg Config, opts ammo.Options) (Key, error) {
	b := NewKeyBuilder().
		AddList("rps_schedule", cfg.RPSSchedule).
		AddList("instances_schedule", cfg.InstancesSchedule).
		Add("loop", strconv.Itoa(opts.Limits.Loops)).
		Add("ammo_limit", strconv.Itoa(opts.Limits.Count)).
		Add("marker", opts.Marker).
		Add("enum", strconv.FormatBool(opts.Enumerate)).
		AddList("uris", opts.URIs).
		AddList("headers", opts.Headers).
		Add("http_ver", opts.HTTPVersion).
		AddList("chosen_cases", opts.ChosenCases).
		Add("ammo_type", opts.Type).
		Add("instances", strconv.Itoa(cfg.Instances))

	switch {
	case cfg.AmmoHash != "":
		b.Add("ammo_hash", cfg.AmmoHash)
	case opts.File != "" && len(opts.URIs) == 0:
		id, err := ammo.FileIdentity(opts.File)
		if err != nil {
			return Key{}, fmt.Errorf("stpd: ammo file: %w", err)
		}
		b.Add("ammo_file", id.String())
	}
	return b.Key(), nil
}
