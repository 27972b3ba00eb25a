package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"loadtank/internal/banner"
	"loadtank/internal/config"
)

var (
	cfgFile string

	// exitCode is what the process exits with once the command returns.
	exitCode int
)

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"generator":          "generator",
	"target":             "target",
	"timeout":            "timeout",
	"process":            "process.path",
	"process-arg":        "process.args",
	"rps":                "rps_schedule",
	"instances-schedule": "instances_schedule",
	"instances":          "instances",
	"ammo":               "ammo.file",
	"ammo-type":          "ammo.type",
	"uri":                "ammo.uris",
	"header":             "ammo.headers",
	"loop":               "ammo.loop",
	"limit":              "ammo.limit",
	"force-stepping":     "stepper.force",
	"autostop":           "autostop",
	"artifacts":          "artifacts_dir",
	"out":                "out",
	"ui":                 "ui",
	"metrics":            "metrics.listen",
	"journal":            "journal",
	"log-level":          "log.level",
	"log-format":         "log.format",
}

var rootCmd = &cobra.Command{
	Use:   "loadtank",
	Short: "loadtank - schedule driven load testing",
	Long: `
loadtank plays a load schedule against a target and stops the test when
the target degrades.

The schedule is either a requests-per-second curve (open loop) or a worker
count curve (closed loop). Results are aggregated per second and checked
against autostop criteria such as time(1s, 10s) or http(5xx, 10%, 5s).

Settings come from $HOME/.loadtank.yaml or --config, LOADTANK_* variables
and flags, in increasing priority.`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadViper(cmd)
		if err != nil {
			return err
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		exitCode, err = runTest(cmd.Context(), cfg)
		return err
	},
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func init() {
	rootCmd.AddCommand(stepperCmd, historyCmd, dummyCmd)

	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.loadtank.yaml)")

	f.String("generator", config.GeneratorHTTP, "generator: http or process")
	f.StringP("target", "u", "", "base URL for the http generator")
	f.Duration("timeout", 0, "request timeout")
	f.String("process", "", "external generator binary")
	f.StringArray("process-arg", nil, "external generator argument, may use {artifact} {phout} {instances} {run}")

	f.StringArrayP("rps", "r", nil, "rps schedule step, e.g. \"line(1, 100, 1m)\" (repeatable)")
	f.StringArray("instances-schedule", nil, "worker count schedule step (repeatable)")
	f.IntP("instances", "i", 0, "worker pool size for rps schedules")

	f.StringP("ammo", "a", "", "ammo file")
	f.String("ammo-type", "", "ammo format: phantom, uri, uripost, access")
	f.StringArray("uri", nil, "inline uri ammo (repeatable)")
	f.StringArrayP("header", "H", nil, "header for uri ammo, e.g. \"Host: example.org\" (repeatable)")
	f.Int("loop", 0, "ammo loops, -1 for endless")
	f.Int("limit", 0, "ammo count limit, -1 for none")
	f.Bool("force-stepping", false, "rebuild the schedule artifact even if cached")

	f.StringArrayP("autostop", "s", nil, "autostop criterion, e.g. \"time(1s, 10s)\" (repeatable)")
	f.String("artifacts", "", "directory for run artifacts")
	f.StringP("out", "o", "", "prefix for the csv and json reports")
	f.Bool("ui", false, "show the live dashboard")
	f.String("metrics", "", "serve prometheus metrics on this address")
	f.String("journal", "", "run journal database")
	f.String("log-level", "", "log level")
	f.String("log-format", "", "log format: console or json")
}

// loadViper reads the config file and environment and binds the command's
// flags on top.
func loadViper(cmd *cobra.Command) (*viper.Viper, error) {
	v, err := config.New(cfgFile)
	if err != nil {
		return nil, err
	}
	var bindErr error
	cmd.Flags().VisitAll(func(fl *pflag.Flag) {
		key, ok := flagKeys[fl.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, fl)
	})
	return v, bindErr
}
