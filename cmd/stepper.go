package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"loadtank/internal/config"
	"loadtank/internal/logging"
	"loadtank/internal/stpd"
)

var stepperCmd = &cobra.Command{
	Use:   "stepper",
	Short: "Build the schedule artifact without running a test",
	Long: `Build (or find in the cache) the schedule artifact for the configured
schedule and ammo, and print where it is. A test with the same settings
reuses it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadViper(cmd)
		if err != nil {
			return err
		}
		cfg := config.Read(v)
		if err := cfg.ValidateStepper(); err != nil {
			return err
		}
		log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		defer log.Sync()

		entry, err := stpd.Prepare(cfg.Stepper, log)
		if err != nil {
			return err
		}
		state := "built"
		if entry.Hit {
			state = "cached"
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Artifact   : %s (%s)\n", entry.Path, state)
		fmt.Fprintf(out, "Shots      : %d\n", entry.Info.AmmoCount)
		fmt.Fprintf(out, "Loops      : %d\n", entry.Info.LoopCount)
		fmt.Fprintf(out, "Duration   : %s\n", time.Duration(entry.Info.Duration)*time.Millisecond)
		fmt.Fprintf(out, "Instances  : %d\n", entry.Info.Instances)
		fmt.Fprintf(out, "Load scheme: %s\n", strings.Join(entry.Info.LoadScheme, " "))
		return nil
	},
}
