package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"loadtank/internal/dummy"
	"loadtank/internal/logging"
)

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run the built-in dummy target server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		log, err := logging.New("info", "console")
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return dummy.Serve(ctx, fmt.Sprintf(":%d", port), log)
	},
}

func init() {
	dummyCmd.Flags().IntP("port", "p", 8080, "port to run the dummy server on")
}
