package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"loadtank/internal/config"
	"loadtank/internal/report"
	"loadtank/internal/storage"
	"loadtank/internal/tui/history"
	"loadtank/internal/tui/styles"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadViper(cmd)
		if err != nil {
			return err
		}
		cfg := config.Read(v)
		store, err := storage.Open(cfg.Journal, nil)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			run, err := store.Get(args[0])
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			withWindows, _ := cmd.Flags().GetBool("windows")
			return showRun(out, store, run, withWindows)
		}

		runs, err := store.List()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "no runs recorded in", cfg.Journal)
			return nil
		}
		if !cfg.UI {
			fmt.Fprintln(out, runTable(runs))
			return nil
		}

		final, err := tea.NewProgram(history.NewModel(runs)).Run()
		if err != nil {
			return err
		}
		if sel := final.(history.Model).Selected; sel != nil {
			return showRun(out, store, sel, false)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Bool("windows", false, "include per-second windows")
}

func runTable(runs []storage.Run) string {
	header := []string{"ID", "Started", "Target", "Schedule", "Records", "P99 ms", "Result"}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.Subtle).
		Headers(header...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Active.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for i, r := range history.Rows(runs) {
		t.Row(append([]string{runs[i].ID}, r...)...)
	}
	return t.Render()
}

func showRun(out io.Writer, store *storage.Store, run *storage.Run, withWindows bool) error {
	fmt.Fprintf(out, "Run      : %s\n", run.ID)
	fmt.Fprintf(out, "Started  : %s\n", run.Started.Local())
	fmt.Fprintf(out, "Duration : %s\n", run.Duration)
	fmt.Fprintf(out, "Target   : %s (%s)\n", run.Config.Target, run.Config.Generator)
	fmt.Fprintf(out, "Schedule : %v\n", run.Config.Schedule)
	if run.Result.Finished {
		fmt.Fprintf(out, "Result   : %s, exit code %d\n", run.Result.Reason, run.Result.RC)
	} else {
		fmt.Fprintln(out, "Result   : did not finish")
	}
	if v := run.Result.Verdict; v != nil {
		fmt.Fprintf(out, "Autostop : %s: %s\n", v.Criterion, v.Explanation)
	}
	s := run.Summary
	fmt.Fprintf(out, "Records  : %d in %d windows\n", s.Records, s.Windows)
	fmt.Fprintf(out, "Latency  : avg %.2f ms, p99 %.2f ms, max %.2f ms\n", s.AvgLatencyMs, s.P99LatencyMs, s.MaxLatencyMs)
	fmt.Fprintf(out, "HTTP     : %s\n", report.Codes(s.ProtoCodes))
	fmt.Fprintf(out, "Net      : %s\n", report.Codes(s.NetCodes))

	if !withWindows {
		return nil
	}
	windows, err := store.Windows(run.ID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(windows)
}
