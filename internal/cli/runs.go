package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/buildtall-systems/ticketbot/internal/config"
	"github.com/buildtall-systems/ticketbot/internal/db"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List journaled purchase runs",
	Long:  `Without arguments, list recent runs. With a run id, list every step of that run.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  listRuns,
}

var runsLimit int

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to show")
	rootCmd.AddCommand(runsCmd)
}

func listRuns(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	journal, err := db.OpenJournal(cmd.Context(), cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer func() { _ = journal.Close() }()

	if len(args) == 1 {
		var runID int64
		if _, err := fmt.Sscan(args[0], &runID); err != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}
		steps, err := journal.ListSteps(cmd.Context(), runID)
		if err != nil {
			return err
		}
		return writeSteps(cmd.OutOrStdout(), steps)
	}

	runs, err := journal.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	return writeRuns(cmd.OutOrStdout(), runs)
}

func writeRuns(out io.Writer, runs []db.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "no runs recorded")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tSCREEN\tSKU\tSTARTED\tDURATION\tRESULT\tDETAIL")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.Target.ProjectID, r.Target.ScreenID, r.Target.SkuID,
			r.StartedAt.Local().Format(time.DateTime), duration, r.Result, r.Detail)
	}
	return w.Flush()
}

func writeSteps(out io.Writer, steps []db.StepRecord) error {
	if len(steps) == 0 {
		_, err := fmt.Fprintln(out, "no steps recorded")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tTRIGGER\tFROM\tTO\tCODE\tRAW\tMESSAGE")
	for _, s := range steps {
		raw := "-"
		if s.RawCode != nil {
			raw = fmt.Sprint(*s.RawCode)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Seq, s.CreatedAt.Local().Format("15:04:05.000"), s.Trigger, s.From, s.To, s.Code, raw, s.Message)
	}
	return w.Flush()
}
