package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/scene"
	"github.com/quillforge/quill/internal/scoring"
	"github.com/quillforge/quill/internal/util"
	"github.com/quillforge/quill/internal/watch"
)

var scoreCmd = &cobra.Command{
	Use:   "score <file>",
	Short: "Score a scene and show its recommended remediation",
	Long: `Score sends the scene to the scoring service and prints the total, the
category breakdown, the matched violations and the recommended mode.

With --watch the scene is re-scored every time the file is saved until
interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

var scoreWatch bool

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().BoolVarP(&scoreWatch, "watch", "w", false, "re-score whenever the file changes")
}

func runScore(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	scorer, err := rt.scorer()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := args[0]
	out := cmd.OutOrStdout()
	if err := scoreFile(ctx, scorer, path, out); err != nil {
		if !scoreWatch {
			return err
		}
		fmt.Fprintln(out, "Error:", errors.Reason(err))
	}
	if !scoreWatch {
		return nil
	}

	fmt.Fprintf(out, "Watching %s (ctrl+c to stop)\n", path)
	return watch.File(ctx, path, watch.DefaultDebounce, func(ctx context.Context) {
		fmt.Fprintln(out)
		if err := scoreFile(ctx, scorer, path, out); err != nil {
			fmt.Fprintln(out, "Error:", errors.Reason(err))
		}
	}, watch.WithLogger(rt.logger))
}

func scoreFile(ctx context.Context, scorer scoring.Scorer, path string, out io.Writer) error {
	artifact, err := scene.Load(path)
	if err != nil {
		return err
	}
	report, err := scorer.Score(ctx, artifact.Content())
	if err != nil {
		return err
	}
	report, _ = scoring.Normalize(report)
	printReport(out, artifact.ID, artifact.WordCount(), report)
	return nil
}

func printReport(out io.Writer, id string, words int, report scoring.Report) {
	fmt.Fprintf(out, "%s (%d words): %.1f → %s\n", id, words, report.Total, report.RecommendedMode.Label())

	if names := report.CategoryNames(); len(names) > 0 {
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			sub := report.Categories[name]
			rows = append(rows, []string{name, formatScore(sub.Points), formatScore(sub.Weight)})
		}
		fmt.Fprintln(out, renderTable([]string{"Category", "Points", "Weight"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignRight}))
	}

	if len(report.Violations) > 0 {
		rows := make([][]string, 0, len(report.Violations))
		for _, v := range report.Violations {
			rows = append(rows, []string{string(v.Severity), v.Pattern, util.Excerpt(v.Span, 40), formatScore(-v.Penalty)})
		}
		fmt.Fprintln(out, renderTable([]string{"Severity", "Pattern", "Span", "Penalty"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
	}
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}
