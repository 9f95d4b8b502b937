package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillforge/quill/internal/audit"
	"github.com/quillforge/quill/internal/enhance"
	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/pipeline"
	"github.com/quillforge/quill/internal/scene"
	"github.com/quillforge/quill/internal/scoring"
)

var enhanceCmd = &cobra.Command{
	Use:   "enhance <file>",
	Short: "Score a scene and run the matching remediation",
	Long: `Enhance scores the scene, classifies it and dispatches it:

  85 and above   action prompt, printed to stdout
  70 to 84       six-pass refinement pipeline
  below 70       full rewrite

Use --mode to force a remediation. Six-pass runs write an audit report
that doubles as a checkpoint: if a pass fails, rerun with
--resume <report> to continue from the failed pass.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnhance,
}

var (
	enhanceMode   string
	enhanceReport string
	enhanceResume string
	enhanceWrite  bool
)

func init() {
	rootCmd.AddCommand(enhanceCmd)
	enhanceCmd.Flags().StringVarP(&enhanceMode, "mode", "m", "", "force a mode: action_prompt, six_pass or rewrite")
	enhanceCmd.Flags().StringVar(&enhanceReport, "report", "", "audit report path (default <output.dir>/<scene>.audit.yaml)")
	enhanceCmd.Flags().StringVar(&enhanceResume, "resume", "", "resume a failed six-pass run from its audit report")
	enhanceCmd.Flags().BoolVar(&enhanceWrite, "write", false, "save the enhanced content back to the file")
}

func runEnhance(cmd *cobra.Command, args []string) error {
	var opts []enhance.RunOption
	if enhanceMode != "" {
		mode, ok := scoring.ParseMode(enhanceMode)
		if !ok {
			return errors.NewValidationError("unknown mode").WithField("mode").WithValue(enhanceMode)
		}
		opts = append(opts, enhance.WithMode(mode))
	}

	artifact, err := scene.Load(args[0])
	if err != nil {
		return err
	}
	original := artifact.Content()

	if enhanceResume != "" {
		checkpoint, err := audit.ReadYAML(enhanceResume)
		if err != nil {
			return err
		}
		if !checkpoint.Resumable() {
			return errors.NewValidationError("checkpoint is not from a failed run").WithField("resume").WithValue(enhanceResume)
		}
		original = checkpoint.Original
		opts = append(opts, enhance.WithMode(scoring.ModeSixPass), enhance.WithResume(checkpoint.Run))
		if checkpoint.Run.OriginalScore != nil {
			artifact.SetScore(*checkpoint.Run.OriginalScore)
		}
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	scorer, err := rt.scorer()
	if err != nil {
		return err
	}
	enhancer := enhance.New(enhance.Config{
		Scorer:         scorer,
		Executor:       rt.executor(scorer),
		ActionPrompter: rt.client,
		Rewriter:       rt.client,
		Logger:         rt.logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	res, runErr := enhancer.Run(ctx, artifact, opts...)
	if res == nil {
		return runErr
	}
	fmt.Fprintf(out, "%s: %.1f, recommended %s", artifact.ID, res.Report.Total, res.Recommended.Label())
	if res.Mode != res.Recommended {
		fmt.Fprintf(out, ", forced %s", res.Mode.Label())
	}
	fmt.Fprintln(out)

	switch res.Mode {
	case scoring.ModeActionPrompt:
		if res.ActionPrompt != "" {
			fmt.Fprintln(out)
			fmt.Fprintln(out, res.ActionPrompt)
		}
	case scoring.ModeSixPass:
		if res.Pipeline != nil {
			printRun(out, res.Pipeline)
			path := enhanceReport
			if path == "" {
				path = filepath.Join(rt.cfg.Output.Dir, artifact.ID+".audit.yaml")
			}
			report := audit.Build(res.Pipeline, original)
			if err := audit.WriteYAML(path, report); err != nil {
				return errors.Join(runErr, err)
			}
			fmt.Fprintf(out, "Audit: %s (%s)\n", path, report.Summary())
			if report.Resumable() {
				fmt.Fprintf(out, "Resume with: quill enhance %s --resume %s\n", args[0], path)
			}
		}
	case scoring.ModeRewrite:
		if res.FinalReport != nil {
			fmt.Fprintf(out, "Rewritten: %.1f → %s\n", res.FinalReport.Total, res.FinalReport.RecommendedMode.Label())
		}
	}
	if runErr != nil {
		return runErr
	}

	if enhanceWrite && res.Mode != scoring.ModeActionPrompt {
		if err := artifact.Save(""); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved %s\n", artifact.Path())
	}
	return nil
}

func printRun(out io.Writer, run *pipeline.Run) {
	rows := make([][]string, 0, len(run.Results))
	for _, r := range run.Results {
		score := "-"
		if r.Score != nil {
			score = formatScore(*r.Score)
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Ordinal),
			r.Name,
			strconv.Itoa(r.ChangesMade),
			score,
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"#", "Pass", "Changes", "Score", "Duration"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight}))

	if run.Improvement != nil {
		fmt.Fprintf(out, "Improvement: %+.1f\n", *run.Improvement)
	}
	for _, w := range run.Warnings {
		fmt.Fprintln(out, "Warning:", w)
	}
	if run.Failed() {
		fmt.Fprintf(out, "Failed at pass %d: %s\n", run.FailedPass, run.Reason)
	}
}
