package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/scoring"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <score>",
	Short: "Show the remediation mode for a score",
	Long: `Classify maps a quality score to its remediation mode without calling
the scoring service. Scores outside 0-100 are clamped first.`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	score, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return errors.NewValidationError("score must be a number").WithField("score").WithValue(args[0]).WithCause(err)
	}
	mode := scoring.Classify(score)
	fmt.Fprintf(cmd.OutOrStdout(), "%.1f → %s (%s)\n", scoring.Clamp(score), mode.Label(), mode)
	return nil
}
