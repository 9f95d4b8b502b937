package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quillforge/quill/internal/scaffold"
	"github.com/quillforge/quill/internal/workflow"
)

var scaffoldCmd = &cobra.Command{
	Use:   "scaffold",
	Short: "Generate a scene scaffold from a premise and beats",
	Long: `Scaffold asks the service for a scene skeleton built from the premise
and beats, shows it for review and, once confirmed, enriches it into
bundle files.`,
	Args: cobra.NoArgs,
	RunE: runScaffold,
}

var (
	scaffoldPremise     string
	scaffoldBeats       []string
	scaffoldTone        string
	scaffoldScene       string
	scaffoldMetricsAddr string
)

func init() {
	rootCmd.AddCommand(scaffoldCmd)
	scaffoldCmd.Flags().StringVarP(&scaffoldPremise, "premise", "p", "", "what the scene is about (required)")
	scaffoldCmd.Flags().StringArrayVarP(&scaffoldBeats, "beat", "b", nil, "story beat, in order (repeatable, at least one)")
	scaffoldCmd.Flags().StringVar(&scaffoldTone, "tone", "", "tone of the scene")
	scaffoldCmd.Flags().StringVar(&scaffoldScene, "scene", "", "scene ID the scaffold belongs to")
	scaffoldCmd.Flags().StringVar(&scaffoldMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	_ = scaffoldCmd.MarkFlagRequired("premise")
}

func runScaffold(cmd *cobra.Command, args []string) error {
	req, err := scaffold.Request{
		SceneID: scaffoldScene,
		Premise: scaffoldPremise,
		Beats:   scaffoldBeats,
		Tone:    scaffoldTone,
	}.Normalize()
	if err != nil {
		return err
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	m := rt.machine(nil)
	defer m.Close()

	return runWorkflow(cmd, rt, m, scaffoldMetricsAddr, workflow.SubmitScaffold{Request: req})
}
