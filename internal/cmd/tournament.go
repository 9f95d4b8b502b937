package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quillforge/quill/internal/agents"
	"github.com/quillforge/quill/internal/scene"
	"github.com/quillforge/quill/internal/tournament"
	"github.com/quillforge/quill/internal/workflow"
)

var tournamentCmd = &cobra.Command{
	Use:   "tournament <file>",
	Short: "Run a multi-agent tournament for a scene",
	Long: `Tournament submits the scene to several agents and strategies, waits
for the candidates, lets you pick a winner and generates its bundle.

Agents may be given as literal IDs or glob patterns matched against
tournament.agents in the config, e.g. --agent 'claude-*' --agent gpt-4o.
Without --agent, tournament.default_agents is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runTournament,
}

var (
	tournamentAgents      []string
	tournamentStrategies  []string
	tournamentBrief       string
	tournamentVariants    int
	tournamentMetricsAddr string
)

func init() {
	rootCmd.AddCommand(tournamentCmd)
	tournamentCmd.Flags().StringArrayVarP(&tournamentAgents, "agent", "a", nil, "agent ID or glob (repeatable)")
	tournamentCmd.Flags().StringArrayVarP(&tournamentStrategies, "strategy", "s", nil, "strategy (repeatable, default tournament.strategies)")
	tournamentCmd.Flags().StringVarP(&tournamentBrief, "brief", "b", "", "brief for the agents (default the scene content)")
	tournamentCmd.Flags().IntVar(&tournamentVariants, "variants", 0, "variants per agent and strategy (default tournament.variants_per_agent)")
	tournamentCmd.Flags().StringVar(&tournamentMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
}

func runTournament(cmd *cobra.Command, args []string) error {
	artifact, err := scene.Load(args[0])
	if err != nil {
		return err
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	patterns := tournamentAgents
	if len(patterns) == 0 {
		patterns = rt.cfg.Tournament.DefaultAgents
	}
	agentIDs, err := agents.NewRoster(rt.cfg.Tournament.Agents).Select(patterns)
	if err != nil {
		return err
	}

	brief := tournamentBrief
	if brief == "" {
		brief = artifact.Content()
	}

	coord := rt.coordinator()
	m := rt.machine(coord)
	defer m.Close()

	return runWorkflow(cmd, rt, m, tournamentMetricsAddr, workflow.Submit{Tournament: tournament.Config{
		SceneID:          artifact.ID,
		Brief:            brief,
		AgentIDs:         agentIDs,
		Strategies:       tournamentStrategies,
		VariantsPerAgent: tournamentVariants,
	}})
}

// runWorkflow fires the submit command, runs the review alongside the
// optional metrics server and writes the bundle manifest on completion.
func runWorkflow(cmd *cobra.Command, rt *runtime, m *workflow.Machine, metricsOverride string, submit workflow.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tracker selectionTracker
	defer m.Subscribe(tracker.observe)()

	if err := m.Fire(ctx, submit); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	reviewCtx, stopReview := context.WithCancel(gctx)
	defer stopReview()

	if addr := rt.metricsAddr(metricsOverride); addr != "" {
		g.Go(func() error {
			return serveMetrics(reviewCtx, addr, rt.logger)
		})
	}

	var final workflow.State
	g.Go(func() error {
		defer stopReview()
		var err error
		final, err = review(reviewCtx, m, os.Stdin, cmd.OutOrStdout(), isInteractive())
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	out := cmd.OutOrStdout()
	switch st := final.(type) {
	case workflow.Complete:
		manifest := tracker.manifest(m.ID(), m.Ritual(), st.BundleRefs, time.Now())
		path, err := writeManifest(rt.cfg.Output.Dir, manifest)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Bundle manifest: %s\n", path)
	case workflow.Failed:
		return fmt.Errorf("workflow failed: %s", st.Reason)
	}
	return nil
}
