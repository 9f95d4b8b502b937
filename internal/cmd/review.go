package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	qerrors "github.com/quillforge/quill/internal/errors"
	"github.com/quillforge/quill/internal/tournament"
	"github.com/quillforge/quill/internal/tui"
	"github.com/quillforge/quill/internal/util"
	"github.com/quillforge/quill/internal/workflow"
)

var errInputClosed = errors.New("input closed before the workflow finished")

// review hands the workflow to the TUI when attached to a terminal and to
// the line prompt otherwise.
func review(ctx context.Context, d tui.Driver, in io.Reader, out io.Writer, interactive bool) (workflow.State, error) {
	if interactive {
		return tui.Run(ctx, d)
	}
	return promptReview(ctx, d, in, out)
}

// promptReview drives d from line input until the workflow completes,
// fails, is reset or the user quits.
func promptReview(ctx context.Context, d tui.Driver, in io.Reader, out io.Writer) (workflow.State, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := d.Subscribe(func(workflow.Transition) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	lines := bufio.NewScanner(in)
	var announced workflow.Kind

	for {
		s := d.State()
		if s.Kind() != announced {
			announced = s.Kind()
			announce(out, s)
		}

		switch st := s.(type) {
		case workflow.Setup, workflow.Complete, workflow.Failed:
			return s, nil

		case workflow.Running, workflow.GeneratingBundle:
			select {
			case <-changed:
			case <-ctx.Done():
				return d.State(), ctx.Err()
			}

		case workflow.Review:
			cands := tournament.Rank(st.Candidates)
			fmt.Fprint(out, "Pick a candidate [1-", len(cands), "] optionally followed by notes (r reset, q quit): ")
			line, ok := nextLine(lines)
			if !ok {
				return d.State(), errInputClosed
			}
			cmd, quit := parseReviewInput(line, cands)
			if quit {
				return d.State(), nil
			}
			if cmd == nil {
				fmt.Fprintln(out, "Unrecognized choice.")
				continue
			}
			if err := d.Fire(ctx, cmd); err != nil {
				fmt.Fprintln(out, "Error:", qerrors.Reason(err))
			}

		case workflow.SelectWinner:
			fmt.Fprintf(out, "Confirm %s? [Y]es / (r)eset / (q)uit: ", st.Selection.Candidate.ID)
			line, ok := nextLine(lines)
			if !ok {
				return d.State(), errInputClosed
			}
			var cmd workflow.Command
			switch strings.ToLower(line) {
			case "", "y", "yes", "c":
				cmd = workflow.Confirm{}
			case "r", "reset":
				cmd = workflow.Reset{}
			case "q", "quit":
				return d.State(), nil
			default:
				fmt.Fprintln(out, "Unrecognized choice.")
				continue
			}
			if err := d.Fire(ctx, cmd); err != nil {
				fmt.Fprintln(out, "Error:", qerrors.Reason(err))
			}
		}
	}
}

func nextLine(s *bufio.Scanner) (string, bool) {
	if !s.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.Text()), true
}

// parseReviewInput maps "3 keep the rain" to a Select of the third ranked
// candidate with notes. It returns quit=true for "q".
func parseReviewInput(line string, cands []tournament.Candidate) (workflow.Command, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}
	switch strings.ToLower(fields[0]) {
	case "q", "quit":
		return nil, true
	case "r", "reset":
		return workflow.Reset{}, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 || n > len(cands) {
		return nil, false
	}
	notes := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	return workflow.Select{CandidateID: cands[n-1].ID, Notes: notes}, false
}

func announce(out io.Writer, s workflow.State) {
	switch st := s.(type) {
	case workflow.Running:
		fmt.Fprintf(out, "Job %s running, waiting for candidates...\n", st.JobID)
	case workflow.Review:
		fmt.Fprintln(out, candidateTable(tournament.Rank(st.Candidates)))
	case workflow.SelectWinner:
		if st.LastError != "" {
			fmt.Fprintln(out, "Bundle generation failed:", st.LastError)
		}
	case workflow.GeneratingBundle:
		fmt.Fprintf(out, "Generating bundle for %s...\n", st.Selection.Candidate.ID)
	case workflow.Complete:
		fmt.Fprintln(out, "Bundle ready:")
		for _, ref := range st.BundleRefs {
			fmt.Fprintln(out, "  "+ref)
		}
	case workflow.Failed:
		fmt.Fprintln(out, "Workflow failed:", st.Reason)
	}
}

func candidateTable(cands []tournament.Candidate) string {
	rows := make([][]string, 0, len(cands))
	for i, c := range cands {
		score := "-"
		if c.Score != nil {
			score = strconv.FormatFloat(*c.Score, 'f', 1, 64)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			c.AgentID,
			c.Strategy,
			strconv.Itoa(c.WordCount),
			score,
			util.Excerpt(c.Content, 48),
		})
	}
	return renderTable(
		[]string{"#", "Agent", "Strategy", "Words", "Score", "Opening"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}
