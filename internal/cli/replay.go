package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kwarch/ruse/internal/compiler"
	"github.com/kwarch/ruse/internal/engine"
	"github.com/kwarch/ruse/internal/ir"
	"github.com/kwarch/ruse/internal/rete"
	"github.com/kwarch/ruse/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string // optional - specific session only
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	Session       string `json:"session"`
	Mutations     int    `json:"mutations"` // external mutations reapplied
	Firings       int    `json:"firings"`   // journaled firings
	Facts         int    `json:"facts"`     // working memory after replay
	Deterministic bool   `json:"deterministic"`
	Error         string `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions         []ReplaySessionResult `json:"sessions"`
	TotalSessions    int                   `json:"total_sessions"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <rules-path>",
		Short: "Rebuild sessions from the journal and verify determinism",
		Long: `Rebuild journaled sessions from their external mutations.

Replay reapplies each session's external mutations against the given
rule set and refires after every mutation, reconstructing working
memory and derived facts without consulting the journaled firings.
Each session is replayed twice and the resulting memories compared
to verify determinism. A session journaled under a different rule
set hash refuses to replay (rule set drift).

Exit codes:
  0 - All sessions replayed deterministically
  1 - Replay failed or determinism verification failed
  2 - Command error (database not found, etc.)

Examples:
  ruse replay ./rules --db ./ruse.db
  ruse replay ./rules --db ./ruse.db --session 0190a5e2-...
  ruse replay ./rules --db ./ruse.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay a specific session only")

	return cmd
}

func runReplay(opts *ReplayOptions, rulesPath string, cmd *cobra.Command) error {
	ctx := context.Background()

	loadResult, loadErrors := LoadRules(rulesPath, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "failed to load rules", loadErrors[0])
	}
	if verrs := compiler.Validate(loadResult.Specs); len(verrs) > 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("rules failed validation: %s", verrs[0].Error()))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	// Get session tokens to process
	var tokens []string
	if opts.Session != "" {
		tokens = []string{opts.Session}
	} else {
		sessions, listErr := st.Sessions(ctx)
		if listErr != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", listErr)
		}
		for _, info := range sessions {
			tokens = append(tokens, info.Token)
		}
	}

	if len(tokens) == 0 {
		if opts.Format == "json" {
			return outputReplayJSON(cmd, ReplayResult{
				Sessions:         []ReplaySessionResult{},
				TotalSessions:    0,
				AllDeterministic: true,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found in database.")
		return nil
	}

	result := ReplayResult{
		Sessions:         make([]ReplaySessionResult, 0, len(tokens)),
		TotalSessions:    len(tokens),
		AllDeterministic: true,
	}

	for _, token := range tokens {
		sessionResult := replayAndVerifySession(ctx, st, token, loadResult.Specs)
		result.Sessions = append(result.Sessions, sessionResult)
		if !sessionResult.Deterministic {
			result.AllDeterministic = false
		}
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// replayAndVerifySession replays a single session twice and compares
// the rebuilt working memories.
func replayAndVerifySession(ctx context.Context, st *store.Store, token string, specs []ir.RuleSpec) ReplaySessionResult {
	result := ReplaySessionResult{Session: token}

	reader := st.Session(token)

	mutations, err := reader.ExternalMutations(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("reading mutations: %v", err)
		return result
	}
	firings, err := reader.Firings(ctx)
	if err != nil {
		result.Error = fmt.Sprintf("reading firings: %v", err)
		return result
	}
	result.Mutations = len(mutations)
	result.Firings = len(firings)

	first, err := engine.Replay(ctx, reader, specs)
	if err != nil {
		result.Error = fmt.Sprintf("first replay: %v", err)
		return result
	}
	defer first.Close()

	second, err := engine.Replay(ctx, reader, specs)
	if err != nil {
		result.Error = fmt.Sprintf("second replay: %v", err)
		return result
	}
	defer second.Close()

	result.Facts = first.FactCount()

	snap1, err := memorySnapshot(first)
	if err != nil {
		result.Error = fmt.Sprintf("snapshot: %v", err)
		return result
	}
	snap2, err := memorySnapshot(second)
	if err != nil {
		result.Error = fmt.Sprintf("snapshot: %v", err)
		return result
	}

	result.Deterministic = snap1 == snap2
	return result
}

// memorySnapshot renders a session's working memory as canonical JSON
// for byte comparison.
func memorySnapshot(session *engine.Session) (string, error) {
	facts := ir.Array{}
	err := session.EachFact(func(f rete.Fact) error {
		facts = append(facts, ir.Object{
			"handle": ir.Int(f.Handle),
			"type":   ir.String(string(f.Type)),
			"value":  f.Value,
		})
		return nil
	})
	if err != nil {
		return "", err
	}

	data, err := ir.MarshalCanonical(facts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.AllDeterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.AllDeterministic {
		// Determinism failure = exit code 1
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d session(s)\n", result.TotalSessions)
	fmt.Fprintln(w)

	for _, session := range result.Sessions {
		status := "✓"
		if !session.Deterministic {
			status = "✗"
		}

		fmt.Fprintf(w, "%s Session: %s\n", status, session.Session)

		if session.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", session.Error)
		} else if verbose {
			fmt.Fprintf(w, "  External mutations: %d\n", session.Mutations)
			fmt.Fprintf(w, "  Journaled firings:  %d\n", session.Firings)
			fmt.Fprintf(w, "  Facts after replay: %d\n", session.Facts)
		} else {
			fmt.Fprintf(w, "  Events: %d mutations, %d firings, %d facts rebuilt\n",
				session.Mutations, session.Firings, session.Facts)
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All sessions verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	// Determinism failure = exit code 1
	return NewExitError(ExitFailure, "determinism verification failed")
}
