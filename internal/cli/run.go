package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kwarch/ruse/internal/compiler"
	"github.com/kwarch/ruse/internal/engine"
	"github.com/kwarch/ruse/internal/ir"
	"github.com/kwarch/ruse/internal/rete"
	"github.com/kwarch/ruse/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Facts      string
	Database   string
	Focus      string
	MaxFirings int

	// TokenGenerator allows overriding the session token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	TokenGenerator engine.SessionTokenGenerator
}

// RunFact is one live fact in the run report.
type RunFact struct {
	Handle int64  `json:"handle"`
	Type   string `json:"type"`
	Value  any    `json:"value"`
}

// RunResult holds the outcome of a run command.
type RunResult struct {
	Session   string    `json:"session"`
	Rules     int       `json:"rules"`
	Inserted  int       `json:"inserted"`
	Fired     int       `json:"fired"`
	AgendaLen int       `json:"agenda_len"`
	Facts     []RunFact `json:"facts"`
}

// factsFile is the YAML shape of a fact input file.
type factsFile struct {
	Facts []factEntry `yaml:"facts"`
}

type factEntry struct {
	Type  string         `yaml:"type"`
	Value map[string]any `yaml:"value"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <rules-path>",
		Short: "Run rules against a fact file",
		Long: `Build a session from CUE rule files, insert facts from a YAML file,
fire until the agenda empties, and report the final working memory.

With --db, every mutation and firing is journaled to the SQLite store
under the session's token for later trace and replay.

Exit codes:
  0 - Run completed
  1 - Rules failed validation or the fire loop errored
  2 - Command error (invalid paths, bad fact file, etc.)

Examples:
  ruse run ./rules --facts facts.yaml
  ruse run ./rules --facts facts.yaml --db ./ruse.db
  ruse run ./rules --facts facts.yaml --focus triage --max-firings 100`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Facts, "facts", "", "path to YAML fact file (required)")
	_ = cmd.MarkFlagRequired("facts")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal to this SQLite database")
	cmd.Flags().StringVar(&opts.Focus, "focus", "", "push an agenda group before firing")
	cmd.Flags().IntVar(&opts.MaxFirings, "max-firings", 0, "firing budget for the run (0 = engine default)")

	return cmd
}

func runRun(opts *RunOptions, rulesPath string, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	loadResult, loadErrors := LoadRules(rulesPath, LoadModeFailFast)
	if len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) && loadErr.Code == ErrCodeNotFound {
			return WrapExitError(ExitCommandError, "failed to load rules", loadErrors[0])
		}
		return WrapExitError(ExitFailure, "failed to load rules", loadErrors[0])
	}
	slog.Debug("rules compiled", "count", len(loadResult.Specs), "files", loadResult.FileCount)

	if verrs := compiler.Validate(loadResult.Specs); len(verrs) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("rules failed validation: %s", verrs[0].Error()))
	}

	facts, err := loadFacts(opts.Facts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load facts", err)
	}

	sessionOpts, cleanup, err := buildSessionOptions(opts, loadResult.Specs)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer cleanup()

	session, err := engine.NewSession(loadResult.Specs, sessionOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build session", err)
	}
	defer session.Close()
	slog.Info("session started", "session", session.Token(), "rules", len(loadResult.Specs))

	for i, fact := range facts {
		value, convErr := ir.FromGo(fact.Value)
		if convErr != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("facts[%d]: bad value", i), convErr)
		}
		if _, insErr := session.Insert(ctx, ir.TypeRef(fact.Type), value); insErr != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("facts[%d]: insert failed", i), insErr)
		}
	}

	if opts.Focus != "" {
		session.SetFocus(opts.Focus)
	}

	fired, err := session.FireAll(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "fire loop failed", err)
	}
	slog.Info("fire pass complete", "session", session.Token(), "fired", fired)

	result := RunResult{
		Session:   session.Token(),
		Rules:     len(loadResult.Specs),
		Inserted:  len(facts),
		Fired:     fired,
		AgendaLen: session.AgendaLen(),
		Facts:     []RunFact{},
	}
	err = session.EachFact(func(f rete.Fact) error {
		result.Facts = append(result.Facts, RunFact{
			Handle: f.Handle,
			Type:   string(f.Type),
			Value:  ir.ToGo(f.Value),
		})
		return nil
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read working memory", err)
	}

	if opts.Format == "json" {
		return outputRunJSON(cmd, result)
	}
	return outputRunText(cmd, result)
}

// loadFacts reads and strictly decodes a YAML fact file.
func loadFacts(path string) ([]factEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fact file: %w", err)
	}

	var file factsFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing fact file: %w", err)
	}

	for i, fact := range file.Facts {
		if fact.Type == "" {
			return nil, fmt.Errorf("facts[%d]: type is required", i)
		}
		if fact.Value == nil {
			return nil, fmt.Errorf("facts[%d]: value is required", i)
		}
	}
	return file.Facts, nil
}

// buildSessionOptions assembles session options, opening the journal
// store when --db is set. The returned cleanup closes the store.
func buildSessionOptions(opts *RunOptions, specs []ir.RuleSpec) ([]engine.SessionOption, func(), error) {
	var sessionOpts []engine.SessionOption
	cleanup := func() {}

	if opts.MaxFirings > 0 {
		sessionOpts = append(sessionOpts, engine.WithMaxFirings(opts.MaxFirings))
	}
	if opts.TokenGenerator != nil {
		sessionOpts = append(sessionOpts, engine.WithTokenGenerator(opts.TokenGenerator))
	}

	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { _ = st.Close() }

		hash, err := ir.RuleSetHash(specs)
		if err != nil {
			_ = st.Close()
			return nil, func() {}, err
		}
		sessionOpts = append(sessionOpts, engine.WithJournal(st.Journal(hash)))
	}

	return sessionOpts, cleanup, nil
}

// outputRunJSON outputs the run result as JSON.
func outputRunJSON(cmd *cobra.Command, result RunResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputRunText outputs the run result as text.
func outputRunText(cmd *cobra.Command, result RunResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Session: %s\n", result.Session)
	fmt.Fprintf(w, "Rules: %d, Inserted: %d, Fired: %d\n", result.Rules, result.Inserted, result.Fired)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "=== Working Memory (%d facts) ===\n", len(result.Facts))
	if len(result.Facts) == 0 {
		fmt.Fprintln(w, "  (empty)")
	} else {
		for _, f := range result.Facts {
			fmt.Fprintf(w, "  %s#%d %s\n", f.Type, f.Handle, formatFactValue(f.Value))
		}
	}

	if result.AgendaLen > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Agenda: %d activation(s) still pending\n", result.AgendaLen)
	}
	return nil
}

// formatFactValue renders a fact value for text output.
func formatFactValue(v any) string {
	if m, ok := v.(map[string]any); ok {
		return formatArgs(m)
	}
	return formatValue(v)
}
