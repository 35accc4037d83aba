package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kwarch/ruse/internal/engine"
	"github.com/kwarch/ruse/internal/ir"
	"github.com/kwarch/ruse/internal/queryir"
	"github.com/kwarch/ruse/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Rule     string // optional - filter firings to a specific rule
	Source   string // optional - filter mutations to one source
	FactType string // optional - filter mutations to one fact type
}

// TimelineEvent represents a single event in the trace timeline.
type TimelineEvent struct {
	Seq     int64   `json:"seq"`
	Kind    string  `json:"kind"` // mutation kind or "fire"
	Source  string  `json:"source,omitempty"`
	Handle  int64   `json:"handle,omitempty"`
	Type    string  `json:"type,omitempty"`
	Value   any     `json:"value,omitempty"`
	Rule    string  `json:"rule,omitempty"`
	Handles []int64 `json:"handles,omitempty"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Mutations int `json:"mutations"`
	Inserts   int `json:"inserts"`
	Updates   int `json:"updates"`
	Retracts  int `json:"retracts"`
	Firings   int `json:"firings"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session     string          `json:"session"`
	RuleSetHash string          `json:"rule_set_hash"`
	Timeline    []TimelineEvent `json:"timeline"`
	Stats       TraceStats      `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Dump the journal for a session",
		Long: `Dump the journaled event history for a session.

Shows the full timeline of working-memory mutations and rule firings
in logical-clock order, with per-kind statistics. Mutation sources
distinguish external inserts from consequence and truth-maintenance
mutations.

The timeline can be narrowed with --rule (firings of one rule),
--source (mutations from one of external, consequence, truth), and
--type (mutations of one fact type). Stats always cover the full
journal.

Examples:
  ruse trace --db ./ruse.db --session 0190a5e2-...
  ruse trace --db ./ruse.db --session 0190a5e2-... --rule flag-high-value
  ruse trace --db ./ruse.db --session 0190a5e2-... --source consequence
  ruse trace --db ./ruse.db --session 0190a5e2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session token to trace (required)")
	_ = cmd.MarkFlagRequired("session")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "filter firings to a specific rule")
	cmd.Flags().StringVar(&opts.Source, "source", "", "filter mutations to one source")
	cmd.Flags().StringVar(&opts.FactType, "type", "", "filter mutations to one fact type")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	reader := st.Session(opts.Session)

	hash, err := reader.RuleSetHash(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}
	if hash == "" {
		if opts.Format == "json" {
			return outputTraceJSON(cmd, TraceResult{
				Session:  opts.Session,
				Timeline: []TimelineEvent{},
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "No events found for session: %s\n", opts.Session)
		return nil
	}

	mutations, err := reader.Mutations(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read mutations", err)
	}
	firings, err := reader.Firings(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read firings", err)
	}

	// The timeline honors the filter flags; stats always cover the
	// whole journal.
	shownMutations, shownFirings, err := filterTimeline(ctx, reader, opts, mutations, firings)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid trace filter", err)
	}

	result := TraceResult{
		Session:     opts.Session,
		RuleSetHash: hash,
		Timeline:    buildTimeline(shownMutations, shownFirings),
		Stats:       buildTraceStats(mutations, firings),
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

// filterTimeline applies the trace filter flags through the store's
// journal filters. --rule narrows the timeline to that rule's firings
// alone; --source and --type narrow the shown mutations.
func filterTimeline(ctx context.Context, reader *store.SessionReader, opts *TraceOptions,
	mutations []engine.MutationRecord, firings []engine.FiringRecord,
) ([]engine.MutationRecord, []engine.FiringRecord, error) {
	if opts.Rule != "" {
		filtered, err := reader.FiringsMatching(ctx, queryir.RuleIs{Rule: opts.Rule})
		if err != nil {
			return nil, nil, err
		}
		return nil, filtered, nil
	}

	var conds []queryir.Filter
	if opts.Source != "" {
		conds = append(conds, queryir.SourceIs{Source: opts.Source})
	}
	if opts.FactType != "" {
		conds = append(conds, queryir.TypeIs{Type: opts.FactType})
	}
	if len(conds) == 0 {
		return mutations, firings, nil
	}

	filtered, err := reader.MutationsMatching(ctx, queryir.All(conds...))
	if err != nil {
		return nil, nil, err
	}
	return filtered, firings, nil
}

// buildTimeline merges mutations and firings into one seq-ordered
// timeline.
func buildTimeline(mutations []engine.MutationRecord, firings []engine.FiringRecord) []TimelineEvent {
	var timeline []TimelineEvent

	for _, m := range mutations {
		event := TimelineEvent{
			Seq:    m.Seq,
			Kind:   string(m.Kind),
			Source: string(m.Source),
			Handle: m.Handle,
			Type:   string(m.Type),
		}
		if m.Value != nil {
			event.Value = ir.ToGo(m.Value)
		}
		timeline = append(timeline, event)
	}

	for _, f := range firings {
		timeline = append(timeline, TimelineEvent{
			Seq:     f.Seq,
			Kind:    "fire",
			Rule:    f.Rule,
			Handles: f.Handles,
		})
	}

	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Seq < timeline[j].Seq })
	return timeline
}

// buildTraceStats computes per-kind counts over the full journal.
func buildTraceStats(mutations []engine.MutationRecord, firings []engine.FiringRecord) TraceStats {
	stats := TraceStats{
		Mutations: len(mutations),
		Firings:   len(firings),
	}
	for _, m := range mutations {
		switch m.Kind {
		case engine.MutationInsert, engine.MutationInsertLogical:
			stats.Inserts++
		case engine.MutationUpdate:
			stats.Updates++
		case engine.MutationRetract:
			stats.Retracts++
		}
	}
	return stats
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Trace for session: %s\n", result.Session)
	fmt.Fprintf(w, "Rule set: %s\n", result.RuleSetHash)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	} else {
		for _, event := range result.Timeline {
			formatTimelineEvent(w, event, verbose)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Mutations: %d (%d inserts, %d updates, %d retracts)\n",
		result.Stats.Mutations, result.Stats.Inserts, result.Stats.Updates, result.Stats.Retracts)
	fmt.Fprintf(w, "  Firings:   %d\n", result.Stats.Firings)

	return nil
}

// formatTimelineEvent formats a single timeline event for text output.
func formatTimelineEvent(w interface{ Write([]byte) (int, error) }, event TimelineEvent, verbose bool) {
	if event.Kind == "fire" {
		fmt.Fprintf(w, "  [%d] fire %s %v\n", event.Seq, event.Rule, event.Handles)
		return
	}

	fmt.Fprintf(w, "  [%d] %s %s#%d", event.Seq, event.Kind, event.Type, event.Handle)
	if m, ok := event.Value.(map[string]any); ok {
		fmt.Fprintf(w, " %s", formatArgs(m))
	}
	fmt.Fprintln(w)
	if verbose && event.Source != "" {
		fmt.Fprintf(w, "       Source: %s\n", event.Source)
	}
}

// formatArgs formats a map of fields for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}
