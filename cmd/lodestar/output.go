package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lodestar-dev/lodestar/internal/anchor"
	"github.com/lodestar-dev/lodestar/internal/clock"
	"github.com/lodestar-dev/lodestar/internal/config"
	"github.com/lodestar-dev/lodestar/internal/coordinator"
	"github.com/lodestar-dev/lodestar/internal/envelope"
	"github.com/lodestar-dev/lodestar/internal/store"
)

// validationCodes are error codes describing a problem with the request
// itself rather than the repository's state or storage.
var validationCodes = map[string]bool{
	"invalid_input":             true,
	"task_not_claimable":        true,
	"task_already_claimed":      true,
	"task_lease_not_held":       true,
	"task_state_conflict":       true,
	"message_too_large":         true,
	"message_recipient_invalid": true,
	"agent_already_exists":      true,
	"spec_invariant_violation":  true,
	"task_not_found":            true,
	"agent_not_registered":      true,
}

// renderNoColor gates decorative table styling in renderTable/renderKV. It
// is set from the loaded config once per invocation by withCoordinator,
// before runOp renders the resulting envelope.
var renderNoColor bool

// withCoordinator resolves the repository anchor rooted at --root (or an
// upward walk from the working directory), opens the runtime database, and
// hands the caller a ready Coordinator.
func withCoordinator(fn func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env) coordinator.Env {
	root := viper.GetString("root")
	a, err := anchor.Find(".", root)
	if err != nil {
		return envelope.Fail[coordinator.Map](envelope.CodeNotInitialized, "no .lodestar anchor found; run 'lodestar init' first", nil)
	}
	db, err := store.Open(a.RuntimeDBPath())
	if err != nil {
		return envelope.Fail[coordinator.Map](envelope.CodeRuntimeCorrupt, err.Error(), nil)
	}
	defer db.Close()

	cfg, err := config.Load(a.ConfigPath())
	if err != nil {
		return envelope.Fail[coordinator.Map](envelope.CodeSpecMalformed, err.Error(), nil)
	}
	renderNoColor = cfg.NoColor
	c := coordinator.New(a, db, clock.System{}, cfg.LeaseTTL)
	return fn(context.Background(), c)
}

// runOp is the shared entrypoint for every leaf subcommand: it honors
// --explain and --schema before touching the repository, otherwise invokes
// fn and renders the resulting envelope.
func runOp(cmd *cobra.Command, explain string, schema map[string]any, fn func() coordinator.Env) error {
	if ok, _ := cmd.Flags().GetBool("explain"); ok {
		fmt.Println(explain)
		return nil
	}
	if ok, _ := cmd.Flags().GetBool("schema"); ok {
		return printJSON(schema)
	}

	env := fn()
	if viper.GetBool("json") {
		if err := printJSON(env); err != nil {
			return err
		}
	} else {
		renderEnvelope(env)
	}
	os.Exit(exitCode(env))
	return nil
}

// addOutputFlags attaches --explain and --schema to a leaf command; --json
// and --actor-id are already persistent on the root command.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("explain", false, "print a static description of this operation and exit")
	cmd.Flags().Bool("schema", false, "print the JSON Schema for this operation's output and exit")
}

// schemaFor builds a deliberately small JSON Schema for --schema output: an
// object with the named top-level fields, typed as "any". The engine's
// contract is the envelope and field names, not a fully-typed schema.
func schemaFor(fields ...string) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f] = map[string]any{}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ok":       map[string]any{"type": "boolean"},
			"data":     map[string]any{"type": "object", "properties": props},
			"next":     map[string]any{"type": "array"},
			"warnings": map[string]any{"type": "array"},
			"error":    map[string]any{"type": "object"},
		},
	}
}

func exitCode(env coordinator.Env) int {
	if env.OK {
		return 0
	}
	if env.Error == nil {
		return 1
	}
	if validationCodes[string(env.Error.Code)] {
		return 2
	}
	return 3
}

func parseInt64(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderEnvelope prints a human-friendly rendering: a table when the payload
// looks like a list of records, otherwise key/value rows. Errors and
// warnings are always surfaced regardless of payload shape.
func renderEnvelope(env coordinator.Env) {
	if !env.OK {
		fmt.Printf("error: %s", env.Error.Message)
		if env.Error.Code != "" {
			fmt.Printf(" (%s)", env.Error.Code)
		}
		fmt.Println()
		for k, v := range env.Error.Details {
			fmt.Printf("  %s: %v\n", k, v)
		}
		return
	}
	for _, w := range env.Warnings {
		fmt.Println("warning:", w)
	}
	for _, key := range []string{"tasks", "agents", "messages", "events"} {
		if list, ok := env.Data[key].([]coordinator.Map); ok {
			renderTable(list)
			return
		}
	}
	renderKV(env.Data)
}

func renderTable(rows []coordinator.Map) {
	if len(rows) == 0 {
		fmt.Println("(none)")
		return
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(tableStyle())
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	tw.AppendHeader(header)
	for _, r := range rows {
		row := make(table.Row, len(cols))
		for i, c := range cols {
			row[i] = r[c]
		}
		tw.AppendRow(row)
	}
	tw.Render()
}

// tableStyle returns the decorated bright style used by default, or the
// plain undecorated style when --root's config sets no_color / NO_COLOR is
// set in the environment.
func tableStyle() table.Style {
	if renderNoColor {
		return table.StyleDefault
	}
	return table.StyleColoredBright
}

func renderKV(m coordinator.Map) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(tableStyle())
	tw.AppendHeader(table.Row{"field", "value"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k, fmt.Sprintf("%v", m[k])})
	}
	tw.Render()
}
