package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/coordinator"
)

func eventsCmd() *cobra.Command {
	events := &cobra.Command{
		Use:   "events",
		Short: "Tail the runtime event log",
		Long:  "The event log is the one append-only record of everything that happened: claims, releases, completions, messages. Poll with pull(since_cursor) rather than tailing a file.",
	}
	events.AddCommand(eventsPullCmd())
	return events
}

func eventsPullCmd() *cobra.Command {
	var sinceCursor int64
	var limit int
	var types []string
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull events after a cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Returns events with id > --since-cursor, ascending, capped at --limit (max 1000), optionally filtered by --type.", schemaFor("events", "next_cursor"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.PullEvents(ctx, sinceCursor, limit, types)
				})
			})
		},
	}
	cmd.Flags().Int64Var(&sinceCursor, "since-cursor", 0, "only return events with id greater than this cursor")
	cmd.Flags().IntVar(&limit, "limit", 1000, "maximum events to return (capped at 1000)")
	cmd.Flags().StringArrayVar(&types, "type", nil, "restrict to these event types (repeatable)")
	addOutputFlags(cmd)
	return cmd
}
