package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lodestar-dev/lodestar/internal/coordinator"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a .lodestar repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runOp(cmd, "Creates .lodestar/ with an empty spec.yaml, a default config.yml, and a migrated runtime database. Idempotent.", schemaFor("root", "spec_path", "runtime_db_path"), func() coordinator.Env {
				return coordinator.Init(dir)
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func repoCmd() *cobra.Command {
	repo := &cobra.Command{
		Use:   "repo",
		Short: "Repository-level operations",
	}
	repo.AddCommand(repoStatusCmd())
	repo.AddCommand(repoSnapshotCmd())
	repo.AddCommand(repoHealthCmd())
	return repo
}

func repoStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task and agent counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Summarizes the repository: task counts by status, registered agent count, active lease count.", schemaFor("project", "task_counts", "task_total", "agent_count", "active_lease_count"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Status(ctx)
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func repoSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export the full committed spec with an event cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Exports every task plus the project header and the latest event cursor, enough to bootstrap an event-log subscription.", schemaFor("project", "tasks", "next_cursor"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Snapshot(ctx)
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func repoHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check both the spec and runtime planes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Verifies the spec file parses (or is absent) and the runtime database answers a trivial query.", schemaFor("spec_path", "healthy"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.HealthCheck(ctx)
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}
