package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lodestar-dev/lodestar/internal/coordinator"
)

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Manage registered agents",
		Long:  "Agents are the workers in the swarm. Join once per session, heartbeat while alive, leave when done; orphan-cleanup reconciles leases left behind by an agent that vanished without leaving.",
	}
	agent.AddCommand(agentJoinCmd())
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentFindCmd())
	agent.AddCommand(agentHeartbeatCmd())
	agent.AddCommand(agentLeaveCmd())
	agent.AddCommand(agentOrphanCleanupCmd())
	return agent
}

func agentJoinCmd() *cobra.Command {
	var displayName, role string
	var capabilities []string
	cmd := &cobra.Command{
		Use:   "join <agent-id>",
		Short: "Register a new agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Registers an agent under a caller-supplied stable id; fails if the id is already registered.", schemaFor("agent_id", "display_name", "role", "capabilities", "registered_at", "last_seen_at"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Join(ctx, args[0], displayName, role, capabilities, nil)
				})
			})
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "human-readable name")
	cmd.Flags().StringVar(&role, "role", "", "agent role")
	cmd.Flags().StringArrayVar(&capabilities, "capability", nil, "declared capability (repeatable)")
	addOutputFlags(cmd)
	return cmd
}

func agentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Lists every registered agent.", schemaFor("agents"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.ListAgents(ctx)
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func agentFindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find <agent-id>",
		Short: "Look up a single agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Looks up a single agent by id.", schemaFor("agent_id", "display_name", "role", "capabilities"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.FindAgent(ctx, args[0])
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func agentHeartbeatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Record liveness for the acting agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Updates last_seen_at for --actor-id. Does not extend any held lease.", schemaFor("agent_id"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Heartbeat(ctx, viper.GetString("actor-id"))
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func agentLeaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Remove the acting agent's registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Removes --actor-id's registration. Any leases it held are reconciled on the next orphan-cleanup.", schemaFor("agent_id"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Leave(ctx, viper.GetString("actor-id"))
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func agentOrphanCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orphan-cleanup",
		Short: "Reconcile leases left by agents no longer registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Releases leases whose agent no longer exists and emits lease.orphaned for each.", schemaFor("orphaned_lease_ids"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.OrphanCleanup(ctx)
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}
