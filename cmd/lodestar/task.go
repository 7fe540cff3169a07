package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lodestar-dev/lodestar/internal/coordinator"
	"github.com/lodestar-dev/lodestar/internal/specstore"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage the task graph",
		Long:  "Tasks flow ready -> done -> verified, gated by depends_on. Claim before working one, release or let the lease expire when you stop; complete does done+verify atomically.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskNextCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskClaimCmd())
	task.AddCommand(taskRenewCmd())
	task.AddCommand(taskReleaseCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskVerifyCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskContextCmd())
	task.AddCommand(taskGraphCmd())
	return task
}

var taskFields = []string{
	"id", "title", "description", "acceptance_criteria", "status", "priority",
	"labels", "depends_on", "locks", "created_at", "updated_at", "prd",
}

func taskListCmd() *cobra.Command {
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Lists every non-deleted task unless --include-deleted is set.", schemaFor("tasks"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.ListTasks(ctx, includeDeleted)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include soft-deleted tasks")
	addOutputFlags(cmd)
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a single task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Returns a single task by id.", schemaFor(taskFields...), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.GetTask(ctx, args[0])
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func taskNextCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the claimable-task frontier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Returns up to --limit claimable tasks (ready, dependencies verified, no active lease), ordered by priority then age.", schemaFor("tasks"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Next(ctx, limit, viper.GetString("actor-id"))
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum candidates to return")
	addOutputFlags(cmd)
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var id, title, description, acceptance, prdSource string
	var priority int
	var labels, dependsOn, locks, prdAnchors []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a ready task",
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := make([]specstore.PRDRef, 0, len(prdAnchors))
			for _, a := range prdAnchors {
				refs = append(refs, specstore.PRDRef{Anchor: a})
			}
			return runOp(cmd, "Creates a new task in ready status; fails if the id already exists.", schemaFor(taskFields...), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.CreateTask(ctx, coordinator.CreateTaskInput{
						ID: id, Title: title, Description: description, AcceptanceCriteria: acceptance,
						Priority: priority, Labels: labels, DependsOn: dependsOn, Locks: locks,
						PRDSource: prdSource, PRDRefs: refs,
					})
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id (1-64 chars)")
	cmd.Flags().StringVar(&title, "title", "", "title (required, <= 200 chars)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&acceptance, "acceptance-criteria", "", "acceptance criteria")
	cmd.Flags().IntVar(&priority, "priority", 100, "priority (lower claims first)")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "label (repeatable)")
	cmd.Flags().StringArrayVar(&dependsOn, "depends-on", nil, "dependency task id (repeatable)")
	cmd.Flags().StringArrayVar(&locks, "lock", nil, "advisory lock glob (repeatable)")
	cmd.Flags().StringVar(&prdSource, "prd-source", "", "path to a PRD/markdown source document")
	cmd.Flags().StringArrayVar(&prdAnchors, "prd-anchor", nil, "PRD section anchor to bind (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("title")
	addOutputFlags(cmd)
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, acceptance string
	var priority int
	var labels, dependsOn, locks []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Partially update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := coordinator.UpdateTaskInput{TaskID: args[0]}
			if cmd.Flags().Changed("title") {
				in.Title = &title
			}
			if cmd.Flags().Changed("description") {
				in.Description = &description
			}
			if cmd.Flags().Changed("acceptance-criteria") {
				in.AcceptanceCriteria = &acceptance
			}
			if cmd.Flags().Changed("priority") {
				in.Priority = &priority
			}
			if cmd.Flags().Changed("label") {
				in.Labels = &labels
			}
			if cmd.Flags().Changed("depends-on") {
				in.DependsOn = &dependsOn
			}
			if cmd.Flags().Changed("lock") {
				in.Locks = &locks
			}
			return runOp(cmd, "Applies only the flags explicitly set; omitted fields are left untouched.", schemaFor(taskFields...), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.UpdateTask(ctx, in)
				})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&acceptance, "acceptance-criteria", "", "new acceptance criteria")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "replace labels (repeatable)")
	cmd.Flags().StringArrayVar(&dependsOn, "depends-on", nil, "replace dependencies (repeatable)")
	cmd.Flags().StringArrayVar(&locks, "lock", nil, "replace locks (repeatable)")
	addOutputFlags(cmd)
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	var cascade bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Soft-deletes a task. Without --cascade, fails if live (non-deleted) dependents exist.", schemaFor("deleted_task_ids"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.DeleteTask(ctx, args[0], cascade)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&cascade, "cascade", false, "also soft-delete transitive dependents")
	addOutputFlags(cmd)
	return cmd
}

func taskClaimCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim a task's lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Claims a lease on a ready task with all dependencies verified. --force only matters once the current holder's lease has expired.", schemaFor("task_id", "lease_id", "agent_id", "expires_at"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Claim(ctx, args[0], viper.GetString("actor-id"), ttl, viper.GetBool("force"))
				})
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lease duration (default: configured lease_ttl, 30m unless set; clamped to [60s, 2h])")
	addOutputFlags(cmd)
	return cmd
}

func taskRenewCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "renew <id>",
		Short: "Renew the acting agent's lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Extends the acting agent's active lease. Fails if the acting agent is not the current holder.", schemaFor("task_id", "lease_id", "expires_at"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Renew(ctx, args[0], viper.GetString("actor-id"), ttl)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "new lease duration (default: configured lease_ttl, 30m unless set; clamped to [60s, 2h])")
	addOutputFlags(cmd)
	return cmd
}

func taskReleaseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release the acting agent's lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Ends the acting agent's active lease early.", schemaFor("task_id", "lease_id"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Release(ctx, args[0], viper.GetString("actor-id"), reason)
				})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "free-text reason recorded on task.released")
	addOutputFlags(cmd)
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a claimed task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Transitions ready -> done. Requires the acting agent to hold the active lease.", schemaFor(taskFields...), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Done(ctx, args[0], viper.GetString("actor-id"))
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func taskVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Verify a done task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Transitions done -> verified. Any registered agent may verify; no lease required. Reports dependents that became newly claimable.", schemaFor(append(append([]string{}, taskFields...), "newly_ready_task_ids")...), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Verify(ctx, args[0], viper.GetString("actor-id"))
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Atomically mark done and verify",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Transitions ready -> verified in one spec write. Requires the acting agent to hold the active lease.", schemaFor(append(append([]string{}, taskFields...), "newly_ready_task_ids")...), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Complete(ctx, args[0], viper.GetString("actor-id"))
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func taskContextCmd() *cobra.Command {
	var charBudget int
	cmd := &cobra.Command{
		Use:   "context <id>",
		Short: "Resolve a task's PRD binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Returns the frozen PRD excerpt, the live re-read sections, and whether the source has drifted since binding.", schemaFor("task_id", "prd_bound", "frozen_excerpt", "body", "truncated", "drift"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Context(ctx, args[0], charBudget)
				})
			})
		},
	}
	cmd.Flags().IntVar(&charBudget, "char-budget", 0, "truncate the live body to this many characters (0 = unbounded)")
	addOutputFlags(cmd)
	return cmd
}

func taskGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the dependency graph's topological order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Returns a topological order over depends_on, and whether the graph is acyclic.", schemaFor("order", "acyclic"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Graph(ctx)
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}
