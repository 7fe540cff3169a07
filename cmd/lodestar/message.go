package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lodestar-dev/lodestar/internal/coordinator"
	"github.com/lodestar-dev/lodestar/internal/messaging"
)

func messageCmd() *cobra.Command {
	msg := &cobra.Command{
		Use:   "message",
		Short: "Send and read agent messages",
		Long:  "Messages address another agent directly or a task's shared thread. List can mark messages read as part of the same read; ack marks one message read explicitly.",
	}
	msg.AddCommand(messageSendCmd())
	msg.AddCommand(messageListCmd())
	msg.AddCommand(messageThreadCmd())
	msg.AddCommand(messageSearchCmd())
	msg.AddCommand(messageAckCmd())
	return msg
}

func messageSendCmd() *cobra.Command {
	var toType, toID, body, subject, severity, taskID string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Sends a message from --actor-id to an agent (--to-type agent) or a task thread (--to-type task). Body is capped at 16 KiB.", schemaFor("message_id"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.SendMessage(ctx, messaging.SendInput{
						From: viper.GetString("actor-id"), ToType: toType, ToID: toID,
						Body: body, Subject: subject, Severity: severity, TaskID: taskID,
					})
				})
			})
		},
	}
	cmd.Flags().StringVar(&toType, "to-type", "agent", `recipient kind: "agent" or "task"`)
	cmd.Flags().StringVar(&toID, "to-id", "", "recipient agent id or task id")
	cmd.Flags().StringVar(&body, "body", "", "message body (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "subject line")
	cmd.Flags().StringVar(&severity, "severity", "", "severity tag")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task to thread this message under, if any")
	_ = cmd.MarkFlagRequired("to-id")
	_ = cmd.MarkFlagRequired("body")
	addOutputFlags(cmd)
	return cmd
}

func messageListCmd() *cobra.Command {
	var unreadOnly, markRead bool
	var from, since, until string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages addressed to the acting agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Lists messages addressed to --actor-id, newest first, optionally marking them read in the same call.", schemaFor("messages"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.ListMessages(ctx, messaging.ListInput{
						RecipientAgentID: viper.GetString("actor-id"), UnreadOnly: unreadOnly,
						FromAgentID: from, Since: since, Until: until, Limit: limit, MarkRead: markRead,
					})
				})
			})
		},
	}
	cmd.Flags().BoolVar(&unreadOnly, "unread-only", false, "only unread messages")
	cmd.Flags().StringVar(&from, "from", "", "filter by sender agent id")
	cmd.Flags().StringVar(&since, "since", "", "filter to messages created at or after this ISO8601 timestamp")
	cmd.Flags().StringVar(&until, "until", "", "filter to messages created at or before this ISO8601 timestamp")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum messages to return (capped at 200)")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark every returned message read")
	addOutputFlags(cmd)
	return cmd
}

func messageThreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread <task-id>",
		Short: "Show every message addressed to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Returns every message addressed to a task, oldest first.", schemaFor("task_id", "messages"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.Thread(ctx, args[0])
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func messageSearchCmd() *cobra.Command {
	var keyword, from, since, until string
	var limit int
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, "Searches subject/body by keyword with optional sender and time-range filters. At least one predicate is required.", schemaFor("messages"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.SearchMessages(ctx, messaging.SearchInput{
						Keyword: keyword, FromAgentID: from, Since: since, Until: until, Limit: limit,
					})
				})
			})
		},
	}
	cmd.Flags().StringVar(&keyword, "keyword", "", "case-insensitive subject/body match")
	cmd.Flags().StringVar(&from, "from", "", "filter by sender agent id")
	cmd.Flags().StringVar(&since, "since", "", "filter to messages created at or after this ISO8601 timestamp")
	cmd.Flags().StringVar(&until, "until", "", "filter to messages created at or before this ISO8601 timestamp")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum messages to return (capped at 200)")
	addOutputFlags(cmd)
	return cmd
}

func messageAckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ack <message-id>",
		Short: "Mark one message read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInt64(args[0])
			if err != nil {
				return err
			}
			return runOp(cmd, "Marks a single message read on behalf of --actor-id. A no-op if already read or not addressed to the acting agent.", schemaFor("message_id", "acked"), func() coordinator.Env {
				return withCoordinator(func(ctx context.Context, c *coordinator.Coordinator) coordinator.Env {
					return c.AckMessage(ctx, viper.GetString("actor-id"), id)
				})
			})
		},
	}
	addOutputFlags(cmd)
	return cmd
}
