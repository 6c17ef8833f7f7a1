package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"escalarm/internal/api/handlers"
	"escalarm/internal/client"
	"escalarm/internal/escalation"
)

// NewListCmd creates the list command.
func NewListCmd(app *App) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live alarms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				alarms, err := c.List(ctx, escalation.State(state))
				if err != nil {
					return err
				}
				if app.json {
					return writeJSON(cmd.OutOrStdout(), alarms)
				}
				return renderAlarms(cmd.OutOrStdout(), alarms)
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (scheduled, overdue_escalating, snoozed, acknowledged)")
	return cmd
}

// NewGetCmd creates the get command.
func NewGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get <alarm-id>",
		Short: "Show one alarm with its escalation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				alarm, err := c.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if app.json {
					return writeJSON(cmd.OutOrStdout(), alarm)
				}
				return renderAlarmDetail(cmd.OutOrStdout(), alarm)
			})
		},
	}
}

// AddOptions holds flags for the add command.
type AddOptions struct {
	ID     string
	TaskID string
	Title  string
	Due    string // RFC3339 or an offset from now such as -15m or 2h
}

// NewAddCmd creates the add command.
func NewAddCmd(app *App) *cobra.Command {
	var opts AddOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an alarm for a task",
		Long: `Create an alarm for a task. --due takes an RFC3339 timestamp or an
offset from now: "-15m" makes the alarm fifteen minutes overdue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := parseDue(opts.Due, app.now())
			if err != nil {
				return err
			}
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				alarm, err := c.Add(ctx, handlers.CreateAlarmRequest{
					ID:      opts.ID,
					TaskID:  opts.TaskID,
					Title:   opts.Title,
					DueDate: due,
				})
				if err != nil {
					return err
				}
				return app.printAlarm(cmd, "created", alarm)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "Alarm id (alm_ prefix); generated when empty")
	cmd.Flags().StringVar(&opts.TaskID, "task", "", "Task id the alarm belongs to")
	cmd.Flags().StringVar(&opts.Title, "title", "", "Alarm title")
	cmd.Flags().StringVar(&opts.Due, "due", "", "Due date (RFC3339 or offset from now)")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

// NewAckCmd creates the ack command.
func NewAckCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "ack <alarm-id>",
		Aliases: []string{"acknowledge"},
		Short:   "Acknowledge an alarm and stop its notifications",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				alarm, err := c.Acknowledge(ctx, args[0])
				if err != nil {
					return err
				}
				return app.printAlarm(cmd, "acknowledged", alarm)
			})
		},
	}
}

// NewSnoozeCmd creates the snooze command.
func NewSnoozeCmd(app *App) *cobra.Command {
	var d time.Duration
	cmd := &cobra.Command{
		Use:   "snooze <alarm-id>",
		Short: "Silence an alarm for a while",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				alarm, err := c.Snooze(ctx, args[0], d)
				if err != nil {
					return err
				}
				return app.printAlarm(cmd, "snoozed", alarm)
			})
		},
	}
	cmd.Flags().DurationVar(&d, "for", 10*time.Minute, "Snooze duration")
	return cmd
}

// NewRescheduleCmd creates the reschedule command.
func NewRescheduleCmd(app *App) *cobra.Command {
	var due string
	cmd := &cobra.Command{
		Use:   "reschedule <alarm-id>",
		Short: "Move an alarm's due date and reset its level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseDue(due, app.now())
			if err != nil {
				return err
			}
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				alarm, err := c.Reschedule(ctx, args[0], at)
				if err != nil {
					return err
				}
				return app.printAlarm(cmd, "rescheduled", alarm)
			})
		},
	}
	cmd.Flags().StringVar(&due, "due", "", "New due date (RFC3339 or offset from now)")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

// NewRemoveCmd creates the remove command.
func NewRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <alarm-id>",
		Aliases: []string{"rm"},
		Short:   "Delete an alarm",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Remove(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				return nil
			})
		},
	}
}

// NewCleanupCmd creates the cleanup command.
func NewCleanupCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Drop inactive alarms past the expiry grace period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				removed, err := c.Cleanup(ctx)
				if err != nil {
					return err
				}
				if app.json {
					return writeJSON(cmd.OutOrStdout(), handlers.CleanupResult{Removed: removed})
				}
				if len(removed) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to clean up")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d alarm(s): %s\n", len(removed), strings.Join(removed, ", "))
				return nil
			})
		},
	}
}

func (a *App) printAlarm(cmd *cobra.Command, verb string, alarm handlers.AlarmView) error {
	if a.json {
		return writeJSON(cmd.OutOrStdout(), alarm)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %s)\n", verb, alarm.ID, levelLabel(alarm.Level), alarm.State)
	return nil
}

// parseDue accepts an RFC3339 timestamp or a signed offset from now.
func parseDue(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("due date is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q: use RFC3339 or an offset like -15m", s)
	}
	return now.Add(d).Truncate(time.Second), nil
}
