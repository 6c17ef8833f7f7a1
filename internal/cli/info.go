package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"escalarm/internal/client"
)

// NewStatsCmd creates the stats command.
func NewStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate statistics over live alarms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				st, err := c.Statistics(ctx)
				if err != nil {
					return err
				}
				if app.json {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				return renderStatistics(cmd.OutOrStdout(), st)
			})
		},
	}
}

// NewLadderCmd creates the ladder command.
func NewLadderCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ladder",
		Short: "Show the escalation ladder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				rungs, err := c.Ladder(ctx)
				if err != nil {
					return err
				}
				if app.json {
					return writeJSON(cmd.OutOrStdout(), rungs)
				}
				return renderLadder(cmd.OutOrStdout(), rungs)
			})
		},
	}
}

// NewPendingCmd creates the pending command.
func NewPendingCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List notifications waiting to fire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				resp, err := c.Pending(ctx)
				if err != nil {
					return err
				}
				if app.json {
					return writeJSON(cmd.OutOrStdout(), resp)
				}
				return renderPending(cmd.OutOrStdout(), resp)
			})
		},
	}
}

// NewAdvisoriesCmd creates the advisories command.
func NewAdvisoriesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "advisories",
		Short: "Show recent notification and persistence failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.call(cmd, func(ctx context.Context, c *client.Client) error {
				advs, err := c.Advisories(ctx)
				if err != nil {
					return err
				}
				if app.json {
					return writeJSON(cmd.OutOrStdout(), advs)
				}
				return renderAdvisories(cmd.OutOrStdout(), advs)
			})
		},
	}
}

// NewVersionCmd creates the version command.
func NewVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the alarmctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "alarmctl %s (%s)\n", app.version, app.commit)
		},
	}
}
