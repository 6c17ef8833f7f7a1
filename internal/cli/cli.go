// Package cli implements alarmctl, the command line front end for alarmd.
package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"escalarm/internal/client"
)

const (
	defaultURL     = "http://localhost:8080"
	defaultTimeout = 10 * time.Second
)

// App represents the CLI application with all wired dependencies.
type App struct {
	rootCmd *cobra.Command

	baseURL string
	apiKey  string
	json    bool
	timeout time.Duration

	// newClient is replaced in tests.
	newClient func(baseURL, apiKey string) *client.Client
	now       func() time.Time

	version string
	commit  string
}

// New creates the CLI application. Connection defaults come from
// ALARMD_URL and ALARMD_API_KEY.
func New() *App {
	app := &App{
		newClient: func(baseURL, apiKey string) *client.Client { return client.New(baseURL, apiKey) },
		now:       time.Now,
		version:   "dev",
		commit:    "unknown",
	}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the version string for the version command.
func (a *App) SetVersion(version, commit string) {
	a.version = version
	a.commit = commit
}

// SetArgs and SetOutput let tests drive the root command.
func (a *App) SetArgs(args []string) { a.rootCmd.SetArgs(args) }

func (a *App) SetOutput(w io.Writer) {
	a.rootCmd.SetOut(w)
	a.rootCmd.SetErr(w)
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "alarmctl",
		Short: "Inspect and drive an escalarm daemon",
		Long: `alarmctl talks to alarmd over its HTTP API. It lists live alarms,
acknowledges and snoozes them, and shows the escalation ladder and
pending notifications.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := a.rootCmd.PersistentFlags()
	flags.StringVar(&a.baseURL, "url", envOr("ALARMD_URL", defaultURL), "alarmd base URL")
	flags.StringVar(&a.apiKey, "api-key", os.Getenv("ALARMD_API_KEY"), "API key sent as X-Api-Key")
	flags.BoolVar(&a.json, "json", false, "Output as JSON instead of formatted text")
	flags.DurationVar(&a.timeout, "timeout", defaultTimeout, "Request timeout")

	a.rootCmd.AddCommand(
		NewListCmd(a),
		NewGetCmd(a),
		NewAddCmd(a),
		NewAckCmd(a),
		NewSnoozeCmd(a),
		NewRescheduleCmd(a),
		NewRemoveCmd(a),
		NewCleanupCmd(a),
		NewStatsCmd(a),
		NewLadderCmd(a),
		NewPendingCmd(a),
		NewAdvisoriesCmd(a),
		NewHistoryCmd(a),
		NewVersionCmd(a),
	)
}

// call runs fn with a client and a context bounded by --timeout.
func (a *App) call(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()
	return fn(ctx, a.newClient(a.baseURL, a.apiKey))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
