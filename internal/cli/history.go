package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"escalarm/internal/archive"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	Dir     string // ARCHIVE_DIR of the daemon
	Date    string // YYYY-MM-DD, UTC
	AlarmID string
}

// NewHistoryCmd creates the history command. It reads the daemon's archive
// directly from disk and does not contact alarmd.
func NewHistoryCmd(app *App) *cobra.Command {
	opts := HistoryOptions{Dir: os.Getenv("ARCHIVE_DIR")}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show archived alarms for a day",
		Long: `history decodes the daemon's compressed archive for one UTC day and
lists every alarm that left the live set, with the reason and the number of
escalations it went through.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Date == "" {
				opts.Date = app.now().UTC().Format("2006-01-02")
			}
			recs, err := readHistory(opts)
			if err != nil {
				return err
			}
			if app.json {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			return renderHistory(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().StringVar(&opts.Dir, "dir", opts.Dir, "Archive directory (defaults to $ARCHIVE_DIR)")
	cmd.Flags().StringVar(&opts.Date, "date", "", "Day to read, YYYY-MM-DD (defaults to today, UTC)")
	cmd.Flags().StringVar(&opts.AlarmID, "alarm", "", "Only show records for this alarm")
	return cmd
}

func readHistory(opts HistoryOptions) ([]archive.Record, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("archive directory is required (--dir or ARCHIVE_DIR)")
	}
	day, err := time.Parse("2006-01-02", opts.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid --date %q: %w", opts.Date, err)
	}
	path := archive.PathFor(opts.Dir, day)

	recs, err := archive.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []archive.Record{}, nil
	}
	if err != nil {
		return recs, fmt.Errorf("reading %s: %w", path, err)
	}
	if opts.AlarmID == "" {
		return recs, nil
	}
	out := recs[:0]
	for _, r := range recs {
		if strings.EqualFold(r.Alarm.ID, opts.AlarmID) {
			out = append(out, r)
		}
	}
	return out, nil
}
