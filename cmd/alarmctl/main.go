// Command alarmctl is the command line client for alarmd.
package main

import (
	"fmt"
	"os"

	"escalarm/internal/cli"
	"escalarm/internal/config"
)

func main() {
	app := cli.New()
	build := config.NewBuildInfo()
	app.SetVersion(build.Version, build.Commit)

	if err := app.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
