// Package main provides the entry point for snapmesh-server.
//
// snapmesh-server replicates canister snapshot management for one subnet.
// See doc.go for the commands.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/snapmesh-go/internal/infra/buildinfo"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newApp creates the CLI application.
func newApp() *cli.App {
	return &cli.App{
		Name:    "snapmesh-server",
		Usage:   "Replicated canister snapshot service",
		Version: buildinfo.String(),
		Commands: []*cli.Command{
			serveCommand(),
			checkpointCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print as JSON"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("json") {
				return printJSON(c.App.Writer, buildinfo.Get())
			}
			fmt.Fprintf(c.App.Writer, "snapmesh-server %s\n", buildinfo.String())
			return nil
		},
	}
}
