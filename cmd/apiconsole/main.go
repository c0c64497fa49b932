// Apiconsole is the backend for the API console.
//
// It serves the HTTP routes and the WebSocket command channel, and
// offers a few development helpers. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	apiconsole serve                       Start the API server
//	apiconsole init [dir]                  Write an example config.yaml
//	apiconsole parse <text>                Print the parsed intent as JSON
//	apiconsole token --sub ID --email E    Mint a development bearer token
//	apiconsole send <text>                 Run one command over the WebSocket
//	apiconsole version [-o json]           Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nugget/apiconsole/internal/config"
)

// main constructs the OS-level environment and delegates to [run], so the
// whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx bounds the process lifetime; stdout
// receives command output and logs, stderr receives usage errors.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "apiconsole",
		Short: "API console backend",
		Long: `apiconsole turns free-text commands into calls against public REST APIs
(weather, cat facts, Chuck Norris jokes, GitHub users, activities) and
streams the results to authenticated WebSocket clients.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newServeCmd(g),
		newInitCmd(),
		newParseCmd(),
		newTokenCmd(g),
		newSendCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used and must exist. Otherwise the
// default locations are searched, and when none exists the built-in
// defaults are returned with an empty path.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
