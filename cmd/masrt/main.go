// Command masrt boots the multi-agent runtime core from a YAML config
// file: it registers every configured agent and operator, dials every
// configured MCP tool server, starts the per-agent worker loops and the
// message dispatcher, and serves a Prometheus /metrics endpoint.
//
// Task and stage authoring (spec §6 create_task/add_stage/start_stage)
// is an embedder operation, not a CLI one — this binary is the harness
// that boots the runtime; driving it is done through internal/masrt's
// Go API, the same way the teacher-original's mas.py is a library a
// surrounding application constructs tasks against.
//
// Usage:
//
//	masrt serve --config masrt.yaml
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/agentruntime/masrt/internal/config"
)

// CLI defines the command-line interface, grounded on cmd/hector's
// kong.CLI shape: one struct field per subcommand plus global flags.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the runtime."`

	Config    string `short:"c" help:"Path to YAML config file." type:"path" default:"masrt.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("masrt version %s\n", version)
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("masrt"),
		kong.Description("masrt - multi-agent system runtime"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
