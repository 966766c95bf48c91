// Mcpbridge connects a host to remote MCP (Model Context Protocol)
// servers: it discovers the tools they expose, invokes them, and keeps a
// local registry of projected tools in sync with the capability
// selection in its config file.
//
// Usage:
//
//	mcpbridge tools <server>                    List a server's capabilities
//	mcpbridge call <server> <capability> [json] Invoke one capability
//	mcpbridge sync [server]                     Reconcile projected tools
//	mcpbridge projected [server]                List projected tools
//	mcpbridge init [dir]                        Write an example config
//	mcpbridge version                           Print version information
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattnowzari/mcpbridge/internal/buildinfo"
	"github.com/mattnowzari/mcpbridge/internal/config"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// every subcommand can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the mcpbridge command. All OS-level
// dependencies are injected as parameters: ctx bounds the process
// lifetime, stdout and stderr receive output (results on stdout, logs
// on stderr), and args is os.Args[1:].
//
// Arguments are parsed by hand. The flag package relies on
// package-level globals (flag.CommandLine), which makes it impossible
// to call run() concurrently from tests, and the argument surface here
// is small enough that manual parsing is clearer than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "tools":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: mcpbridge tools <server>")
		}
		return runTools(ctx, stdout, stderr, configPath, outputFmt, cmdArgs[0])
	case "call":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: mcpbridge call <server> <capability> [json-args]")
		}
		return runCall(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "sync":
		server := ""
		if len(cmdArgs) > 0 {
			server = cmdArgs[0]
		}
		return runSync(ctx, stdout, stderr, configPath, server)
	case "projected":
		server := ""
		if len(cmdArgs) > 0 {
			server = cmdArgs[0]
		}
		return runProjected(ctx, stdout, stderr, configPath, outputFmt, server)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// loadConfig finds and loads the config file, returning the parsed
// config and the path it came from.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// newLogger builds the CLI logger. Logs go to stderr so stdout stays
// clean for command output.
func newLogger(stderr io.Writer, levelName string) *slog.Logger {
	level, err := config.ParseLogLevel(levelName)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// mcpbridge is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "mcpbridge - MCP capability bridge")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: mcpbridge [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  tools <server>                     List a server's capabilities")
	fmt.Fprintln(w, "  call <server> <capability> [json]  Invoke one capability with JSON arguments")
	fmt.Fprintln(w, "  sync [server]                      Reconcile projected tools (all servers if omitted)")
	fmt.Fprintln(w, "  projected [server]                 List projected tools in the registry")
	fmt.Fprintln(w, "  init [dir]                         Write an example config (default: .)")
	fmt.Fprintln(w, "  version                            Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./mcpbridge.yaml, ~/.config/mcpbridge/mcpbridge.yaml, /etc/mcpbridge/mcpbridge.yaml")
	return nil
}
