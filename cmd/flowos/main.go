// Command flowos converts step-by-step text into workflow graphs and serves
// the conversion, saved-graph and MCP surfaces.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/flowos/internal/config"
)

const usage = `usage: flowos <command> [flags]

commands:
  parse      convert step text to a graph (JSON)
  validate   check a graph document
  diagram    render step text or a graph as ascii, mermaid, dot, svg or png
  serve      run the HTTP API
  mcp        run the MCP stdio server
  install    write settings and fetch optional tools
  version    print the version

run 'flowos <command> -h' for command flags.
`

// errSilent marks failures whose details were already written to the user.
var errSilent = errors.New("command failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "parse":
		err = runParse(ctx, rest, stdin, stdout, stderr)
	case "validate":
		err = runValidate(ctx, rest, stdin, stdout, stderr)
	case "diagram":
		err = runDiagram(ctx, rest, stdin, stdout, stderr)
	case "serve":
		err = runServe(ctx, rest, stderr)
	case "mcp":
		err = runMCP(ctx, rest, stderr)
	case "install":
		err = runInstall(ctx, rest, stdout, stderr)
	case "version", "-v", "--version":
		printVersion(stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errSilent):
		return 1
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

// configFlags registers the flags every config-reading command shares.
type configFlags struct {
	settings string
	envFile  string
}

func (c *configFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.settings, "config", "", "settings file, YAML or JSON (default: ~/.flowos/settings.yaml if present)")
	fs.StringVar(&c.envFile, "env-file", "", "dotenv file (default: ./.env if present)")
}

func (c *configFlags) options() config.LoadOptions {
	return config.LoadOptions{SettingsPath: c.settings, EnvFile: c.envFile}
}

func (c *configFlags) load() (config.Config, error) {
	return config.Load(c.options())
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
