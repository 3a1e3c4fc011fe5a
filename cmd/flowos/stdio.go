package main

import (
	"context"
	"io"

	"github.com/rendis/flowos/internal/logging"
	"github.com/rendis/flowos/pkg/mcp"
)

// runMCP serves the flowos tools over stdio. Logs go to stderr so stdout
// stays reserved for the protocol.
func runMCP(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("mcp", stderr)
	var cf configFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	logger := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcp.NewFlowServer(mcp.FlowServerDeps{
		Service:  a.service,
		Graphs:   a.graphs,
		Hub:      a.hub,
		Defaults: cfg.Layout,
		Logger:   logger,
	})
	logger.Info("mcp server starting", "db_path", cfg.DBPath)
	return srv.Serve(ctx)
}
