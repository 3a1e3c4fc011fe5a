package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rendis/flowos/internal/config"
	"github.com/rendis/flowos/internal/converter"
	"github.com/rendis/flowos/internal/diagram"
	"github.com/rendis/flowos/internal/layout"
	"github.com/rendis/flowos/internal/logging"
	"github.com/rendis/flowos/internal/observability"
	"github.com/rendis/flowos/pkg/schema"
)

// readInput returns the contents of path, or of stdin when path is empty or "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// cliService builds an uncached conversion service for one-shot commands.
func cliService(ctx context.Context, cfg config.Config, stderr io.Writer) (*converter.Service, error) {
	logger := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	svc, _, err := newService(ctx, cfg, logger, nil, observability.Setup(false), false)
	return svc, err
}

// cliLayout applies a -direction flag over the configured layout defaults.
func cliLayout(cfg config.Config, direction string) layout.Options {
	opts := cfg.Layout
	if direction != "" {
		opts.Direction = layout.Direction(direction)
	}
	return opts
}

func runParse(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("parse", stderr)
	var cf configFlags
	cf.register(fs)
	file := fs.String("file", "", "input file (default: stdin)")
	direction := fs.String("direction", "", "layout direction: TB, BT, LR or RL")
	generate := fs.Bool("generate", false, "ask the configured LLM first, falling back to the parser")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	text, err := readInput(*file, stdin)
	if err != nil {
		return err
	}
	svc, err := cliService(ctx, cfg, stderr)
	if err != nil {
		return err
	}

	opts := cliLayout(cfg, *direction)
	var res *schema.ConversionResult
	if *generate {
		res = svc.Generate(ctx, string(text), opts)
	} else {
		res = svc.Parse(ctx, string(text), opts)
	}
	if err := writeJSONTo(stdout, res); err != nil {
		return err
	}
	if !res.Success {
		return errSilent
	}
	return nil
}

func runValidate(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("validate", stderr)
	file := fs.String("file", "", "graph JSON file (default: stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := readInput(*file, stdin)
	if err != nil {
		return err
	}
	var g schema.GraphStructure
	if err := json.Unmarshal(data, &g); err != nil {
		return fmt.Errorf("invalid graph JSON: %w", err)
	}

	svc, err := converter.NewService(converter.Deps{Logger: logging.New(stderr, "warn", "text")})
	if err != nil {
		return err
	}
	report := svc.Validate(ctx, &g).Report()
	if err := writeJSONTo(stdout, report); err != nil {
		return err
	}
	if !report.IsValid {
		return errSilent
	}
	return nil
}

func runDiagram(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("diagram", stderr)
	var cf configFlags
	cf.register(fs)
	file := fs.String("file", "", "input file (default: stdin)")
	isGraph := fs.Bool("graph", false, "input is graph JSON instead of step text")
	format := fs.String("format", "ascii", "output format: ascii, mermaid, dot, svg or png")
	direction := fs.String("direction", "", "diagram direction: TB, BT, LR or RL")
	title := fs.String("title", "", "diagram title")
	out := fs.String("o", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f, err := diagram.ParseFormat(*format)
	if err != nil {
		return err
	}
	cfg, err := cf.load()
	if err != nil {
		return err
	}
	opts := cliLayout(cfg, *direction)
	dir, err := layout.ParseDirection(string(opts.Direction))
	if err != nil {
		return err
	}

	data, err := readInput(*file, stdin)
	if err != nil {
		return err
	}
	var g *schema.GraphStructure
	if *isGraph {
		g = &schema.GraphStructure{}
		if err := json.Unmarshal(data, g); err != nil {
			return fmt.Errorf("invalid graph JSON: %w", err)
		}
	} else {
		svc, err := cliService(ctx, cfg, stderr)
		if err != nil {
			return err
		}
		res := svc.Parse(ctx, string(data), opts)
		if !res.Success {
			return fmt.Errorf("%s: %s", res.ErrorCode, res.Error)
		}
		g = res.Graph
	}

	model, err := diagram.Build(g, diagram.Options{Title: *title, Direction: dir})
	if err != nil {
		return err
	}
	var rendered []byte
	if f == diagram.FormatASCII {
		rendered = []byte(diagram.RenderASCIIAuto(ctx, model, cfg.BinDir))
	} else if rendered, err = diagram.Render(ctx, model, f); err != nil {
		return err
	}

	if *out != "" {
		return os.WriteFile(*out, rendered, 0o644)
	}
	_, err = stdout.Write(rendered)
	return err
}
