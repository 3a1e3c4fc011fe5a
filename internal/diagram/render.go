package diagram

import (
	"context"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/rendis/flowos/pkg/schema"
)

// Format names a diagram output format.
type Format string

const (
	FormatASCII   Format = "ascii"
	FormatMermaid Format = "mermaid"
	FormatDOT     Format = "dot"
	FormatSVG     Format = "svg"
	FormatPNG     Format = "png"
)

// ParseFormat resolves a format name. Empty selects mermaid.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatMermaid, nil
	case FormatASCII, FormatMermaid, FormatDOT, FormatSVG, FormatPNG:
		return f, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation,
		"unknown diagram format %q (want ascii, mermaid, dot, svg or png)", s)
}

// ContentType returns the MIME type of a rendered format.
func (f Format) ContentType() string {
	switch f {
	case FormatSVG:
		return "image/svg+xml"
	case FormatPNG:
		return "image/png"
	case FormatDOT:
		return "text/vnd.graphviz; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Binary reports whether the rendered output is not text.
func (f Format) Binary() bool { return f == FormatPNG }

// Render renders a model in the given format.
func Render(ctx context.Context, model *DiagramModel, format Format) ([]byte, error) {
	switch format {
	case FormatASCII:
		return []byte(RenderASCII(model)), nil
	case FormatDOT:
		return RenderGraphviz(ctx, model, graphviz.XDOT)
	case FormatSVG:
		return RenderGraphviz(ctx, model, graphviz.SVG)
	case FormatPNG:
		return RenderGraphviz(ctx, model, graphviz.PNG)
	default:
		return []byte(RenderMermaid(model)), nil
	}
}
