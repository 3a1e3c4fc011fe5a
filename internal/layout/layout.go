package layout

import (
	"fmt"
	"strings"

	"github.com/rendis/flowos/pkg/schema"
)

// Direction is the axis along which levels advance.
type Direction string

const (
	DirectionTB Direction = "TB"
	DirectionBT Direction = "BT"
	DirectionLR Direction = "LR"
	DirectionRL Direction = "RL"
)

// Default layout parameters.
const (
	DefaultNodeSpacing  = 200.0
	DefaultLevelSpacing = 150.0
)

// DefaultStartPosition is the anchor of the first level.
var DefaultStartPosition = schema.Position{X: 250, Y: 50}

var directionAliases = map[string]Direction{
	"tb":            DirectionTB,
	"td":            DirectionTB,
	"top-to-bottom": DirectionTB,
	"bt":            DirectionBT,
	"bottom-to-top": DirectionBT,
	"lr":            DirectionLR,
	"left-to-right": DirectionLR,
	"rl":            DirectionRL,
	"right-to-left": DirectionRL,
}

// ParseDirection resolves a direction name or alias. Empty input yields TB.
func ParseDirection(s string) (Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DirectionTB, nil
	}
	if d, ok := directionAliases[s]; ok {
		return d, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown layout direction %q", s)
}

// Horizontal reports whether levels advance along the x axis.
func (d Direction) Horizontal() bool {
	return d == DirectionLR || d == DirectionRL
}

// Reversed reports whether the level axis is inverted.
func (d Direction) Reversed() bool {
	return d == DirectionBT || d == DirectionRL
}

// Options tunes coordinate assignment. Zero values select the defaults.
type Options struct {
	Direction     Direction        `json:"direction,omitempty" yaml:"direction"`
	NodeSpacing   float64          `json:"nodeSpacing,omitempty" yaml:"node_spacing"`
	LevelSpacing  float64          `json:"levelSpacing,omitempty" yaml:"level_spacing"`
	StartPosition *schema.Position `json:"startPosition,omitempty" yaml:"start_position"`
}

// Normalize returns a copy of o with defaults filled in and the direction
// resolved from its aliases.
func (o Options) Normalize() (Options, error) {
	dir, err := ParseDirection(string(o.Direction))
	if err != nil {
		return o, err
	}
	o.Direction = dir
	if o.NodeSpacing == 0 {
		o.NodeSpacing = DefaultNodeSpacing
	}
	if o.LevelSpacing == 0 {
		o.LevelSpacing = DefaultLevelSpacing
	}
	if o.StartPosition == nil {
		start := DefaultStartPosition
		o.StartPosition = &start
	}
	return o, nil
}

// Or fills the unset fields of o from fallback.
func (o Options) Or(fallback Options) Options {
	if o.Direction == "" {
		o.Direction = fallback.Direction
	}
	if o.NodeSpacing == 0 {
		o.NodeSpacing = fallback.NodeSpacing
	}
	if o.LevelSpacing == 0 {
		o.LevelSpacing = fallback.LevelSpacing
	}
	if o.StartPosition == nil {
		o.StartPosition = fallback.StartPosition
	}
	return o
}

// Key is a stable textual form of the normalized options, used in cache keys.
func (o Options) Key() string {
	n, err := o.Normalize()
	if err != nil {
		return "invalid:" + string(o.Direction)
	}
	return fmt.Sprintf("%s|%g|%g|%g,%g", n.Direction, n.NodeSpacing, n.LevelSpacing, n.StartPosition.X, n.StartPosition.Y)
}

// Layout assigns a position to every step. Steps sharing a level are
// centered around the start position on the secondary axis in input order;
// levels advance along the primary axis. An unrecognized direction falls
// back to TB.
func Layout(steps []schema.Step, levels map[string]int, opts Options) map[string]schema.Position {
	o, err := opts.Normalize()
	if err != nil {
		o, _ = Options{NodeSpacing: opts.NodeSpacing, LevelSpacing: opts.LevelSpacing, StartPosition: opts.StartPosition}.Normalize()
	}

	maxLevel := MaxLevel(levels)
	positions := make(map[string]schema.Position, len(steps))

	for level, group := range Group(steps, levels) {
		adj := level
		if o.Direction.Reversed() {
			adj = maxLevel - level
		}
		primary := float64(adj) * o.LevelSpacing
		for i, id := range group {
			offset := (float64(i) - float64(len(group)-1)/2) * o.NodeSpacing
			if o.Direction.Horizontal() {
				positions[id] = schema.Position{X: o.StartPosition.X + primary, Y: o.StartPosition.Y + offset}
			} else {
				positions[id] = schema.Position{X: o.StartPosition.X + offset, Y: o.StartPosition.Y + primary}
			}
		}
	}
	return positions
}
