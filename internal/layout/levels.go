// Package layout assigns dependency levels and 2-D coordinates to steps.
package layout

import (
	"github.com/rendis/flowos/pkg/schema"
)

// visit states for level computation.
const (
	unvisited = iota
	visiting
	done
)

// AssignLevels computes the dependency depth of every step.
// A step with no resolvable dependencies sits at level 0; any other step sits
// one level below its deepest dependency. Dependencies that do not name a
// step in the set are ignored. A dependency cycle fails with
// ErrCodeCycleDetected.
func AssignLevels(steps []schema.Step) (map[string]int, error) {
	byID := make(map[string]*schema.Step, len(steps))
	for i := range steps {
		byID[steps[i].ID] = &steps[i]
	}

	levels := make(map[string]int, len(steps))
	state := make(map[string]int, len(steps))

	var visit func(id string) (int, error)
	visit = func(id string) (int, error) {
		switch state[id] {
		case done:
			return levels[id], nil
		case visiting:
			return 0, schema.NewErrorf(schema.ErrCodeCycleDetected, "dependency cycle through step %s", id).WithStep(id)
		}
		state[id] = visiting

		level := 0
		for _, dep := range byID[id].Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			d, err := visit(dep)
			if err != nil {
				return 0, err
			}
			if d+1 > level {
				level = d + 1
			}
		}

		state[id] = done
		levels[id] = level
		return level, nil
	}

	for _, s := range steps {
		if _, err := visit(s.ID); err != nil {
			return nil, err
		}
	}
	return levels, nil
}

// Group returns step ids bucketed by level, preserving input order inside
// each bucket. Steps missing from levels are placed at level 0.
func Group(steps []schema.Step, levels map[string]int) [][]string {
	maxLevel := MaxLevel(levels)
	groups := make([][]string, maxLevel+1)
	for _, s := range steps {
		l := levels[s.ID]
		groups[l] = append(groups[l], s.ID)
	}
	return groups
}

// MaxLevel returns the deepest level in levels, or 0 when empty.
func MaxLevel(levels map[string]int) int {
	maxLevel := 0
	for _, l := range levels {
		if l > maxLevel {
			maxLevel = l
		}
	}
	return maxLevel
}
