package cache

import (
	"fmt"
	"strings"
)

// Level identifies one cache level.
type Level int

const (
	// LevelLocal is the small, fastest in-process level.
	LevelLocal Level = iota
	// LevelSecondary is the larger in-process level with a longer TTL.
	LevelSecondary
	// LevelShared is the remote level visible to every process.
	LevelShared
	// LevelAll addresses every level at once (evict and clear only).
	LevelAll
)

const levelCount = 3

// lookupOrder is the fixed read order, fastest to slowest.
var lookupOrder = [levelCount]Level{LevelLocal, LevelSecondary, LevelShared}

func (l Level) String() string {
	switch l {
	case LevelLocal:
		return "local"
	case LevelSecondary:
		return "secondary"
	case LevelShared:
		return "shared"
	case LevelAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name into a Level. An empty name means LevelAll.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "local", "l1":
		return LevelLocal, nil
	case "secondary", "l3":
		return LevelSecondary, nil
	case "shared", "l2":
		return LevelShared, nil
	case "all", "":
		return LevelAll, nil
	default:
		return LevelAll, fmt.Errorf("unknown cache level %q", name)
	}
}

// targets expands a level selector into concrete levels.
func (l Level) targets() []Level {
	if l == LevelAll {
		return lookupOrder[:]
	}
	if l < 0 || l >= levelCount {
		return nil
	}
	return []Level{l}
}
