// Package merge computes merged output trees from a vendor base and a
// project overlay.
//
// Every file path resolves to a strategy: structured documents are deep
// merged, markdown documents are spliced along section markers, anything
// else is replaced wholesale by the overlay. The engine is pure: it
// plans in memory and applies plans to an output store, so callers
// control when state actually changes.
package merge

import (
	"path"
	"strings"
)

const (
	// StrategyReplace takes the overlay file as is
	StrategyReplace = iota
	// StrategyStructured deep merges json and yaml documents
	StrategyStructured
	// StrategySections splices markdown documents along section markers
	StrategySections
)

// Strategy qualifies how a base file and an overlay file are combined
type Strategy uint

func (s Strategy) String() string {
	strategyStrings := map[Strategy]string{
		StrategyReplace:    "replace",
		StrategyStructured: "structured",
		StrategySections:   "sections",
	}
	return strategyStrings[s]
}

// ForPath resolves the merge strategy for a file path by extension.
func ForPath(p string) Strategy {
	switch strings.ToLower(path.Ext(p)) {
	case ".json", ".yaml", ".yml":
		return StrategyStructured
	case ".md", ".mdx", ".markdown":
		return StrategySections
	default:
		return StrategyReplace
	}
}

// structuredFormat distinguishes the serialization of structured documents
type structuredFormat uint

const (
	formatJSON = iota
	formatYAML
)

func formatForPath(p string) structuredFormat {
	if strings.ToLower(path.Ext(p)) == ".json" {
		return formatJSON
	}
	return formatYAML
}
