package ingest

import (
	"cmp"
	"slices"
	"strings"

	"github.com/impactledger/impact-ingest/internal/directory"
	"github.com/impactledger/impact-ingest/internal/period"
)

// DefaultFallbackRank is the rank of entities that are not on the priority list
const DefaultFallbackRank = 1000

// Rank keeps entities that carry both a code and a trading code, orders them by
// (priority rank, code) and caps the result to maxTargets (zero means no cap).
// Entities on the priority list rank by their position in it; all others share fallback.
// Duplicate codes keep their first occurrence.
func Rank(entities []directory.Entity, priority []string, fallback, maxTargets int) []directory.Entity {
	ranks := make(map[string]int, len(priority))
	for i, code := range priority {
		code = strings.TrimSpace(code)
		if _, seen := ranks[code]; !seen && code != "" {
			ranks[code] = i
		}
	}

	seen := make(map[string]struct{}, len(entities))
	ranked := make([]directory.Entity, 0, len(entities))
	for _, e := range entities {
		e.Code = strings.TrimSpace(e.Code)
		if e.Code == "" || !e.Listed() {
			continue
		}
		if _, dup := seen[e.Code]; dup {
			continue
		}
		seen[e.Code] = struct{}{}

		e.Rank = fallback
		if r, ok := ranks[e.Code]; ok {
			e.Rank = r
		}
		ranked = append(ranked, e)
	}

	slices.SortStableFunc(ranked, func(a, b directory.Entity) int {
		return cmp.Or(cmp.Compare(a.Rank, b.Rank), cmp.Compare(a.Code, b.Code))
	})

	if maxTargets > 0 && len(ranked) > maxTargets {
		ranked = ranked[:maxTargets]
	}
	return ranked
}

// BuildTasks returns the entity-major cross product of entities and periods
func BuildTasks(entities []directory.Entity, periods []period.Period) []Task {
	tasks := make([]Task, 0, len(entities)*len(periods))
	for i, e := range entities {
		for _, p := range periods {
			tasks = append(tasks, Task{Index: i, Entity: e, Period: p})
		}
	}
	return tasks
}

// resumeIndex returns the first entity index to process given a saved position
func resumeIndex(entities []directory.Entity, position int, lastCode string) int {
	if lastCode != "" {
		for i, e := range entities {
			if e.Code == lastCode {
				return i + 1
			}
		}
	}
	return max(0, min(position, len(entities)))
}
