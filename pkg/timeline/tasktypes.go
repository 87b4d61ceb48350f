package timeline

import (
	"sort"
	"time"

	"github.com/tracelane/tracelane/internal/model"
)

// OrderTaskTypes orders task types by the latest event offset of any of
// their jobs, ascending, with ties broken by name. Rows of jobs without a
// descriptor are ignored.
func OrderTaskTypes(rows []model.EventRow, origin time.Time, descs map[string]model.JobDescriptor) []string {
	latest := make(map[string]float64)
	for _, r := range rows {
		d, ok := descs[r.JobID]
		if !ok {
			continue
		}
		off := Offset(r.Time, origin)
		if cur, seen := latest[d.TaskType]; !seen || off > cur {
			latest[d.TaskType] = off
		}
	}

	types := make([]string, 0, len(latest))
	for t := range latest {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if latest[types[i]] != latest[types[j]] {
			return latest[types[i]] < latest[types[j]]
		}
		return types[i] < types[j]
	})
	return types
}
