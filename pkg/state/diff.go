package state

import (
	"fmt"
	"reflect"
	"sort"
)

// FieldChange describes one changed key between two snapshot states.
type FieldChange struct {
	Path   string
	Before interface{}
	After  interface{}
}

// TaskDiff reports what changed for one task between two snapshots.
type TaskDiff struct {
	TaskID        string
	TaskName      string
	Host          string
	StatusBefore  TaskStatus
	StatusAfter   TaskStatus
	FieldChanges  []FieldChange
	AddedInAfter  bool
	RemovedInAfter bool
}

// HostCounterDelta is how one host's running totals moved between two
// snapshots, for a host present in both.
type HostCounterDelta struct {
	Host               string
	OkDelta            int
	ChangedDelta       int
	FailedDelta        int
	SkippedDelta       int
	UnreachableBefore  bool
	UnreachableAfter   bool
}

// DiffReport is the full comparison between two snapshots.
type DiffReport struct {
	FromSnapshotID string
	ToSnapshotID   string
	TaskDiffs      []TaskDiff
	HostsAdded     []string
	HostsRemoved   []string
	HostDeltas     []HostCounterDelta
}

// HasChanges reports whether the report contains anything beyond
// identical, unchanged tasks.
func (r DiffReport) HasChanges() bool {
	if len(r.HostsAdded) > 0 || len(r.HostsRemoved) > 0 {
		return true
	}
	for _, td := range r.TaskDiffs {
		if td.AddedInAfter || td.RemovedInAfter || len(td.FieldChanges) > 0 || td.StatusBefore != td.StatusAfter {
			return true
		}
	}
	for _, hd := range r.HostDeltas {
		if hd.OkDelta != 0 || hd.ChangedDelta != 0 || hd.FailedDelta != 0 || hd.SkippedDelta != 0 || hd.UnreachableBefore != hd.UnreachableAfter {
			return true
		}
	}
	return false
}

// Engine compares two StateSnapshots, producing a structured DiffReport
// of what changed per task and per host.
type Engine struct{}

// NewEngine returns a diff engine. It carries no state.
func NewEngine() *Engine { return &Engine{} }

// Compare builds a DiffReport describing how `to` differs from `from`.
func (e *Engine) Compare(from, to *StateSnapshot) *DiffReport {
	report := &DiffReport{FromSnapshotID: from.ID, ToSnapshotID: to.ID}

	fromTasks := indexTasks(from.Tasks)
	toTasks := indexTasks(to.Tasks)

	seen := make(map[string]struct{})
	var ids []string
	for id := range fromTasks {
		ids = append(ids, id)
	}
	for id := range toTasks {
		if _, ok := fromTasks[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		before, hasBefore := fromTasks[id]
		after, hasAfter := toTasks[id]

		switch {
		case hasBefore && !hasAfter:
			report.TaskDiffs = append(report.TaskDiffs, TaskDiff{
				TaskID: id, TaskName: before.TaskName, Host: before.Host,
				StatusBefore: before.Status, RemovedInAfter: true,
			})
		case !hasBefore && hasAfter:
			report.TaskDiffs = append(report.TaskDiffs, TaskDiff{
				TaskID: id, TaskName: after.TaskName, Host: after.Host,
				StatusAfter: after.Status, AddedInAfter: true,
			})
		default:
			changes := compareMaps("", before.AfterState, after.AfterState)
			if len(changes) > 0 || before.Status != after.Status {
				report.TaskDiffs = append(report.TaskDiffs, TaskDiff{
					TaskID: id, TaskName: after.TaskName, Host: after.Host,
					StatusBefore: before.Status, StatusAfter: after.Status,
					FieldChanges: changes,
				})
			}
		}
	}

	fromHosts := make(map[string]struct{})
	for h := range from.HostStates {
		fromHosts[h] = struct{}{}
	}
	toHosts := make(map[string]struct{})
	for h := range to.HostStates {
		toHosts[h] = struct{}{}
	}
	for h := range toHosts {
		if _, ok := fromHosts[h]; !ok {
			report.HostsAdded = append(report.HostsAdded, h)
		}
	}
	for h := range fromHosts {
		if _, ok := toHosts[h]; !ok {
			report.HostsRemoved = append(report.HostsRemoved, h)
		}
	}
	sort.Strings(report.HostsAdded)
	sort.Strings(report.HostsRemoved)

	var commonHosts []string
	for h := range fromHosts {
		if _, ok := toHosts[h]; ok {
			commonHosts = append(commonHosts, h)
		}
	}
	sort.Strings(commonHosts)
	for _, h := range commonHosts {
		before := from.HostStates[h]
		after := to.HostStates[h]
		report.HostDeltas = append(report.HostDeltas, HostCounterDelta{
			Host:              h,
			OkDelta:           after.Ok - before.Ok,
			ChangedDelta:      after.Changed - before.Changed,
			FailedDelta:       after.Failed - before.Failed,
			SkippedDelta:      after.Skipped - before.Skipped,
			UnreachableBefore: before.Unreachable,
			UnreachableAfter:  after.Unreachable,
		})
	}

	return report
}

func indexTasks(tasks []TaskStateRecord) map[string]TaskStateRecord {
	out := make(map[string]TaskStateRecord, len(tasks))
	for _, t := range tasks {
		out[taskKey(t.Host, t.TaskID)] = t
	}
	return out
}

func compareMaps(prefix string, before, after map[string]interface{}) []FieldChange {
	var changes []FieldChange
	keysSeen := make(map[string]struct{})

	for k, bv := range before {
		keysSeen[k] = struct{}{}
		av, ok := after[k]
		path := joinPath(prefix, k)
		if !ok {
			changes = append(changes, FieldChange{Path: path, Before: bv, After: nil})
			continue
		}
		if !reflect.DeepEqual(bv, av) {
			bm, bok := bv.(map[string]interface{})
			am, aok := av.(map[string]interface{})
			if bok && aok {
				changes = append(changes, compareMaps(path, bm, am)...)
			} else {
				changes = append(changes, FieldChange{Path: path, Before: bv, After: av})
			}
		}
	}
	for k, av := range after {
		if _, ok := keysSeen[k]; ok {
			continue
		}
		changes = append(changes, FieldChange{Path: joinPath(prefix, k), Before: nil, After: av})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return fmt.Sprintf("%s.%s", prefix, key)
}
