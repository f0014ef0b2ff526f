package callback

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// RunStats accumulates the play recap totals shown at the end of a run.
type RunStats struct {
	StartTime time.Time
	EndTime   time.Time
	HostStats map[string]*HostStats
}

// HostStats tallies one host's task outcomes across the whole run.
type HostStats struct {
	Host        string
	Ok          int
	Changed     int
	Unreachable int
	Failed      int
	Skipped     int
	TotalTime   time.Duration
}

func newRunStats() *RunStats {
	return &RunStats{StartTime: time.Now(), HostStats: make(map[string]*HostStats)}
}

func (s *RunStats) record(ev Event) {
	if ev.Result == nil {
		return
	}
	host := ev.Result.Host
	hs, ok := s.HostStats[host]
	if !ok {
		hs = &HostStats{Host: host}
		s.HostStats[host] = hs
	}
	hs.TotalTime += ev.Result.Duration
	switch {
	case ev.Result.Error != nil:
		hs.Failed++
	case ev.Result.Outcome.Skipped:
		hs.Skipped++
	case ev.Result.Outcome.Changed:
		hs.Changed++
		hs.Ok++
	default:
		hs.Ok++
	}
}

// DefaultSubscriber renders human-readable progress to an io.Writer, in
// the familiar "PLAY [...] / TASK [...] / ok: [host] => message" style.
type DefaultSubscriber struct {
	output io.Writer
	mu     sync.Mutex
	stats  *RunStats
}

// NewDefaultSubscriber creates a subscriber writing to w.
func NewDefaultSubscriber(w io.Writer) *DefaultSubscriber {
	return &DefaultSubscriber{output: w, stats: newRunStats()}
}

// Handle implements the Bus subscriber function signature.
func (d *DefaultSubscriber) Handle(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Kind {
	case EventPlaybookStart:
		fmt.Fprintf(d.output, "\nPLAYBOOK: %s\n", ev.PlaybookName)
	case EventPlayStart:
		name := ev.Play.Name
		fmt.Fprintf(d.output, "\nPLAY [%s] %s\n", name, strings.Repeat("*", max(0, 70-len(name))))
	case EventFactsGathered:
		fmt.Fprintf(d.output, "ok: [%s] => gathered %d facts\n", ev.Host, len(ev.Facts))
	case EventTaskStart:
		name := ev.Task.Name
		fmt.Fprintf(d.output, "\nTASK [%s] %s\n", name, strings.Repeat("*", max(0, 70-len(name))))
	case EventTaskResult:
		d.stats.record(ev)
		status := "ok"
		switch {
		case ev.Result.Error != nil:
			status = "failed"
		case ev.Result.Outcome.Skipped:
			status = "skipped"
		case ev.Result.Outcome.Changed:
			status = "changed"
		}
		fmt.Fprintf(d.output, "%s: [%s] => %s\n", status, ev.Result.Host, ev.Result.Outcome.Message)
	case EventRunEnd:
		d.stats.EndTime = time.Now()
		fmt.Fprintf(d.output, "\nPLAY RECAP %s\n", strings.Repeat("*", 70))
		hosts := make([]string, 0, len(d.stats.HostStats))
		for h := range d.stats.HostStats {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)
		for _, h := range hosts {
			hs := d.stats.HostStats[h]
			fmt.Fprintf(d.output, "%s : ok=%d changed=%d unreachable=%d failed=%d skipped=%d\n",
				h, hs.Ok, hs.Changed, hs.Unreachable, hs.Failed, hs.Skipped)
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// JSONSubscriber buffers every event and renders it as a single JSON
// document when the run ends, for machine consumption.
type JSONSubscriber struct {
	output io.Writer
	mu     sync.Mutex
	events []map[string]interface{}
	stats  *RunStats
}

// NewJSONSubscriber creates a subscriber writing to w.
func NewJSONSubscriber(w io.Writer) *JSONSubscriber {
	return &JSONSubscriber{output: w, stats: newRunStats()}
}

func (j *JSONSubscriber) Handle(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	record := map[string]interface{}{"event": string(ev.Kind), "time": ev.Time.Unix()}
	switch ev.Kind {
	case EventPlaybookStart:
		record["playbook"] = ev.PlaybookName
	case EventPlayStart:
		record["play"] = ev.Play.Name
	case EventPlayEnd:
		record["play"] = ev.Play.Name
		record["success"] = ev.Success
	case EventFactsGathered:
		record["host"] = ev.Host
		record["facts"] = ev.Facts
	case EventTaskStart:
		record["task"] = ev.Task.Name
		names := make([]string, len(ev.Hosts))
		for i, h := range ev.Hosts {
			names[i] = h.Name
		}
		record["hosts"] = names
	case EventTaskResult:
		j.stats.record(ev)
		record["task"] = ev.Result.TaskName
		record["host"] = ev.Result.Host
		record["changed"] = ev.Result.Outcome.Changed
		record["success"] = ev.Result.Outcome.Success
		record["message"] = ev.Result.Outcome.Message
	case EventRunEnd:
		record["playbook"] = ev.PlaybookName
		record["success"] = ev.Success
	}
	j.events = append(j.events, record)

	if ev.Kind == EventRunEnd {
		j.stats.EndTime = time.Now()
		out := map[string]interface{}{"events": j.events, "stats": j.stats}
		enc := json.NewEncoder(j.output)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	}
}

// NewStdoutDefaultSubscriber is a convenience constructor wired to os.Stdout.
func NewStdoutDefaultSubscriber() *DefaultSubscriber { return NewDefaultSubscriber(os.Stdout) }

// ProfileTasksSubscriber accumulates per-task execution time across an
// entire run and prints the slowest tasks first when the run ends.
type ProfileTasksSubscriber struct {
	output     io.Writer
	mu         sync.Mutex
	taskTimes  map[string]time.Duration
	taskStarts map[string]time.Time
}

// NewProfileTasksSubscriber creates a subscriber writing to w.
func NewProfileTasksSubscriber(w io.Writer) *ProfileTasksSubscriber {
	return &ProfileTasksSubscriber{
		output:     w,
		taskTimes:  make(map[string]time.Duration),
		taskStarts: make(map[string]time.Time),
	}
}

func (p *ProfileTasksSubscriber) Handle(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case EventTaskStart:
		p.taskStarts[ev.Task.Name] = time.Now()
	case EventTaskResult:
		name := ev.Result.TaskName
		if start, ok := p.taskStarts[name]; ok {
			p.taskTimes[name] += time.Since(start)
		} else {
			p.taskTimes[name] += ev.Result.Duration
		}
	case EventRunEnd:
		type entry struct {
			name     string
			duration time.Duration
		}
		entries := make([]entry, 0, len(p.taskTimes))
		for name, d := range p.taskTimes {
			entries = append(entries, entry{name, d})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].duration > entries[j].duration })

		fmt.Fprintf(p.output, "\nTask Profiling %s\n", strings.Repeat("=", 60))
		for i, e := range entries {
			if i >= 20 {
				break
			}
			fmt.Fprintf(p.output, "%-50s : %v\n", e.name, e.duration)
		}
	}
}
