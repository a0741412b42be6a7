// Package status owns cache aggregation into an operator-facing report.
//
// Ownership boundary:
// - per-target cache state and attention items with severities
// - the severity escalation rules and overall rollup
//
// The package only reads the cache; it never opens a manager session.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/pbxmon/internal/cache"
)

// Severity orders attention levels; the report's overall severity is the
// worst item observed.
type Severity string

const (
	SevOK       Severity = "ok"
	SevWarn     Severity = "warn"
	SevCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SevCritical:
		return 2
	case SevWarn:
		return 1
	default:
		return 0
	}
}

func worse(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// TargetSpec carries the per-target expectations the rules evaluate.
type TargetSpec struct {
	Name string
	// ExpectEndpoints warns when a fresh snapshot reports zero devices.
	ExpectEndpoints bool
	// QueueWaitWarn flags queues with more waiting callers than this;
	// zero disables the rule.
	QueueWaitWarn int
}

// Item is one actionable finding for one target.
type Item struct {
	Target   string   `json:"target"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// TargetStatus is one target's cache state plus its findings.
type TargetStatus struct {
	Target    string          `json:"target"`
	State     cache.LoadState `json:"state"`
	Age       string          `json:"age,omitempty"`
	Fresh     bool            `json:"fresh"`
	Severity  Severity        `json:"severity"`
	Endpoints int             `json:"endpoints"`
	Channels  int             `json:"channels"`
	Items     []Item          `json:"items,omitempty"`
}

// Report is the aggregated view over every configured target.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Overall     Severity       `json:"overall"`
	Targets     []TargetStatus `json:"targets"`
	Attention   []Item         `json:"attention,omitempty"`
}

// Build evaluates every target's cache entry against the rules and rolls
// the findings up into one report. Targets keep their configured order.
func Build(specs []TargetSpec, store *cache.Store) Report {
	report := Report{
		GeneratedAt: time.Now().UTC(),
		Overall:     SevOK,
		Targets:     make([]TargetStatus, 0, len(specs)),
	}
	for _, spec := range specs {
		ts := evaluate(spec, store.Load(spec.Name))
		report.Overall = worse(report.Overall, ts.Severity)
		for _, item := range ts.Items {
			if item.Severity != SevOK {
				report.Attention = append(report.Attention, item)
			}
		}
		report.Targets = append(report.Targets, ts)
	}
	return report
}

func evaluate(spec TargetSpec, entry cache.Entry) TargetStatus {
	ts := TargetStatus{
		Target:   spec.Name,
		State:    entry.State,
		Fresh:    entry.Fresh,
		Severity: SevOK,
	}
	add := func(sev Severity, format string, args ...any) {
		ts.Severity = worse(ts.Severity, sev)
		ts.Items = append(ts.Items, Item{
			Target:   spec.Name,
			Severity: sev,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	switch entry.State {
	case cache.StateMissing:
		add(SevCritical, "never collected")
		return ts
	case cache.StateCorrupt:
		add(SevCritical, "cache file unreadable: %s", entry.Detail)
		return ts
	case cache.StateNoTimestamp:
		add(SevWarn, "snapshot carries no collection timestamp")
		return ts
	}

	ts.Age = FormatAge(entry.Age)
	if !entry.Fresh {
		add(SevWarn, "snapshot stale: collected %s ago", ts.Age)
	}

	snap := entry.Snapshot
	ts.Endpoints = len(snap.Endpoints)
	ts.Channels = len(snap.Channels)

	for section, detail := range snap.Errors {
		add(SevWarn, "section %s failed: %s", section, detail)
	}
	for _, reg := range snap.Registrations {
		if !reg.Registered {
			add(SevCritical, "trunk %s not registered (state %q)", reg.Name, reg.State)
		}
	}
	if spec.ExpectEndpoints && len(snap.Endpoints) == 0 {
		add(SevWarn, "no endpoints reported but endpoints expected")
	}
	if spec.QueueWaitWarn > 0 {
		for _, queue := range snap.Queues {
			if len(queue.Waiting) > spec.QueueWaitWarn {
				add(SevWarn, "queue %s has %d waiting callers (threshold %d)",
					queue.Name, len(queue.Waiting), spec.QueueWaitWarn)
			}
		}
	}
	return ts
}

// FormatAge renders a duration the way operators read it: whole seconds
// under a minute, then minutes, hours, days.
func FormatAge(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// Summary is the one-line rollup the CLI prints first.
func (r Report) Summary() string {
	counts := map[Severity]int{}
	for _, ts := range r.Targets {
		counts[ts.Severity]++
	}
	return fmt.Sprintf("%s: %d targets (%d ok, %d warn, %d critical)",
		strings.ToUpper(string(r.Overall)),
		len(r.Targets), counts[SevOK], counts[SevWarn], counts[SevCritical])
}
