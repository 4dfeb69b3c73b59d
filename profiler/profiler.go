// Package profiler - Wall-clock timing of the phases of a run.
package profiler

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"
)

// TimeTracker tracks timing statistics for one named operation.
type TimeTracker struct {
	Name      string
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	Count     int64
}

// Average returns the mean duration of the operation.
func (t TimeTracker) Average() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.TotalTime / time.Duration(t.Count)
}

// Profiler records operation timings in the order operations first start.
// A nil *Profiler is valid and records nothing.
type Profiler struct {
	mu        sync.Mutex
	startTime time.Time
	order     []string
	ops       map[string]*TimeTracker
	now       func() time.Time
}

// New creates a profiler whose uptime starts now.
func New() *Profiler {
	return &Profiler{
		startTime: time.Now(),
		ops:       make(map[string]*TimeTracker),
		now:       time.Now,
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func(): Call when the operation completes.
func (p *Profiler) StartOperation(name string) func() {
	if p == nil {
		return func() {}
	}
	start := p.now()
	return func() {
		p.Record(name, p.now().Sub(start))
	}
}

// Record adds one completed run of an operation.
func (p *Profiler) Record(name string, duration time.Duration) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.ops[name]
	if !exists {
		tracker = &TimeTracker{Name: name, MinTime: duration, MaxTime: duration}
		p.ops[name] = tracker
		p.order = append(p.order, name)
	}

	tracker.TotalTime += duration
	tracker.Count++
	if duration < tracker.MinTime {
		tracker.MinTime = duration
	}
	if duration > tracker.MaxTime {
		tracker.MaxTime = duration
	}
}

// Operations returns a snapshot of every tracked operation.
func (p *Profiler) Operations() []TimeTracker {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TimeTracker, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, *p.ops[name])
	}
	return out
}

// Report writes the operation timings and current heap usage to w.
func (p *Profiler) Report(w io.Writer) {
	if p == nil {
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintf(w, "Uptime: %v\n", time.Since(p.startTime).Truncate(time.Millisecond))
	for _, op := range p.Operations() {
		if op.Count == 1 {
			fmt.Fprintf(w, "  %s: %v\n", op.Name, op.TotalTime.Truncate(time.Microsecond))
			continue
		}
		fmt.Fprintf(w, "  %s: avg=%v, min=%v, max=%v, count=%d\n",
			op.Name, op.Average().Truncate(time.Microsecond),
			op.MinTime.Truncate(time.Microsecond),
			op.MaxTime.Truncate(time.Microsecond),
			op.Count)
	}
	fmt.Fprintf(w, "Heap Alloc: %s\n", formatBytes(mem.HeapAlloc))
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
