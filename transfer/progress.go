package transfer

import (
	"fmt"
	"sync"
	"time"
)

const (
	// speedWindow bounds the samples used for the rolling speed estimate,
	// so the displayed rate tracks recent throughput instead of the
	// whole-transfer average.
	speedWindow = 2 * time.Second

	// reportInterval throttles progress callbacks.
	reportInterval = 150 * time.Millisecond
)

// Progress is one observation of an in-flight transfer. ETASeconds is
// negative while the speed estimate is not yet meaningful.
type Progress struct {
	BytesDone   int64
	TotalBytes  int64
	SpeedBps    float64
	ETASeconds  float64
	CurrentFile string
}

// Percent returns completion as 0..100, or 0 for an empty transfer.
func (p Progress) Percent() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	return float64(p.BytesDone) / float64(p.TotalBytes) * 100
}

// ProgressFunc receives throttled progress updates. It is called from the
// session goroutine and must not block.
type ProgressFunc func(Progress)

// sample is one cumulative byte-count observation.
type sample struct {
	at    time.Time
	bytes int64
}

// meter accumulates transferred bytes and derives a rolling speed over
// speedWindow.
type meter struct {
	mu      sync.Mutex
	total   int64
	done    int64
	samples []sample
	now     func() time.Time
}

func newMeter(total int64) *meter {
	return &meter{total: total, now: time.Now}
}

// add records n more transferred bytes.
func (m *meter) add(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.done += n
	m.samples = append(m.samples, sample{at: m.now(), bytes: m.done})
	m.trimLocked()
}

// trimLocked drops samples that fell out of the window. The sample just
// appended is always newer than the cutoff, so at least one survives.
func (m *meter) trimLocked() {
	cutoff := m.now().Add(-speedWindow)
	i := 0
	for i < len(m.samples) && !m.samples[i].at.After(cutoff) {
		i++
	}
	m.samples = m.samples[i:]
}

// snapshot returns the current progress with speed and ETA estimates.
func (m *meter) snapshot(currentFile string) Progress {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := Progress{
		BytesDone:   m.done,
		TotalBytes:  m.total,
		ETASeconds:  -1,
		CurrentFile: currentFile,
	}

	if len(m.samples) >= 2 {
		oldest := m.samples[0]
		newest := m.samples[len(m.samples)-1]
		elapsed := newest.at.Sub(oldest.at).Seconds()
		if elapsed > 0 {
			p.SpeedBps = float64(newest.bytes-oldest.bytes) / elapsed
		}
	}
	if p.SpeedBps > 0 {
		p.ETASeconds = float64(m.total-m.done) / p.SpeedBps
	}
	return p
}

// reporter throttles progress callbacks to reportInterval.
type reporter struct {
	meter      *meter
	fn         ProgressFunc
	lastReport time.Time
	now        func() time.Time
}

func newReporter(m *meter, fn ProgressFunc) *reporter {
	return &reporter{meter: m, fn: fn, now: time.Now}
}

// report delivers a progress update when the throttle interval elapsed or
// force is set. Forced reports mark session milestones such as completion.
func (r *reporter) report(currentFile string, force bool) {
	if r.fn == nil {
		return
	}
	if !force && r.now().Sub(r.lastReport) < reportInterval {
		return
	}
	r.lastReport = r.now()
	r.fn(r.meter.snapshot(currentFile))
}

// FormatBytes renders a byte count for humans, e.g. "3.4 MB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	value := float64(n)
	for _, suffix := range []string{"KB", "MB", "GB", "TB"} {
		value /= unit
		if value < unit {
			return fmt.Sprintf("%.1f %s", value, suffix)
		}
	}
	return fmt.Sprintf("%.1f PB", value/unit)
}

// FormatSpeed renders a transfer rate for humans.
func FormatSpeed(bps float64) string {
	return FormatBytes(int64(bps)) + "/s"
}

// FormatETA renders a remaining-time estimate, or "--" while unknown.
func FormatETA(seconds float64) string {
	if seconds < 0 {
		return "--"
	}
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
