package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// clock is a manually advanced time source for meter tests.
type clock struct {
	at time.Time
}

func newClock() *clock {
	return &clock{at: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time { return c.at }

func (c *clock) advance(d time.Duration) { c.at = c.at.Add(d) }

func TestMeterSpeedAndETA(t *testing.T) {
	c := newClock()
	m := newMeter(1000)
	m.now = c.now

	m.add(100)
	c.advance(time.Second)
	m.add(100)

	p := m.snapshot("report.pdf")
	assert.Equal(t, int64(200), p.BytesDone)
	assert.Equal(t, int64(1000), p.TotalBytes)
	assert.Equal(t, "report.pdf", p.CurrentFile)
	assert.InDelta(t, 100.0, p.SpeedBps, 0.001, "100 bytes over 1 second")
	assert.InDelta(t, 8.0, p.ETASeconds, 0.001, "800 remaining at 100 B/s")
}

func TestMeterETAUnknownWithoutSamples(t *testing.T) {
	m := newMeter(1000)

	p := m.snapshot("")
	assert.Zero(t, p.SpeedBps)
	assert.Less(t, p.ETASeconds, 0.0, "ETA must be negative while unknown")
}

func TestMeterWindowDropsStaleSamples(t *testing.T) {
	c := newClock()
	m := newMeter(10000)
	m.now = c.now

	// A burst long ago must not inflate the current rate.
	m.add(5000)
	c.advance(10 * time.Second)
	m.add(100)
	c.advance(time.Second)
	m.add(100)

	p := m.snapshot("")
	assert.InDelta(t, 100.0, p.SpeedBps, 50.0, "speed must reflect the recent window only")
}

func TestProgressPercent(t *testing.T) {
	assert.InDelta(t, 25.0, Progress{BytesDone: 25, TotalBytes: 100}.Percent(), 0.001)
	assert.Zero(t, Progress{BytesDone: 10, TotalBytes: 0}.Percent())
}

func TestReporterThrottles(t *testing.T) {
	c := newClock()
	m := newMeter(100)

	calls := 0
	r := newReporter(m, func(Progress) { calls++ })
	r.now = c.now
	r.lastReport = c.at.Add(-time.Second)

	r.report("a", false)
	r.report("a", false)
	assert.Equal(t, 1, calls, "second report inside the interval must be dropped")

	c.advance(reportInterval + time.Millisecond)
	r.report("a", false)
	assert.Equal(t, 2, calls)

	r.report("a", true)
	assert.Equal(t, 3, calls, "forced reports bypass the throttle")
}

func TestReporterNilCallback(t *testing.T) {
	r := newReporter(newMeter(10), nil)
	r.report("a", true)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
		{7 * 1024 * 1024 * 1024, "7.0 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "1.0 MB/s", FormatSpeed(1024*1024))
}

func TestHistoryAvgSpeed(t *testing.T) {
	rec := HistoryRecord{TotalBytes: 1000, DurationSeconds: 4}
	assert.InDelta(t, 250.0, rec.AvgSpeedBps(), 0.001)
	assert.Zero(t, HistoryRecord{TotalBytes: 1000}.AvgSpeedBps())
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{-1, "--"},
		{5, "5s"},
		{65, "1m05s"},
		{3700, "1h01m"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.in); got != tt.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
