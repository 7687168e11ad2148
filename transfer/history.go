package transfer

import "time"

// Direction distinguishes the two sides of a transfer.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// Status is the terminal outcome of a transfer session.
type Status string

const (
	// StatusSuccess means every declared byte moved, even if some files
	// failed hash verification.
	StatusSuccess Status = "success"

	// StatusCancelled means the session was cancelled locally.
	StatusCancelled Status = "cancelled"

	// StatusFailed means an error ended the session early.
	StatusFailed Status = "failed"

	// StatusInterrupted means the receiver was shutting down while the
	// session was in flight.
	StatusInterrupted Status = "interrupted"
)

// HistoryRecord summarizes one finished transfer session. Every session
// emits exactly one record on each side, whatever the outcome.
type HistoryRecord struct {
	Time            time.Time `json:"time"`
	Direction       Direction `json:"direction"`
	Peer            string    `json:"peer"`
	FileCount       int       `json:"file_count"`
	TotalBytes      int64     `json:"total_bytes"`
	DurationSeconds float64   `json:"duration_seconds"`
	VerifiedCount   int       `json:"verified_count"`
	VerifiedTotal   int       `json:"verified_total"`
	Status          Status    `json:"status"`
	Error           string    `json:"error,omitempty"`
}

// AvgSpeedBps returns the whole-session average transfer rate.
func (r HistoryRecord) AvgSpeedBps() float64 {
	if r.DurationSeconds <= 0 {
		return 0
	}
	return float64(r.TotalBytes) / r.DurationSeconds
}

// HistorySink receives completed transfer records.
type HistorySink interface {
	Append(HistoryRecord)
}

// HistorySinkFunc adapts a plain function to the HistorySink interface.
type HistorySinkFunc func(HistoryRecord)

// Append implements HistorySink.
func (f HistorySinkFunc) Append(r HistoryRecord) {
	f(r)
}

// appendHistory delivers a record to an optional sink.
func appendHistory(sink HistorySink, r HistoryRecord) {
	if sink != nil {
		sink.Append(r)
	}
}
