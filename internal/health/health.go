// Package health samples listener liveness and directory reachability into
// the /health status payload.
package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Beat is the last-successful-poll timestamp, owned by the telegram listener
// and read by the reporter. Replaces a bare shared variable with an explicit
// read-only accessor.
type Beat struct {
	unixNano atomic.Int64
}

func NewBeat() *Beat {
	b := &Beat{}
	b.Stamp()
	return b
}

// Stamp records "now" as the last successful poll.
func (b *Beat) Stamp() {
	b.unixNano.Store(time.Now().UnixNano())
}

// Last returns the last recorded poll time.
func (b *Beat) Last() time.Time {
	return time.Unix(0, b.unixNano.Load())
}

// Prober is the directory-store slice the reporter needs.
type Prober interface {
	Ping(ctx context.Context) error
}

type Status string

const (
	// StatusOnline: the listener polled within the pending threshold.
	StatusOnline Status = "online"
	// StatusPending: no poll activity for over three minutes.
	StatusPending Status = "pending"
	// StatusOffline: the directory store is unreachable. Overrides both.
	StatusOffline Status = "offline"
)

// pendingAfter is how long the listener may be silent before the service is
// reported as pending.
const pendingAfter = 3 * time.Minute

// Report is the /health response payload.
type Report struct {
	Status         Status            `json:"status"`
	RunTimeSeconds float64           `json:"run_time_seconds"`
	Details        map[string]string `json:"details"`
	TimestampUTC   string            `json:"timestamp_utc"`
}

// HTTPCode maps a report status to its response code.
func (r Report) HTTPCode() int {
	if r.Status == StatusOffline {
		return 503
	}
	return 200
}

type Reporter struct {
	beat  *Beat
	store Prober

	// now is swappable for tests.
	now func() time.Time
}

func NewReporter(beat *Beat, store Prober) *Reporter {
	return &Reporter{beat: beat, store: store, now: time.Now}
}

// Check samples the heartbeat and probes the store.
func (r *Reporter) Check(ctx context.Context) Report {
	now := r.now().UTC()
	delta := now.Sub(r.beat.Last())

	status := StatusOnline
	if delta > pendingAfter {
		status = StatusPending
	}

	details := map[string]string{}
	if err := r.store.Ping(ctx); err != nil {
		status = StatusOffline
		details["database"] = fmt.Sprintf("error: %v", err)
	} else {
		details["database"] = "ok"
	}

	return Report{
		Status:         status,
		RunTimeSeconds: roundTenth(delta.Seconds()),
		Details:        details,
		TimestampUTC:   now.Format(time.RFC3339),
	}
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
