package domain

import "time"

// Default retry backoff multipliers applied to the configured base delay
var defaultRetryMultipliers = []int{1, 5, 30}

// Download is the orchestrator's record of one requested file
type Download struct {
	ID       string
	URL      string
	DestPath string

	// State
	Status          Status
	DownloadedBytes int64
	TotalBytes      int64
	ActivePath      string

	// Identity seen on the last attempt
	ETag            string
	LastModified    string
	ResumeSupported bool

	// Retry handling
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
	LastError   string

	// Timestamps
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanRetry returns true if the download can be retried
func (d *Download) CanRetry() bool {
	return d.RetryCount < d.MaxRetries
}

// RetryDelay returns the backoff before the next attempt
func (d *Download) RetryDelay(base time.Duration) time.Duration {
	idx := d.RetryCount
	if idx >= len(defaultRetryMultipliers) {
		idx = len(defaultRetryMultipliers) - 1
	}
	return base * time.Duration(defaultRetryMultipliers[idx])
}

// MarkFailed records a transport failure and schedules a retry when allowed.
// It returns the delay before the retry, or zero if retries are exhausted.
func (d *Download) MarkFailed(err string, base time.Duration) time.Duration {
	d.LastError = err
	d.Status = StatusFailed
	d.NextRetryAt = nil

	if !d.CanRetry() {
		return 0
	}
	delay := d.RetryDelay(base)
	d.RetryCount++
	next := time.Now().Add(delay)
	d.NextRetryAt = &next
	return delay
}

// ResetRetries clears retry bookkeeping after a manual start
func (d *Download) ResetRetries() {
	d.RetryCount = 0
	d.NextRetryAt = nil
	d.LastError = ""
}

// ApplyOutcome copies the result of an attempt onto the record
func (d *Download) ApplyOutcome(o Outcome) {
	d.Status = o.Status()
	if o.Kind == OutcomeCompleted {
		d.ActivePath = o.Path
		d.DownloadedBytes = o.Bytes
		d.TotalBytes = o.Bytes
		d.LastError = ""
		d.NextRetryAt = nil
	} else if o.Bytes > 0 {
		d.DownloadedBytes = o.Bytes
	}
	if o.Err != nil {
		d.LastError = o.Err.Error()
	}
}

// DownloadStats summarises records by status
type DownloadStats struct {
	Total      int
	ByStatus   map[Status]int
	TotalBytes int64
}
