package domain

// Status represents the user-visible state of a download
type Status string

const (
	// StatusQueued means the download is registered but waiting for a free slot
	StatusQueued Status = "queued"

	// StatusNegotiating means the engine is probing the origin and planning the request
	StatusNegotiating Status = "negotiating"

	// StatusDownloading means bytes are being transferred
	StatusDownloading Status = "downloading"

	// StatusPaused means the transfer loop is blocked waiting for resume or cancel
	StatusPaused Status = "paused"

	// StatusRestarting means a restart was approved and the partial file is being discarded
	StatusRestarting Status = "restarting"

	// StatusRestartRequired means the origin refused to resume and the restart was declined
	StatusRestartRequired Status = "restart_required"

	// StatusCompleted means the payload was promoted to its final name
	StatusCompleted Status = "completed"

	// StatusCancelled means the user cancelled the transfer
	StatusCancelled Status = "cancelled"

	// StatusExpired means the origin answered 403 or 410
	StatusExpired Status = "expired"

	// StatusResourceChanged means the remote resource no longer matches the partial file
	StatusResourceChanged Status = "resource_changed"

	// StatusInvalidRange means the origin cannot satisfy the requested range
	StatusInvalidRange Status = "invalid_range"

	// StatusFailed means a transport error ended the attempt
	StatusFailed Status = "failed"

	// StatusInterrupted means the process stopped while the transfer was active
	StatusInterrupted Status = "interrupted"
)

var statusLabels = map[Status]string{
	StatusQueued:          "Queued",
	StatusNegotiating:     "Connecting",
	StatusDownloading:     "Downloading",
	StatusPaused:          "Paused",
	StatusRestarting:      "Restarting",
	StatusRestartRequired: "Paused (restart required)",
	StatusCompleted:       "Completed",
	StatusCancelled:       "Cancelled",
	StatusExpired:         "Link expired",
	StatusResourceChanged: "Resource changed",
	StatusInvalidRange:    "Invalid range",
	StatusFailed:          "Error",
	StatusInterrupted:     "Interrupted",
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// Label returns the human readable form shown to users
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// IsActive returns true while an engine owns the download
func (s Status) IsActive() bool {
	switch s {
	case StatusNegotiating, StatusDownloading, StatusPaused, StatusRestarting:
		return true
	}
	return false
}

// IsTerminal returns true for states that end an attempt
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusResourceChanged,
		StatusInvalidRange, StatusRestartRequired, StatusFailed:
		return true
	}
	return false
}

// IsHalted returns true for terminal states that must not be retried automatically
func (s Status) IsHalted() bool {
	return s == StatusExpired || s == StatusResourceChanged || s == StatusInvalidRange
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	_, ok := statusLabels[s]
	return ok
}
