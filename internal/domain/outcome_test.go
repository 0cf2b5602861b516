package domain

import (
	"errors"
	"testing"
	"time"
)

func TestOutcome_Status(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    Status
	}{
		{"completed", Completed("/tmp/a", 10), StatusCompleted},
		{"expired", Halted(HaltExpired, 0), StatusExpired},
		{"changed", Halted(HaltResourceChanged, 5), StatusResourceChanged},
		{"invalid range", Halted(HaltInvalidRange, 5), StatusInvalidRange},
		{"declined", RestartDeclined(2000), StatusRestartRequired},
		{"cancelled", Cancelled(1), StatusCancelled},
		{"failed", Failed(errors.New("x"), 1), StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.Status(); got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
			if !tt.want.IsTerminal() {
				t.Errorf("%v should be terminal", tt.want)
			}
		})
	}
}

func TestOutcome_Retryable(t *testing.T) {
	if !Failed(errors.New("x"), 0).Retryable() {
		t.Error("failed outcome should be retryable")
	}
	for _, o := range []Outcome{Completed("", 0), Halted(HaltExpired, 0), RestartDeclined(0), Cancelled(0)} {
		if o.Retryable() {
			t.Errorf("%v should not be retryable", o)
		}
	}
}

func TestStatus_Predicates(t *testing.T) {
	if !StatusPaused.IsActive() || StatusPaused.IsTerminal() {
		t.Error("paused is active and not terminal")
	}
	if !StatusExpired.IsHalted() || StatusFailed.IsHalted() {
		t.Error("only expired/changed/invalid range are halted")
	}
	if StatusRestartRequired.Label() != "Paused (restart required)" {
		t.Errorf("Label() = %q", StatusRestartRequired.Label())
	}
	if Status("bogus").IsValid() {
		t.Error("unknown status should not be valid")
	}
}

func TestDownload_MarkFailed(t *testing.T) {
	d := &Download{MaxRetries: 3}
	base := time.Minute

	want := []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, 0}
	for i, w := range want {
		got := d.MarkFailed("boom", base)
		if got != w {
			t.Errorf("failure %d: delay = %v, want %v", i, got, w)
		}
	}
	if d.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", d.RetryCount)
	}
	if d.NextRetryAt != nil {
		t.Error("NextRetryAt should be cleared once retries are exhausted")
	}
	if d.Status != StatusFailed || d.LastError != "boom" {
		t.Errorf("unexpected state %v %q", d.Status, d.LastError)
	}

	d.ResetRetries()
	if d.RetryCount != 0 || d.LastError != "" {
		t.Error("ResetRetries should clear bookkeeping")
	}
}

func TestDownload_ApplyOutcome(t *testing.T) {
	d := &Download{DownloadedBytes: 10, LastError: "old"}
	d.ApplyOutcome(Completed("/dl/file.bin", 5000))
	if d.Status != StatusCompleted || d.TotalBytes != 5000 || d.ActivePath != "/dl/file.bin" || d.LastError != "" {
		t.Errorf("unexpected record after completion: %+v", d)
	}

	d = &Download{}
	d.ApplyOutcome(Failed(errors.New("reset by peer"), 700))
	if d.Status != StatusFailed || d.DownloadedBytes != 700 || d.LastError != "reset by peer" {
		t.Errorf("unexpected record after failure: %+v", d)
	}
}

func TestMetadata_HasExpectation(t *testing.T) {
	var nilMeta *Metadata
	if nilMeta.HasExpectation() {
		t.Error("nil metadata has no expectation")
	}
	if (&Metadata{TotalLength: UnknownLength}).HasExpectation() {
		t.Error("unknown length alone is no expectation")
	}
	if !(&Metadata{ETag: `"abc"`}).HasExpectation() {
		t.Error("etag is an expectation")
	}
	if !(&Metadata{TotalLength: 10}).HasExpectation() {
		t.Error("known length is an expectation")
	}
}
