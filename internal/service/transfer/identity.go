package transfer

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/vertextoedge/transferd/internal/domain"
)

// contentRange is a parsed Content-Range header
type contentRange struct {
	Start, End int64 // -1 for the unsatisfied form
	Total      int64 // domain.UnknownLength when "*"
}

// parseContentRange parses "bytes a-b/N", "bytes a-b/*" and "bytes */N"
func parseContentRange(v string) (contentRange, error) {
	cr := contentRange{Start: -1, End: -1, Total: domain.UnknownLength}

	v = strings.TrimSpace(v)
	unit, rest, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(unit, "bytes") {
		return cr, fmt.Errorf("unsupported content-range %q", v)
	}

	span, total, ok := strings.Cut(strings.TrimSpace(rest), "/")
	if !ok {
		return cr, fmt.Errorf("malformed content-range %q", v)
	}

	if total != "*" {
		n, err := strconv.ParseInt(total, 10, 64)
		if err != nil || n < 0 {
			return cr, fmt.Errorf("malformed content-range total %q", v)
		}
		cr.Total = n
	}

	if span == "*" {
		return cr, nil
	}

	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return cr, fmt.Errorf("malformed content-range span %q", v)
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return cr, fmt.Errorf("malformed content-range start %q", v)
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return cr, fmt.Errorf("malformed content-range end %q", v)
	}
	cr.Start, cr.End = start, end
	return cr, nil
}

// responseTotal derives the full resource length from a response.
// For a partial response the body covers start..end, so the total is
// start + Content-Length.
func responseTotal(resp *http.Response, start int64, previous int64) int64 {
	if resp.ContentLength >= 0 {
		if resp.StatusCode == http.StatusPartialContent {
			return start + resp.ContentLength
		}
		return resp.ContentLength
	}
	if cr, err := parseContentRange(resp.Header.Get("Content-Range")); err == nil && cr.Total >= 0 {
		return cr.Total
	}
	if previous > 0 {
		return previous
	}
	return domain.UnknownLength
}

// expectation is what local state believes about the remote resource
type expectation struct {
	ETag         string
	LastModified string
	Total        int64
}

func (e expectation) empty() bool {
	return e.ETag == "" && e.LastModified == "" && e.Total <= 0
}

// mismatch compares a response against the expectation and describes the
// first difference. Only signals present on both sides are compared; with no
// expectation at all validation is skipped.
func (e expectation) mismatch(etag, lastModified string, total int64) string {
	if e.empty() {
		return ""
	}
	if e.ETag != "" && etag != "" && !sameETag(e.ETag, etag) {
		return fmt.Sprintf("etag %s became %s", e.ETag, etag)
	}
	if e.LastModified != "" && lastModified != "" && !sameTimestamp(e.LastModified, lastModified) {
		return fmt.Sprintf("last-modified %s became %s", e.LastModified, lastModified)
	}
	if e.Total > 0 && total > 0 && e.Total != total {
		return fmt.Sprintf("length %d became %d", e.Total, total)
	}
	return ""
}

// sameETag compares entity tags weakly
func sameETag(a, b string) bool {
	return strings.TrimPrefix(strings.TrimSpace(a), "W/") == strings.TrimPrefix(strings.TrimSpace(b), "W/")
}

func isWeakETag(etag string) bool {
	return strings.HasPrefix(strings.TrimSpace(etag), "W/")
}

// sameTimestamp compares HTTP dates, falling back to string equality
func sameTimestamp(a, b string) bool {
	ta, errA := http.ParseTime(a)
	tb, errB := http.ParseTime(b)
	if errA == nil && errB == nil {
		return ta.Equal(tb)
	}
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

// acceptsRanges reports whether a response advertises byte range support
func acceptsRanges(resp *http.Response) bool {
	if resp.StatusCode == http.StatusPartialContent {
		return true
	}
	for _, v := range resp.Header.Values("Accept-Ranges") {
		for _, unit := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(unit), "bytes") {
				return true
			}
		}
	}
	return false
}
