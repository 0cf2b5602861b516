package remote

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vertextoedge/transferd/internal/domain"
	"github.com/vertextoedge/transferd/internal/metrics"
)

// Probe issues a HEAD request. Every failure degrades to an all-unknown result.
func (c *Client) Probe(ctx context.Context, url string) domain.RemoteInfo {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return c.probeFailed(url, err, 0)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.probeFailed(url, err, 0)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return c.probeFailed(url, nil, resp.StatusCode)
	}

	info := domain.RemoteInfo{
		ContentLength:   resp.ContentLength,
		ETag:            resp.Header.Get("ETag"),
		LastModified:    resp.Header.Get("Last-Modified"),
		ResumeSupported: acceptsByteRanges(resp.Header),
	}
	if info.ContentLength <= 0 {
		info.ContentLength = domain.UnknownLength
	}
	return info
}

func (c *Client) probeFailed(url string, err error, status int) domain.RemoteInfo {
	metrics.ProbeFailuresTotal.Inc()
	c.logger.Debug("probe degraded to unknown",
		zap.String("url", url),
		zap.Int("status", status),
		zap.Error(err))
	return domain.UnknownRemote()
}

// acceptsByteRanges reports whether Accept-Ranges advertises byte ranges
func acceptsByteRanges(h http.Header) bool {
	for _, v := range h.Values("Accept-Ranges") {
		for _, unit := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(unit), "bytes") {
				return true
			}
		}
	}
	return false
}
