package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// httpFetcher fetches http and https URIs with a single GET.
type httpFetcher struct {
	client *http.Client
}

func (h *httpFetcher) Fetch(ctx context.Context, uri string, w io.Writer, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return NewPermanentError("http", "request", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return classifyHTTPError("connect", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		cause := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return NewTransientError("http", "status", cause)
		}
		return NewPermanentError("http", "status", cause)
	}

	pw := newProgressWriter(w, resp.ContentLength, progress)
	n, err := io.Copy(pw, resp.Body)
	if err != nil {
		return classifyHTTPError("copy", err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return NewTransientError("http", "copy", fmt.Errorf("short body: %d of %d bytes", n, resp.ContentLength))
	}
	return nil
}

// classifyHTTPError treats cancellation as permanent and network errors as
// transient.
func classifyHTTPError(op string, err error) *DownloadError {
	if errors.Is(err, context.Canceled) {
		return NewPermanentError("http", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return NewTransientError("http", op, err)
	}
	return NewPermanentError("http", op, err)
}
