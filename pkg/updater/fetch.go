package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

// ProgressFunc receives the running byte count of a transfer. total is -1
// when the source does not announce a length.
type ProgressFunc func(received, total int64)

// Fetcher copies the bytes behind uri into w, reporting progress as it goes.
// Fetch blocks until the transfer ends or ctx is cancelled.
type Fetcher interface {
	Fetch(ctx context.Context, uri string, w io.Writer, progress ProgressFunc) error
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, uri string, w io.Writer, progress ProgressFunc) error

func (f FetcherFunc) Fetch(ctx context.Context, uri string, w io.Writer, progress ProgressFunc) error {
	return f(ctx, uri, w, progress)
}

// DownloadError is a structured error from a fetcher.
// Use errors.As to extract and inspect download errors.
type DownloadError struct {
	// Protocol identifies the scheme that produced the error (e.g., "http", "ftp").
	Protocol string
	// Op is the operation that failed (e.g., "connect", "copy").
	Op string
	// Cause is the underlying error.
	Cause error
	// transient indicates whether the error may go away on a retry.
	transient bool
}

// Error implements the error interface.
// Format: "protocol op: cause"
func (e *DownloadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s", e.Protocol, e.Op, e.Cause.Error())
	}
	return fmt.Sprintf("%s %s", e.Protocol, e.Op)
}

// Unwrap returns the underlying cause, enabling errors.Is/As chaining.
func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// IsTransient returns true if a later Resume is likely to succeed.
func (e *DownloadError) IsTransient() bool {
	return e.transient
}

// NewTransientError creates a DownloadError that may be retried.
func NewTransientError(protocol, op string, cause error) *DownloadError {
	return &DownloadError{Protocol: protocol, Op: op, Cause: cause, transient: true}
}

// NewPermanentError creates a DownloadError that should not be retried.
func NewPermanentError(protocol, op string, cause error) *DownloadError {
	return &DownloadError{Protocol: protocol, Op: op, Cause: cause}
}

// ErrUnsupportedScheme is returned when a URI has an unregistered scheme.
// The full error message includes which schemes are supported.
var ErrUnsupportedScheme = errors.New("unsupported scheme")

// RouterOptions configures the fetchers registered by NewRouter.
type RouterOptions struct {
	// HTTPClient is used for http and https. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// FS serves file:// URIs. Defaults to the host filesystem.
	FS afero.Fs
	// FTPTimeout bounds FTP and SFTP dialing. Defaults to 30s.
	FTPTimeout time.Duration
	// SSHKeyPath is the private key for sftp URIs without a password.
	SSHKeyPath string
	// KnownHostsPath records sftp host keys. Defaults to DefaultKnownHostsPath.
	KnownHostsPath string
	// RateLimit caps the bytes per second of every transfer. Zero or
	// negative means unlimited.
	RateLimit int64
}

// Router maps URI schemes to fetchers.
// It is the central dispatch point for protocol-agnostic fetching.
// The zero value is not usable; use NewRouter to create one.
type Router struct {
	routes  map[string]Fetcher
	limiter *rate.Limiter
}

var _ Fetcher = (*Router)(nil)

// NewRouter creates a Router pre-configured with http, https, ftp, ftps,
// sftp and file fetchers.
func NewRouter(opts RouterOptions) *Router {
	r := &Router{routes: make(map[string]Fetcher)}
	if opts.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burstFor(opts.RateLimit))
	}

	h := &httpFetcher{client: opts.HTTPClient}
	if h.client == nil {
		h.client = http.DefaultClient
	}
	r.routes["http"] = h
	r.routes["https"] = h

	f := &ftpFetcher{timeout: opts.FTPTimeout}
	if f.timeout <= 0 {
		f.timeout = 30 * time.Second
	}
	r.routes["ftp"] = f
	r.routes["ftps"] = f

	sf := &sftpFetcher{timeout: f.timeout, keyPath: opts.SSHKeyPath, knownHosts: opts.KnownHostsPath}
	if sf.knownHosts == "" {
		sf.knownHosts = DefaultKnownHostsPath()
	}
	r.routes["sftp"] = sf

	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	r.routes["file"] = &fileFetcher{fs: fs}
	return r
}

// Register adds or replaces the fetcher for the given scheme.
func (r *Router) Register(scheme string, f Fetcher) {
	r.routes[strings.ToLower(scheme)] = f
}

// Schemes returns a sorted list of all registered schemes.
func (r *Router) Schemes() []string {
	schemes := make([]string, 0, len(r.routes))
	for s := range r.routes {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Fetch dispatches to the fetcher registered for the URI's scheme
// (case-insensitive: HTTP:// is treated as http://).
func (r *Router) Fetch(ctx context.Context, uri string, w io.Writer, progress ProgressFunc) error {
	if uri == "" {
		return fmt.Errorf("%w: empty URI", ErrUnsupportedScheme)
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid URI %q: %w", uri, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return fmt.Errorf("%w: no scheme in URI %q", ErrUnsupportedScheme, uri)
	}
	f, ok := r.routes[scheme]
	if !ok {
		return fmt.Errorf("%w %q, supported: %s", ErrUnsupportedScheme, scheme, strings.Join(r.Schemes(), ", "))
	}
	if r.limiter != nil {
		w = &throttledWriter{ctx: ctx, w: w, lim: r.limiter}
	}
	return f.Fetch(ctx, uri, w, progress)
}

// progressWriter counts the bytes passing through and reports them.
type progressWriter struct {
	w        io.Writer
	received int64
	total    int64
	progress ProgressFunc
}

func newProgressWriter(w io.Writer, total int64, progress ProgressFunc) *progressWriter {
	if progress != nil {
		progress(0, total)
	}
	return &progressWriter{w: w, total: total, progress: progress}
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.received += int64(n)
	if pw.progress != nil {
		pw.progress(pw.received, pw.total)
	}
	return n, err
}

// throttledWriter blocks writes on a shared token bucket.
type throttledWriter struct {
	ctx context.Context
	w   io.Writer
	lim *rate.Limiter
}

func burstFor(limit int64) int {
	const minBurst = 32 << 10
	if limit < minBurst {
		return minBurst
	}
	return int(limit)
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := len(p)
		if b := t.lim.Burst(); chunk > b {
			chunk = b
		}
		if err := t.lim.WaitN(t.ctx, chunk); err != nil {
			return written, err
		}
		n, err := t.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}
