package updater

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// ftpFetcher fetches ftp and ftps URIs over a single stream. Credentials
// from the URI are used for authentication and never logged.
type ftpFetcher struct {
	timeout time.Duration
}

type ftpTarget struct {
	host     string // host:port
	path     string
	user     string
	password string
	useTLS   bool
}

// parseFTPURI extracts the dial target from an ftp:// or ftps:// URI.
// Defaults to anonymous auth if no credentials are provided.
func parseFTPURI(uri string) (ftpTarget, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ftpTarget{}, NewPermanentError("ftp", "parse", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ftp" && scheme != "ftps" {
		return ftpTarget{}, NewPermanentError("ftp", "parse",
			fmt.Errorf("unsupported scheme %q, expected ftp or ftps", scheme))
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return ftpTarget{}, NewPermanentError("ftp", "parse",
			fmt.Errorf("empty or root path in FTP URI: file path is required"))
	}

	t := ftpTarget{
		host:     parsed.Host,
		path:     parsed.Path,
		user:     "anonymous",
		password: "anonymous",
		useTLS:   scheme == "ftps",
	}
	if parsed.User != nil {
		t.user = parsed.User.Username()
		if p, ok := parsed.User.Password(); ok {
			t.password = p
		}
	}
	if parsed.Port() == "" {
		t.host = net.JoinHostPort(parsed.Hostname(), "21")
	}
	return t, nil
}

// connect establishes a connection to the FTP server with optional TLS.
func (f *ftpFetcher) connect(ctx context.Context, t ftpTarget) (*ftp.ServerConn, error) {
	dialOpts := []ftp.DialOption{
		ftp.DialWithTimeout(f.timeout),
		ftp.DialWithContext(ctx),
	}
	if t.useTLS {
		hostname := t.host
		if h, _, err := net.SplitHostPort(t.host); err == nil {
			hostname = h
		}
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: hostname,
			MinVersion: tls.VersionTLS12,
		}))
	}

	conn, err := ftp.Dial(t.host, dialOpts...)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(t.user, t.password); err != nil {
		conn.Quit()
		return nil, err
	}
	return conn, nil
}

func (f *ftpFetcher) Fetch(ctx context.Context, uri string, w io.Writer, progress ProgressFunc) error {
	t, err := parseFTPURI(uri)
	if err != nil {
		return err
	}
	conn, err := f.connect(ctx, t)
	if err != nil {
		return classifyFTPError("ftp", "connect", err)
	}
	defer conn.Quit()

	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		return NewPermanentError("ftp", "type", err)
	}
	size, err := conn.FileSize(t.path)
	if err != nil {
		// Not every server implements SIZE.
		size = -1
	}

	resp, err := conn.Retr(t.path)
	if err != nil {
		return classifyFTPError("ftp", "retr", err)
	}
	defer resp.Close()

	// An expired deadline unblocks a copy stuck on a cancelled ctx.
	stop := context.AfterFunc(ctx, func() { _ = resp.SetDeadline(time.Now()) })
	defer stop()

	pw := newProgressWriter(w, size, progress)
	if _, err := io.Copy(pw, resp); err != nil {
		if ctx.Err() != nil {
			return NewPermanentError("ftp", "copy", ctx.Err())
		}
		return classifyFTPError("ftp", "copy", err)
	}
	return nil
}

// classifyFTPError classifies FTP errors into transient or permanent.
// RFC 959: 4xx codes are transient (retry), 5xx are permanent (no retry).
// Network errors are treated as transient.
func classifyFTPError(proto, op string, err error) *DownloadError {
	if err == nil {
		return nil
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 400 && tpErr.Code < 500 {
			return NewTransientError(proto, op, err)
		}
		return NewPermanentError(proto, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError(proto, op, err)
	}
	return NewPermanentError(proto, op, err)
}
