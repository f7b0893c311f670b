package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sftpFetcher fetches sftp URIs over a single SSH session. Credentials from
// the URI are used for authentication and never logged.
type sftpFetcher struct {
	timeout time.Duration
	// keyPath is the private key tried when the URI has no password.
	// Empty selects ~/.ssh/id_ed25519 then ~/.ssh/id_rsa.
	keyPath string
	// knownHosts is the trust-on-first-use host key file.
	knownHosts string
}

type sftpTarget struct {
	host     string // host:port
	path     string
	user     string
	password string
}

// parseSFTPURI extracts the dial target from an sftp:// URI.
func parseSFTPURI(uri string) (sftpTarget, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return sftpTarget{}, NewPermanentError("sftp", "parse", err)
	}
	if scheme := strings.ToLower(parsed.Scheme); scheme != "sftp" {
		return sftpTarget{}, NewPermanentError("sftp", "parse",
			fmt.Errorf("unsupported scheme %q, expected sftp", scheme))
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return sftpTarget{}, NewPermanentError("sftp", "parse",
			fmt.Errorf("empty or root path in SFTP URI: file path is required"))
	}
	t := sftpTarget{host: parsed.Host, path: parsed.Path}
	if parsed.User != nil {
		t.user = parsed.User.Username()
		if p, ok := parsed.User.Password(); ok {
			t.password = p
		}
	}
	if parsed.Port() == "" {
		t.host = net.JoinHostPort(parsed.Hostname(), "22")
	}
	return t, nil
}

// connect dials the server and opens the SFTP subsystem. Closing the
// returned ssh.Client tears down both.
func (f *sftpFetcher) connect(ctx context.Context, t sftpTarget) (*ssh.Client, *sftp.Client, error) {
	auth, err := buildAuthMethods(t.password, f.keyPath)
	if err != nil {
		return nil, nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            t.user,
		Auth:            auth,
		HostKeyCallback: newTOFUHostKeyCallback(f.knownHosts),
		Timeout:         f.timeout,
	}

	d := net.Dialer{Timeout: f.timeout}
	conn, err := d.DialContext(ctx, "tcp", t.host)
	if err != nil {
		return nil, nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, t.host, cfg)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	sshConn := ssh.NewClient(c, chans, reqs)
	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, nil, err
	}
	return sshConn, client, nil
}

func (f *sftpFetcher) Fetch(ctx context.Context, uri string, w io.Writer, progress ProgressFunc) error {
	t, err := parseSFTPURI(uri)
	if err != nil {
		return err
	}
	sshConn, client, err := f.connect(ctx, t)
	if err != nil {
		return classifySFTPError("sftp", "connect", err)
	}
	defer sshConn.Close()
	defer client.Close()

	info, err := client.Stat(t.path)
	if err != nil {
		return classifySFTPError("sftp", "stat", err)
	}
	remote, err := client.Open(t.path)
	if err != nil {
		return classifySFTPError("sftp", "open", err)
	}
	defer remote.Close()

	// Closing the connection unblocks a copy stuck on a cancelled ctx.
	stop := context.AfterFunc(ctx, func() { _ = sshConn.Close() })
	defer stop()

	pw := newProgressWriter(w, info.Size(), progress)
	if _, err := io.Copy(pw, remote); err != nil {
		if ctx.Err() != nil {
			return NewPermanentError("sftp", "copy", ctx.Err())
		}
		return classifySFTPError("sftp", "copy", err)
	}
	return nil
}

// buildAuthMethods prefers the URI password, then the first readable
// private key.
func buildAuthMethods(password, keyPath string) ([]ssh.AuthMethod, error) {
	if password != "" {
		return []ssh.AuthMethod{ssh.Password(password)}, nil
	}
	keyPaths := resolveSSHKeyPaths(keyPath)
	for _, kp := range keyPaths {
		pemBytes, err := os.ReadFile(kp)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		if err != nil {
			var ppErr *ssh.PassphraseMissingError
			if errors.As(err, &ppErr) {
				return nil, fmt.Errorf("sftp: SSH key %q is passphrase-protected; passphrase-protected keys are not supported", kp)
			}
			continue
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("sftp: no authentication method available, provide a password in the URI or an SSH key at %s", strings.Join(keyPaths, ", "))
}

func resolveSSHKeyPaths(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
}

// DefaultKnownHostsPath returns the host key file used when none is
// configured. It is kept apart from ~/.ssh/known_hosts.
func DefaultKnownHostsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".warpstream", "known_hosts")
	}
	return filepath.Join(dir, "warpstream", "known_hosts")
}

var knownHostsMu sync.Mutex

// newTOFUHostKeyCallback accepts and records unknown hosts, accepts known
// hosts presenting their recorded key and rejects a changed key. The file is
// re-read on every call.
func newTOFUHostKeyCallback(file string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
			return fmt.Errorf("sftp: create known_hosts directory: %w", err)
		}
		if _, err := os.Stat(file); err == nil {
			cb, err := knownhosts.New(file)
			if err != nil {
				return fmt.Errorf("sftp: load known_hosts: %w", err)
			}
			err = cb(hostname, remote, key)
			if err == nil {
				return nil
			}
			var keyErr *knownhosts.KeyError
			if !errors.As(err, &keyErr) {
				return err
			}
			if len(keyErr.Want) > 0 {
				return fmt.Errorf("sftp: host key changed for %s (got %s), remove the old entry from %s if this is expected",
					hostname, ssh.FingerprintSHA256(key), file)
			}
		}
		return appendKnownHost(file, hostname, key)
	}
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	knownHostsMu.Lock()
	defer knownHostsMu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("sftp: write known_hosts: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key))
	return err
}

// classifySFTPError treats missing files and remote exit errors as
// permanent and network errors as transient.
func classifySFTPError(proto, op string, err error) *DownloadError {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return NewPermanentError(proto, op, err)
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return NewPermanentError(proto, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError(proto, op, err)
	}
	return NewPermanentError(proto, op, err)
}
