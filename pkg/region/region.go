// Package region maps bundle identities onto the two persistent content
// roots: the read-only root shipped with the application and the read-write
// cache root that receives downloaded updates.
package region

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
	"github.com/warpdl/warpstream/pkg/manifest"
)

// Kind selects a region.
type Kind int

const (
	ReadOnly Kind = iota
	ReadWrite
)

func (k Kind) String() string {
	switch k {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("region(%d)", int(k))
	}
}

// DefaultManifestName is the manifest file name inside each region root.
const DefaultManifestName = "manifest.yaml"

var (
	ErrReadOnly        = errors.New("region is read-only")
	ErrInvalidIdentity = errors.New("invalid bundle identity")
)

// Regions holds both roots. Paths handed out are relative to the region's
// filesystem, so callers must resolve them against FS(kind).
type Regions struct {
	ro           afero.Fs
	rw           afero.Fs
	manifestName string
}

// New creates Regions over the given filesystems. The read-only root is
// wrapped so writes through it fail.
func New(readOnly, readWrite afero.Fs, manifestName string) *Regions {
	if manifestName == "" {
		manifestName = DefaultManifestName
	}
	return &Regions{
		ro:           afero.NewReadOnlyFs(readOnly),
		rw:           readWrite,
		manifestName: manifestName,
	}
}

// NewOS creates Regions rooted at two host directories.
func NewOS(readOnlyDir, readWriteDir, manifestName string) (*Regions, error) {
	if err := os.MkdirAll(readWriteDir, 0o755); err != nil {
		return nil, err
	}
	return New(
		afero.NewBasePathFs(afero.NewOsFs(), readOnlyDir),
		afero.NewBasePathFs(afero.NewOsFs(), readWriteDir),
		manifestName,
	), nil
}

// FS returns the filesystem backing kind.
func (r *Regions) FS(kind Kind) afero.Fs {
	if kind == ReadWrite {
		return r.rw
	}
	return r.ro
}

// ManifestName returns the manifest file name, which also selects its codec.
func (r *Regions) ManifestName() string { return r.manifestName }

// Path returns the deterministic load path of a bundle inside a region.
func Path(identity string, kind Kind) string {
	p := path.Clean("/" + identity)
	if kind == ReadWrite {
		return path.Join("/bundles", p)
	}
	return p
}

func validIdentity(identity string) error {
	if identity == "" || identity == "." || identity == ".." || path.IsAbs(identity) ||
		path.Clean(identity) != identity || strings.HasPrefix(identity, "../") {
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	return nil
}

// Exists reports whether the bundle file is present in the region.
func (r *Regions) Exists(identity string, kind Kind) (bool, error) {
	return afero.Exists(r.FS(kind), Path(identity, kind))
}

// Open opens the bundle file for reading.
func (r *Regions) Open(identity string, kind Kind) (afero.File, error) {
	return r.FS(kind).Open(Path(identity, kind))
}

// Staging is a partially written bundle in the read-write region.
type Staging struct {
	r        *Regions
	identity string
	file     afero.File
	done     bool
}

// Create starts writing a new copy of the bundle into the read-write region.
// Nothing is visible under the bundle's load path until Commit.
func (r *Regions) Create(identity string) (*Staging, error) {
	if err := validIdentity(identity); err != nil {
		return nil, err
	}
	dir := path.Dir(Path(identity, ReadWrite))
	if err := r.rw.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := afero.TempFile(r.rw, dir, "."+path.Base(identity)+".part-*")
	if err != nil {
		return nil, err
	}
	return &Staging{r: r, identity: identity, file: f}, nil
}

func (s *Staging) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

// Name returns the temporary file name.
func (s *Staging) Name() string { return s.file.Name() }

// Commit verifies the written content against want and atomically moves it
// to the bundle's load path.
func (s *Staging) Commit(want *manifest.BundleManifestInfo, verify bool) error {
	if s.done {
		return os.ErrClosed
	}
	s.done = true
	name := s.file.Name()
	if err := s.file.Close(); err != nil {
		_ = s.r.rw.Remove(name)
		return err
	}
	if verify && want != nil {
		if err := s.verify(name, want); err != nil {
			_ = s.r.rw.Remove(name)
			return err
		}
	}
	if err := s.r.rw.Rename(name, Path(s.identity, ReadWrite)); err != nil {
		_ = s.r.rw.Remove(name)
		return err
	}
	return nil
}

func (s *Staging) verify(name string, want *manifest.BundleManifestInfo) error {
	f, err := s.r.rw.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	sum, n, err := manifest.HashReader(f)
	if err != nil {
		return err
	}
	if want.Size > 0 && n != want.Size {
		return fmt.Errorf("%s: %w: size %d, want %d", s.identity, manifest.ErrHashMismatch, n, want.Size)
	}
	if err := manifest.VerifyHash(want.Hash, sum); err != nil {
		return fmt.Errorf("%s: %w", s.identity, err)
	}
	return nil
}

// Discard removes the temporary file. It is a no-op after Commit.
func (s *Staging) Discard() error {
	if s.done {
		return nil
	}
	s.done = true
	name := s.file.Name()
	_ = s.file.Close()
	return s.r.rw.Remove(name)
}

// Remove deletes the read-write copy of a bundle. Removing the read-only
// copy fails with ErrReadOnly.
func (r *Regions) Remove(identity string, kind Kind) error {
	if kind == ReadOnly {
		return ErrReadOnly
	}
	err := r.rw.Remove(Path(identity, ReadWrite))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ReadManifest loads the region's manifest. A missing manifest yields nil.
func (r *Regions) ReadManifest(kind Kind) (*manifest.Manifest, error) {
	return manifest.ReadOptional(r.FS(kind), "/"+r.manifestName)
}

// WriteManifest replaces the read-write region's manifest.
func (r *Regions) WriteManifest(m *manifest.Manifest) error {
	return manifest.Write(r.rw, "/"+r.manifestName, m)
}
