// Package provider implements graph.Provider over the region filesystems.
package provider

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
	"github.com/warpdl/warpstream/pkg/graph"
	"github.com/warpdl/warpstream/pkg/logger"
	"github.com/warpdl/warpstream/pkg/region"
)

var (
	ErrBadHandle = errors.New("not a bundle handle")
	ErrUnloaded  = errors.New("bundle is unloaded")
	ErrEmptyName = errors.New("empty asset name")
)

// Bundle is the handle of a loaded bundle file.
type Bundle struct {
	Path   string
	Region region.Kind
	Data   []byte

	unloaded atomic.Bool
}

// Size returns the number of bytes read from the bundle file.
func (b *Bundle) Size() int { return len(b.Data) }

// Asset is a named reference into a loaded bundle.
type Asset struct {
	Name   string
	Bundle *Bundle
}

func (a *Asset) String() string { return a.Bundle.Path + "#" + a.Name }

// FS reads bundle files from the region filesystems on background goroutines.
type FS struct {
	regions *region.Regions
	log     logger.Logger
	wg      sync.WaitGroup

	loaded atomic.Int64
}

// New returns a provider reading from regions.
func New(regions *region.Regions, l logger.Logger) *FS {
	return &FS{regions: regions, log: logger.OrNop(l)}
}

type request struct {
	done   atomic.Bool
	handle *Bundle
	err    error
}

func (r *request) Done() bool { return r.done.Load() }

func (r *request) Result() (any, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.handle, nil
}

// LoadAsync starts reading the bundle at path in the kind region.
func (p *FS) LoadAsync(path string, kind region.Kind) (graph.Request, error) {
	fs := p.regions.FS(kind)
	if fs == nil {
		return nil, fmt.Errorf("load %s: no %s region", path, kind)
	}
	req := &request{}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer req.done.Store(true)
		defer func() {
			if r := recover(); r != nil {
				req.err = fmt.Errorf("load %s: panic: %v", path, r)
			}
		}()
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			req.err = fmt.Errorf("load %s: %w", path, err)
			return
		}
		req.handle = &Bundle{Path: path, Region: kind, Data: data}
		p.loaded.Add(1)
		p.log.Debug("provider: read %s (%d bytes) from %s", path, len(data), kind)
	}()
	return req, nil
}

// Unload drops the bundle bytes. Assets handed out earlier keep their
// reference but can no longer be resolved.
func (p *FS) Unload(handle any) error {
	b, ok := handle.(*Bundle)
	if !ok || b == nil {
		return fmt.Errorf("%w: %T", ErrBadHandle, handle)
	}
	if b.unloaded.Swap(true) {
		return fmt.Errorf("unload %s: %w", b.Path, ErrUnloaded)
	}
	b.Data = nil
	p.loaded.Add(-1)
	p.log.Debug("provider: unloaded %s", b.Path)
	return nil
}

// LoadAssetFromBundle returns a reference to asset inside handle.
func (p *FS) LoadAssetFromBundle(handle any, asset string) (any, error) {
	b, ok := handle.(*Bundle)
	if !ok || b == nil {
		return nil, fmt.Errorf("%w: %T", ErrBadHandle, handle)
	}
	if b.unloaded.Load() {
		return nil, fmt.Errorf("asset %s: %w: %s", asset, ErrUnloaded, b.Path)
	}
	if asset == "" {
		return nil, ErrEmptyName
	}
	return &Asset{Name: asset, Bundle: b}, nil
}

// Loaded returns the number of bundles currently held.
func (p *FS) Loaded() int { return int(p.loaded.Load()) }

// Wait blocks until every started read has finished.
func (p *FS) Wait() { p.wg.Wait() }
