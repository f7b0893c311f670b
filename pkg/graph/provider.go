package graph

import "github.com/warpdl/warpstream/pkg/region"

// Request is an in-flight bundle load. Done is polled once per tick; Result
// is only called after Done reports true.
type Request interface {
	Done() bool
	Result() (handle any, err error)
}

// Provider loads and unloads physical bundles. Implementations may do their
// I/O on other goroutines but must only be called from the tick thread.
type Provider interface {
	LoadAsync(path string, kind region.Kind) (Request, error)
	Unload(handle any) error
	LoadAssetFromBundle(handle any, asset string) (any, error)
}
