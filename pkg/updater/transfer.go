package updater

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/warpdl/warpstream/pkg/logger"
)

// safeGo runs fn in a goroutine with panic recovery.
// If wg is non-nil, it's decremented on completion (normal or panic).
// Panics are logged with stack traces and handed to onPanic if non-nil.
func safeGo(l logger.Logger, wg *sync.WaitGroup, label string, onPanic func(r any), fn func()) {
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		defer func() {
			if r := recover(); r != nil {
				l.Error("PANIC [%s]: %v\n%s", label, r, debug.Stack())
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// transfer is a fetch running on its own goroutine. The tick thread only
// reads its atomics; it never blocks on it.
type transfer struct {
	received atomic.Int64
	total    atomic.Int64
	done     atomic.Bool
	once     sync.Once
	err      error
	cancel   context.CancelFunc

	mu      sync.Mutex
	cleanup func()
}

// startTransfer fetches uri into w in the background. wg, if non-nil, is
// held until the fetcher returns.
func startTransfer(ctx context.Context, wg *sync.WaitGroup, f Fetcher, uri string, w io.Writer, l logger.Logger) *transfer {
	ctx, cancel := context.WithCancel(ctx)
	t := &transfer{cancel: cancel}
	t.total.Store(-1)
	if wg != nil {
		wg.Add(1)
	}
	safeGo(l, wg, "fetch "+uri, func(r any) {
		t.finish(fmt.Errorf("fetch %s: panic: %v", uri, r))
	}, func() {
		t.finish(f.Fetch(ctx, uri, w, t.progress))
	})
	return t
}

func (t *transfer) progress(received, total int64) {
	t.received.Store(received)
	t.total.Store(total)
}

func (t *transfer) finish(err error) {
	t.once.Do(func() {
		t.err = err
		t.cancel()
		t.mu.Lock()
		t.done.Store(true)
		cleanup := t.cleanup
		t.mu.Unlock()
		if cleanup != nil {
			cleanup()
		}
	})
}

// Done reports whether the fetch has returned.
func (t *transfer) Done() bool { return t.done.Load() }

// Err returns the fetch result. Only valid once Done reports true.
func (t *transfer) Err() error { return t.err }

// Received returns the bytes written so far.
func (t *transfer) Received() int64 { return t.received.Load() }

// Total returns the announced length, or -1.
func (t *transfer) Total() int64 { return t.total.Load() }

// Abandon cancels the fetch and runs cleanup once the fetcher has returned,
// on the fetch goroutine if it is still running.
func (t *transfer) Abandon(cleanup func()) {
	t.cancel()
	t.mu.Lock()
	if !t.done.Load() {
		t.cleanup = cleanup
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	cleanup()
}
