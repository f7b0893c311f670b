package updater

import (
	"context"
	"io"
	"net/url"

	"github.com/spf13/afero"
)

// fileFetcher serves file:// URIs from an afero filesystem, which lets a
// local directory or an in-memory tree stand in for a remote source.
type fileFetcher struct {
	fs afero.Fs
}

func (f *fileFetcher) Fetch(ctx context.Context, uri string, w io.Writer, progress ProgressFunc) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return NewPermanentError("file", "parse", err)
	}
	src, err := f.fs.Open(parsed.Path)
	if err != nil {
		return NewPermanentError("file", "open", err)
	}
	defer src.Close()

	size := int64(-1)
	if st, err := src.Stat(); err == nil {
		size = st.Size()
	}
	pw := newProgressWriter(w, size, progress)
	if _, err := io.Copy(pw, &ctxReader{ctx: ctx, r: src}); err != nil {
		return NewPermanentError("file", "copy", err)
	}
	return nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
