package rewrite

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// codec is a streaming content encoding the pipeline can decode and encode.
type codec struct {
	name      string
	newReader func(io.Reader) (io.ReadCloser, error)
	newWriter func(io.Writer) io.WriteCloser
	// concatenable encodings accept independently encoded members appended
	// one after another.
	concatenable bool
}

var codecs = map[string]*codec{
	"gzip": {
		name: "gzip",
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
		newWriter: func(w io.Writer) io.WriteCloser {
			return gzip.NewWriter(w)
		},
		concatenable: true,
	},
	"br": {
		name: "br",
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(brotli.NewReader(r)), nil
		},
		newWriter: func(w io.Writer) io.WriteCloser {
			return brotli.NewWriter(w)
		},
	},
}

// lookupCodec returns the codec for a Content-Encoding value. Stacked
// encodings ("gzip, br") are not handled.
func lookupCodec(contentEncoding string) (*codec, bool) {
	c, ok := codecs[strings.ToLower(strings.TrimSpace(contentEncoding))]
	return c, ok
}

// encodeMember compresses p into a single complete member.
func (c *codec) encodeMember(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := c.newWriter(&buf)
	if _, err := w.Write(p); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%s: compress footer: %w", c.name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s: compress footer: %w", c.name, err)
	}
	return buf.Bytes(), nil
}
