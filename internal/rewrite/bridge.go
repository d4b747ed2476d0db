package rewrite

import (
	"fmt"
	"io"
)

// NewBridge returns the decode, inject, encode pipeline for encoding: the
// upstream body is decompressed, tail is appended to the decompressed content
// and the concatenation is recompressed with the same encoding.
func NewBridge(encoding string, tail []byte) (Pipeline, error) {
	c, ok := lookupCodec(encoding)
	if !ok {
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
	return Pipeline{Decode(c), Inject(tail), Encode(c)}, nil
}

// Bridge is a convenience for NewBridge(...).Wrap(body).
func Bridge(body io.ReadCloser, encoding string, tail []byte) (io.ReadCloser, error) {
	p, err := NewBridge(encoding, tail)
	if err != nil {
		return nil, err
	}
	return p.Wrap(body), nil
}
