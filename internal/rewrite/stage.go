package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const bufferSize = 8192

// Error is a failure inside a decode or encode stage. Once the body has
// started streaming it cannot be reported to the client.
type Error struct {
	Stage    string
	Encoding string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rewrite %s (%s): %v", e.Stage, e.Encoding, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Stage wraps a body stream in one processing step. Closing the returned
// stream closes the wrapped one.
type Stage interface {
	Name() string
	Wrap(body io.ReadCloser) io.ReadCloser
}

// Pipeline applies stages in order: the first stage reads the upstream body,
// the last one is read by the client connection.
type Pipeline []Stage

// Wrap builds the per-request stage graph over body.
func (p Pipeline) Wrap(body io.ReadCloser) io.ReadCloser {
	for _, s := range p {
		body = s.Wrap(body)
	}
	return body
}

// Names lists the stage names, for logging.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, s := range p {
		names[i] = s.Name()
	}
	return names
}

// Inject appends tail once the wrapped stream is exhausted.
func Inject(tail []byte) Stage { return injectStage{tail: tail} }

type injectStage struct{ tail []byte }

func (injectStage) Name() string { return "inject" }

func (s injectStage) Wrap(body io.ReadCloser) io.ReadCloser {
	return &readCloser{
		Reader: io.MultiReader(body, bytes.NewReader(s.tail)),
		Closer: body,
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Decode decompresses the wrapped stream.
func Decode(c *codec) Stage { return decodeStage{c: c} }

type decodeStage struct{ c *codec }

func (decodeStage) Name() string { return "decode" }

func (s decodeStage) Wrap(body io.ReadCloser) io.ReadCloser {
	return &decodedBody{c: s.c, original: body}
}

// decodedBody creates its decoder on first read, so building the pipeline
// never blocks on the upstream.
type decodedBody struct {
	c        *codec
	original io.ReadCloser
	decoder  io.ReadCloser
	err      error
}

func (b *decodedBody) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.decoder == nil {
		d, err := b.c.newReader(b.original)
		if err != nil {
			// An empty body has no header to read; treat it as empty content.
			if errors.Is(err, io.EOF) {
				b.err = io.EOF
			} else {
				b.err = &Error{Stage: "decode", Encoding: b.c.name, Err: err}
			}
			return 0, b.err
		}
		b.decoder = d
	}

	n, err := b.decoder.Read(p)
	if err != nil && err != io.EOF {
		b.err = &Error{Stage: "decode", Encoding: b.c.name, Err: err}
		return n, b.err
	}
	return n, err
}

// Close skips the decoder's error when a read already reported it.
func (b *decodedBody) Close() error {
	var derr error
	if b.decoder != nil {
		derr = b.decoder.Close()
	}
	if b.err != nil {
		derr = nil
	}
	return errors.Join(derr, b.original.Close())
}

// Encode compresses the wrapped stream. Compression runs in its own
// goroutine behind a synchronous pipe, so it never reads further ahead of
// the consumer than one buffer.
func Encode(c *codec) Stage { return encodeStage{c: c} }

type encodeStage struct{ c *codec }

func (encodeStage) Name() string { return "encode" }

func (s encodeStage) Wrap(body io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go encode(pw, body, s.c)
	return pr
}

func encode(out *io.PipeWriter, in io.ReadCloser, c *codec) {
	defer in.Close()

	e := c.newWriter(out)
	_, err := io.CopyBuffer(e, in, make([]byte, bufferSize))
	if cerr := e.Close(); err == nil {
		err = cerr
	}

	var rerr *Error
	if err != nil && !errors.Is(err, io.ErrClosedPipe) && !errors.As(err, &rerr) {
		err = &Error{Stage: "encode", Encoding: c.name, Err: err}
	}
	// nil closes the pipe with io.EOF for the reader.
	out.CloseWithError(err)
}
