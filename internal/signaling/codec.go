package signaling

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxLineSize bounds a single control line. SDP blobs are a few KiB; anything
// near this size is not a control message.
const MaxLineSize = 1 << 20

// Encoder writes operations to a stream, one line per operation.
// Send is safe for concurrent use; lines are never interleaved.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Send encodes op and writes it with a single Write call.
func (e *Encoder) Send(op Operation) error {
	line, err := Encode(op)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStreamClosed, op.Kind(), err)
	}
	return nil
}

// Decoder reads operations from a stream. It is not safe for concurrent use.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Receive blocks for the next operation. Blank lines are skipped.
//
// It returns an error wrapping ErrStreamClosed once the stream ends (a
// trailing partial line is discarded), or ErrMalformedMessage for a line
// that cannot be decoded. A malformed line does not desynchronize the
// stream; the caller may keep reading.
func (d *Decoder) Receive() (Operation, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return Decode(line)
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := d.r.ReadSlice('\n')
		if len(line)+len(chunk) > MaxLineSize {
			if err := d.discardLine(err); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedMessage, MaxLineSize)
		}
		line = append(line, chunk...)

		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return nil, ErrStreamClosed
		default:
			return nil, fmt.Errorf("%w: %w", ErrStreamClosed, err)
		}
	}
}

// discardLine drops the remainder of an oversized line.
func (d *Decoder) discardLine(err error) error {
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = d.r.ReadSlice('\n')
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return ErrStreamClosed
	default:
		return fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}
}
