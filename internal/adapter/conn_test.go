package adapter

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"
)

// messageRWC mimics a detached data channel: each Write is one message and
// Read fails with io.ErrShortBuffer when the buffer cannot hold a message.
type messageRWC struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	writes []int
	closed bool
}

func newMessageRWC() *messageRWC {
	m := &messageRWC{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *messageRWC) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 && !m.closed {
		m.cond.Wait()
	}
	if len(m.queue) == 0 {
		return 0, io.EOF
	}
	msg := m.queue[0]
	if len(p) < len(msg) {
		return 0, io.ErrShortBuffer
	}
	m.queue = m.queue[1:]
	return copy(p, msg), nil
}

func (m *messageRWC) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	m.writes = append(m.writes, len(p))
	m.queue = append(m.queue, append([]byte(nil), p...))
	m.cond.Broadcast()
	return len(p), nil
}

func (m *messageRWC) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
	return nil
}

func TestConnReadsMessagesIntoSmallBuffers(t *testing.T) {
	rwc := newMessageRWC()
	conn := NewConn(rwc, "local", "peer")

	msg := make([]byte, 4000)
	for i := range msg {
		msg[i] = byte(i)
	}
	if _, err := rwc.Write(msg); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 0, len(msg))
	buf := make([]byte, 100)
	for len(got) < len(msg) {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("Read after %d bytes: %v", len(got), err)
		}
		got = append(got, buf[:n]...)
	}
	for i := range msg {
		if got[i] != msg[i] {
			t.Fatalf("byte %d differs", i)
		}
	}
}

func TestConnChunksLargeWrites(t *testing.T) {
	rwc := newMessageRWC()
	conn := NewConn(rwc, "local", "peer")

	n, err := conn.Write(make([]byte, 3*maxWriteChunk+10))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3*maxWriteChunk+10 {
		t.Fatalf("wrote %d bytes", n)
	}
	if len(rwc.writes) != 4 {
		t.Fatalf("got %d messages, want 4", len(rwc.writes))
	}
	for _, w := range rwc.writes {
		if w > maxWriteChunk {
			t.Fatalf("message of %d bytes exceeds chunk size", w)
		}
	}
}

func TestConnReadDeadline(t *testing.T) {
	rwc := newMessageRWC()
	conn := NewConn(rwc, "local", "peer")

	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, err := conn.Read(make([]byte, 10))
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Read error = %v, want os.ErrDeadlineExceeded", err)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("deadline error should be a net.Error timeout, got %v", err)
	}
}

func TestConnPastDeadlineBreaksImmediately(t *testing.T) {
	rwc := newMessageRWC()
	conn := NewConn(rwc, "local", "peer")

	conn.SetDeadline(time.Now().Add(-time.Second))
	if _, err := conn.Write([]byte("x")); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Write error = %v, want os.ErrDeadlineExceeded", err)
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	conn := NewConn(newMessageRWC(), "local", "peer")
	conn.SetDeadline(time.Now().Add(time.Hour))
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if conn.LocalAddr().Network() != "webrtc" || conn.RemoteAddr().String() != "peer" {
		t.Fatalf("unexpected addrs %v %v", conn.LocalAddr(), conn.RemoteAddr())
	}
}
