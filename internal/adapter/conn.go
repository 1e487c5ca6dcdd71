// Portions of this file (the deadline-aware net.Conn over a detached data
// channel) are adapted from transport/datachannel_conn.go in Bureau:
//
// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter turns an opened data channel into a single HTTP exchange.
// Both roles first adapt the detached channel into a net.Conn (Conn); the
// offering side then issues one request over it (Requester) and the
// answering side forwards that request to an origin (Forwarder).
package adapter

import (
	"bufio"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1ureka/gtpeer/internal/util"
)

const (
	// readBufferSize must hold the largest SCTP message a peer may send;
	// detached channels reject reads into a smaller buffer.
	readBufferSize = 64 * 1024

	// maxWriteChunk bounds the size of one outgoing SCTP message.
	maxWriteChunk = 16 * 1024
)

// Conn wraps a detached data channel as a net.Conn. The channel is message
// oriented; Conn reads through a buffer large enough for any message and
// splits writes into bounded chunks, so it behaves like a TCP stream from
// the perspective of HTTP.
//
// Deadline support uses timer-based cancellation: when a deadline fires,
// the underlying stream is closed, causing any blocked Read/Write to return
// os.ErrDeadlineExceeded. Once fired, the conn is permanently broken.
type Conn struct {
	rwc        io.ReadWriteCloser
	br         *bufio.Reader
	localLabel string
	peerLabel  string

	mu             sync.Mutex
	readTimer      *time.Timer
	writeTimer     *time.Timer
	deadlineClosed bool

	closeOnce sync.Once
	closeErr  error
}

// Compile-time interface check.
var _ net.Conn = (*Conn)(nil)

// NewConn wraps a detached data channel. localLabel and peerLabel identify
// the endpoints in LocalAddr and RemoteAddr.
func NewConn(rwc io.ReadWriteCloser, localLabel, peerLabel string) *Conn {
	return &Conn{
		rwc:        rwc,
		br:         bufio.NewReaderSize(rwc, readBufferSize),
		localLabel: localLabel,
		peerLabel:  peerLabel,
	}
}

func (c *Conn) Read(buffer []byte) (int, error) {
	n, err := c.br.Read(buffer)
	util.Stats.AddRecv(n)
	if err != nil && c.expired() {
		return n, os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *Conn) Write(buffer []byte) (int, error) {
	written := 0
	for written < len(buffer) {
		end := min(written+maxWriteChunk, len(buffer))
		n, err := c.rwc.Write(buffer[written:end])
		written += n
		util.Stats.AddSent(n)
		if err != nil {
			if c.expired() {
				return written, os.ErrDeadlineExceeded
			}
			return written, err
		}
	}
	return written, nil
}

// Close closes the underlying stream. Subsequent calls return the first
// result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.stopTimersLocked()
		c.mu.Unlock()
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

// LocalAddr returns a synthetic address identifying the local data channel endpoint.
func (c *Conn) LocalAddr() net.Addr {
	return &dataChannelAddr{label: c.localLabel}
}

// RemoteAddr returns a synthetic address identifying the remote data channel endpoint.
func (c *Conn) RemoteAddr() net.Addr {
	return &dataChannelAddr{label: c.peerLabel}
}

// SetDeadline sets both read and write deadlines. A zero value clears the deadline.
func (c *Conn) SetDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setReadDeadlineLocked(deadline)
	c.setWriteDeadlineLocked(deadline)
	return nil
}

// SetReadDeadline sets the read deadline. A zero value clears the deadline.
func (c *Conn) SetReadDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setReadDeadlineLocked(deadline)
	return nil
}

// SetWriteDeadline sets the write deadline. A zero value clears the deadline.
func (c *Conn) SetWriteDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setWriteDeadlineLocked(deadline)
	return nil
}

func (c *Conn) setReadDeadlineLocked(deadline time.Time) {
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	c.readTimer = c.armLocked(deadline)
}

func (c *Conn) setWriteDeadlineLocked(deadline time.Time) {
	if c.writeTimer != nil {
		c.writeTimer.Stop()
		c.writeTimer = nil
	}
	c.writeTimer = c.armLocked(deadline)
}

// armLocked returns a timer that breaks the conn at deadline, or breaks it
// immediately if deadline has passed. Must be called with c.mu held.
func (c *Conn) armLocked(deadline time.Time) *time.Timer {
	if deadline.IsZero() || c.deadlineClosed {
		return nil
	}
	duration := time.Until(deadline)
	if duration <= 0 {
		c.closeFromDeadline()
		return nil
	}
	return time.AfterFunc(duration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closeFromDeadline()
	})
}

// closeFromDeadline closes the underlying stream to unblock pending I/O.
// Must be called with c.mu held.
func (c *Conn) closeFromDeadline() {
	if c.deadlineClosed {
		return
	}
	c.deadlineClosed = true
	c.rwc.Close()
}

func (c *Conn) stopTimersLocked() {
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	if c.writeTimer != nil {
		c.writeTimer.Stop()
		c.writeTimer = nil
	}
}

func (c *Conn) expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadlineClosed
}

// dataChannelAddr is a synthetic net.Addr for data channel connections.
type dataChannelAddr struct {
	label string
}

func (a *dataChannelAddr) Network() string { return "webrtc" }
func (a *dataChannelAddr) String() string  { return a.label }
