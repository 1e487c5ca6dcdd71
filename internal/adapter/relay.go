package adapter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/1ureka/gtpeer/internal/util"
)

const (
	// DefaultRelayTimeout bounds one request/response exchange.
	DefaultRelayTimeout = 30 * time.Second

	// DefaultLinger is how long the answering side waits for the offering
	// side to close the channel after the response has been written.
	DefaultLinger = 2 * time.Second
)

// ErrRelayFailed matches every *RelayError.
var ErrRelayFailed = errors.New("relay failed")

// RelayError describes a failed HTTP exchange. StatusCode is zero when no
// response was obtained.
type RelayError struct {
	StatusCode int
	Err        error
}

func (e *RelayError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("relay failed with status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("relay failed with status %d", e.StatusCode)
	default:
		return fmt.Sprintf("relay failed: %v", e.Err)
	}
}

func (e *RelayError) Unwrap() error { return e.Err }

func (e *RelayError) Is(target error) bool { return target == ErrRelayFailed }

// watch breaks conn when ctx is cancelled. The returned func stops watching.
func watch(ctx context.Context, conn net.Conn) func() bool {
	return context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
}

// ---------------------------------------------------------------------------
// Requester
// ---------------------------------------------------------------------------

// Requester issues the single HTTP/1.1 request of the offering side.
type Requester struct {
	Method string      // defaults to GET
	Path   string      // request target, defaults to "/"
	Host   string      // Host header, defaults to "localhost"
	Header http.Header // extra request headers
	Body   []byte

	// ExpectStatus is the status code that counts as success; 0 means 200.
	ExpectStatus int
	// Timeout bounds the exchange; 0 means DefaultRelayTimeout.
	Timeout time.Duration
	// Output receives the response body. It is discarded when nil.
	Output io.Writer
}

// Do writes the request to conn and reads the response. It returns the
// response status, and a *RelayError unless the status matches
// ExpectStatus.
func (r Requester) Do(ctx context.Context, conn net.Conn) (int, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	path := r.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	expect := r.ExpectStatus
	if expect == 0 {
		expect = http.StatusOK
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultRelayTimeout
	}

	conn.SetDeadline(time.Now().Add(timeout))
	defer watch(ctx, conn)()

	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://"+host+path, body)
	if err != nil {
		return 0, &RelayError{Err: fmt.Errorf("create http request: %w", err)}
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Host = host
	req.Close = true

	if err := req.Write(conn); err != nil {
		return 0, &RelayError{Err: fmt.Errorf("write request: %w", err)}
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return 0, &RelayError{Err: fmt.Errorf("read response: %w", err)}
	}
	defer resp.Body.Close()

	out := r.Output
	if out == nil {
		out = io.Discard
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		return resp.StatusCode, &RelayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode != expect {
		return resp.StatusCode, &RelayError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("expected status %d", expect),
		}
	}
	return resp.StatusCode, nil
}

// ---------------------------------------------------------------------------
// Forwarder
// ---------------------------------------------------------------------------

// Forwarder serves the single HTTP/1.1 request arriving on the answering
// side by forwarding it to an origin.
type Forwarder struct {
	Client *http.Client

	// ExpectStatus, when non-zero, is the only origin status that counts as
	// success. Any relayed response counts otherwise.
	ExpectStatus int
	// Timeout bounds the exchange; 0 means DefaultRelayTimeout.
	Timeout time.Duration
	// Linger bounds the wait for the peer to close after the response;
	// 0 means DefaultLinger.
	Linger time.Duration
}

// NewForwarder creates a Forwarder with a tuned HTTP client.
func NewForwarder(timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultRelayTimeout
	}
	return &Forwarder{
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				DisableCompression:    true,
			},
			// Redirects are relayed to the peer, not followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		Timeout: timeout,
	}
}

// Serve reads one request from conn, forwards it to origin and writes the
// origin's response back. An unreachable origin is answered with 502 Bad
// Gateway. It returns the status written to the peer.
func (f *Forwarder) Serve(ctx context.Context, conn net.Conn, origin *url.URL) (int, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultRelayTimeout
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	conn.SetDeadline(time.Now().Add(timeout))
	defer watch(ctx, conn)()

	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		return 0, &RelayError{Err: fmt.Errorf("read request: %w", err)}
	}
	defer req.Body.Close()

	out, err := outboundRequest(ctx, req, origin)
	if err != nil {
		writeStatus(conn, req, http.StatusBadRequest, err.Error())
		f.linger(conn, br)
		return http.StatusBadRequest, &RelayError{StatusCode: http.StatusBadRequest, Err: err}
	}

	res, err := client.Do(out)
	if err != nil {
		util.LogWarning("origin %s unreachable: %v", origin.Host, err)
		writeStatus(conn, req, http.StatusBadGateway, "origin unreachable")
		f.linger(conn, br)
		return http.StatusBadGateway, &RelayError{
			StatusCode: http.StatusBadGateway,
			Err:        fmt.Errorf("perform http request: %w", err),
		}
	}
	defer res.Body.Close()

	header := res.Header.Clone()
	removeHopHeaders(header)
	resp := &http.Response{
		StatusCode:       res.StatusCode,
		ProtoMajor:       1,
		ProtoMinor:       1,
		Header:           header,
		Body:             res.Body,
		ContentLength:    res.ContentLength,
		TransferEncoding: res.TransferEncoding,
		Close:            true,
		Request:          req,
	}
	if err := resp.Write(conn); err != nil {
		return res.StatusCode, &RelayError{StatusCode: res.StatusCode, Err: fmt.Errorf("write response: %w", err)}
	}
	f.linger(conn, br)

	if f.ExpectStatus != 0 && res.StatusCode != f.ExpectStatus {
		return res.StatusCode, &RelayError{
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("expected status %d", f.ExpectStatus),
		}
	}
	return res.StatusCode, nil
}

// linger drains conn until the peer closes it or the linger period ends,
// so the response is not cut off by tearing the channel down first.
func (f *Forwarder) linger(conn net.Conn, br *bufio.Reader) {
	d := f.Linger
	if d <= 0 {
		d = DefaultLinger
	}
	conn.SetReadDeadline(time.Now().Add(d))
	_, _ = io.Copy(io.Discard, br)
}

// outboundRequest rewrites req so it targets origin.
func outboundRequest(ctx context.Context, req *http.Request, origin *url.URL) (*http.Request, error) {
	target := *origin
	target.Path = singleJoiningSlash(origin.Path, req.URL.Path)
	target.RawPath = ""
	switch {
	case origin.RawQuery == "":
		target.RawQuery = req.URL.RawQuery
	case req.URL.RawQuery != "":
		target.RawQuery = origin.RawQuery + "&" + req.URL.RawQuery
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	out.ContentLength = req.ContentLength
	for k, vs := range req.Header {
		for _, v := range vs {
			out.Header.Add(k, v)
		}
	}
	removeHopHeaders(out.Header)
	if req.Host != "" {
		out.Header.Set("X-Forwarded-Host", req.Host)
	}
	return out, nil
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// hopHeaders are meaningful only for a single transport-level connection.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func writeStatus(w io.Writer, req *http.Request, code int, msg string) {
	resp := &http.Response{
		StatusCode:    code,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(msg)),
		ContentLength: int64(len(msg)),
		Close:         true,
		Request:       req,
	}
	_ = resp.Write(w)
}
