package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

type exchange struct {
	offerStatus  int
	offerErr     error
	answerStatus int
	answerErr    error
	body         string
}

// runExchange connects a Requester and a Forwarder over an in-memory pipe.
func runExchange(t *testing.T, origin string, r Requester) exchange {
	t.Helper()

	u, err := url.Parse(origin)
	if err != nil {
		t.Fatal(err)
	}

	a, b := net.Pipe()
	offer := NewConn(a, "offerer", "answerer")
	answer := NewConn(b, "answerer", "offerer")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var res exchange
	done := make(chan struct{})
	go func() {
		defer close(done)
		fwd := NewForwarder(2 * time.Second)
		fwd.Linger = time.Second
		res.answerStatus, res.answerErr = fwd.Serve(ctx, answer, u)
		answer.Close()
	}()

	var out bytes.Buffer
	r.Output = &out
	res.offerStatus, res.offerErr = r.Do(ctx, offer)
	offer.Close()
	<-done

	res.body = out.String()
	return res
}

func TestRelaySuccess(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s %s host=%s fwd=%s", r.Method, r.URL.RequestURI(), r.Host, r.Header.Get("X-Forwarded-Host"))
	}))
	defer origin.Close()

	res := runExchange(t, origin.URL+"/base", Requester{Path: "/hello?x=1", Host: "www.example.com"})

	if res.offerErr != nil || res.answerErr != nil {
		t.Fatalf("offer err = %v, answer err = %v", res.offerErr, res.answerErr)
	}
	if res.offerStatus != http.StatusOK || res.answerStatus != http.StatusOK {
		t.Fatalf("statuses = %d / %d", res.offerStatus, res.answerStatus)
	}
	u, _ := url.Parse(origin.URL)
	want := fmt.Sprintf("GET /base/hello?x=1 host=%s fwd=www.example.com", u.Host)
	if res.body != want {
		t.Fatalf("body = %q, want %q", res.body, want)
	}
}

func TestRelayPostBody(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write(bytes.ToUpper(body))
	}))
	defer origin.Close()

	res := runExchange(t, origin.URL, Requester{
		Method:       http.MethodPost,
		Path:         "/items",
		Body:         []byte("payload"),
		ExpectStatus: http.StatusCreated,
	})
	if res.offerErr != nil {
		t.Fatal(res.offerErr)
	}
	if res.body != "PAYLOAD" {
		t.Fatalf("body = %q", res.body)
	}
}

func TestRelayUnexpectedStatus(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer origin.Close()

	res := runExchange(t, origin.URL, Requester{})

	var re *RelayError
	if !errors.As(res.offerErr, &re) || re.StatusCode != http.StatusInternalServerError {
		t.Fatalf("offer err = %v, want RelayError with status 500", res.offerErr)
	}
	if !errors.Is(res.offerErr, ErrRelayFailed) {
		t.Fatal("RelayError must match ErrRelayFailed")
	}
	if res.answerErr != nil || res.answerStatus != http.StatusInternalServerError {
		t.Fatalf("forwarder relayed faithfully but returned %d, %v", res.answerStatus, res.answerErr)
	}
}

func TestRelayOriginUnreachable(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	addr := origin.URL
	origin.Close()

	res := runExchange(t, addr, Requester{})

	if res.answerStatus != http.StatusBadGateway || !errors.Is(res.answerErr, ErrRelayFailed) {
		t.Fatalf("forwarder = %d, %v; want 502 relay failure", res.answerStatus, res.answerErr)
	}
	if res.offerStatus != http.StatusBadGateway || !errors.Is(res.offerErr, ErrRelayFailed) {
		t.Fatalf("requester = %d, %v; want 502 relay failure", res.offerStatus, res.offerErr)
	}
}

func TestRequesterTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	go io.Copy(io.Discard, b)

	start := time.Now()
	_, err := Requester{Timeout: 100 * time.Millisecond}.Do(context.Background(), NewConn(a, "o", "a"))
	if !errors.Is(err, ErrRelayFailed) {
		t.Fatalf("err = %v, want relay failure", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout was not enforced")
	}
}

func TestRequesterCancel(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	go io.Copy(io.Discard, b)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := Requester{}.Do(ctx, NewConn(a, "o", "a"))
	if !errors.Is(err, ErrRelayFailed) {
		t.Fatalf("err = %v, want relay failure", err)
	}
}

func TestOutboundRequest(t *testing.T) {
	origin, _ := url.Parse("http://127.0.0.1:8080/api/?k=v")
	in, _ := http.NewRequest(http.MethodGet, "http://www/items?page=2", nil)
	in.Header.Set("Connection", "close, X-Drop")
	in.Header.Set("X-Drop", "1")
	in.Header.Set("Accept", "text/plain")

	out, err := outboundRequest(context.Background(), in, origin)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.URL.String(); got != "http://127.0.0.1:8080/api/items?k=v&page=2" {
		t.Fatalf("URL = %s", got)
	}
	if out.Header.Get("Connection") != "" || out.Header.Get("X-Drop") != "" {
		t.Fatalf("hop-by-hop headers leaked: %v", out.Header)
	}
	if out.Header.Get("Accept") != "text/plain" {
		t.Fatal("end-to-end header dropped")
	}
}
