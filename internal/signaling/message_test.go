package signaling

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeOperations(t *testing.T) {
	cases := []struct {
		line string
		want Operation
	}{
		{`{"type":"GetOfferSDP","channel_name":"@www/s1"}`, GetOfferSDP{ChannelName: "@www/s1"}},
		{`{"type":"OfferSDP","sdp":"{\"type\":\"offer\",\"sdp\":\"v=0\\r\\n\"}"}`, OfferSDP{SDP: `{"type":"offer","sdp":"v=0\r\n"}`}},
		{`{"type":"AnswerSDP","sdp":"{\"type\":\"answer\",\"sdp\":\"v=0\"}"}` + "\n", AnswerSDP{SDP: `{"type":"answer","sdp":"v=0"}`}},
		{`{"type":"Candidate","candidate":""}`, Candidate{}},
	}
	for _, tc := range cases {
		got, err := Decode([]byte(tc.line))
		if err != nil {
			t.Fatalf("Decode(%q): %v", tc.line, err)
		}
		if got != tc.want {
			t.Errorf("Decode(%q) = %#v, want %#v", tc.line, got, tc.want)
		}
	}
}

func TestDecodeConfig(t *testing.T) {
	op, err := Decode([]byte(`{"type":"Config","stun_servers":["stun:stun.l.google.com:19302"],"http_routes":{"www":"http://127.0.0.1:8080"}}`))
	if err != nil {
		t.Fatal(err)
	}
	cfg, ok := op.(Config)
	if !ok {
		t.Fatalf("got %T, want Config", op)
	}
	if len(cfg.StunServers) != 1 || cfg.HTTPRoutes["www"] != "http://127.0.0.1:8080" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestDecodeMalformed(t *testing.T) {
	lines := []string{
		`not json`,
		`{"sdp":"v=0"}`,
		`{"type":"Teleport"}`,
		`{"type":"OfferSDP"}`,
		`{"type":"Candidate"}`,
		`{"type":"GetOfferSDP","channel_name":7}`,
		`["OfferSDP"]`,
	}
	for _, line := range lines {
		_, err := Decode([]byte(line))
		if !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformedMessage", line, err)
		}
	}
}

func TestEncodeKeepsEmptyCandidate(t *testing.T) {
	line, err := Encode(Candidate{})
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != `{"type":"Candidate","candidate":""}`+"\n" {
		t.Errorf("Encode(end of candidates) = %q", line)
	}
}

func TestEncodeSingleLine(t *testing.T) {
	sdp := `{"type":"offer","sdp":"v=0\r\no=- 46117317 2 IN IP4 127.0.0.1\r\ns=-\r\n"}`
	line, err := Encode(OfferSDP{SDP: sdp})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(line), "\n") != 1 || line[len(line)-1] != '\n' {
		t.Fatalf("encoded offer is not a single line: %q", line)
	}
	op, err := Decode(line)
	if err != nil {
		t.Fatal(err)
	}
	if op.(OfferSDP).SDP != sdp {
		t.Errorf("sdp changed on the wire: %q", op.(OfferSDP).SDP)
	}
}
