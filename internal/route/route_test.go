package route

import (
	"errors"
	"testing"
)

func TestParseChannelName(t *testing.T) {
	cases := []struct {
		in        string
		key, tok  string
		canonical string
	}{
		{"@www/550e8400-e29b-41d4-a716-446655440000", "www", "550e8400-e29b-41d4-a716-446655440000", "@www/550e8400-e29b-41d4-a716-446655440000"},
		{"www/s1", "www", "s1", "@www/s1"},
		{"@/s1", "", "s1", "@/s1"},
		{"@", "", "", "@"},
		{"plain", "plain", "", "@plain"},
		{"@@x/t", "@x", "t", "@@x/t"},
	}
	for _, tc := range cases {
		got, err := ParseChannelName(tc.in)
		if err != nil {
			t.Fatalf("ParseChannelName(%q): %v", tc.in, err)
		}
		if got.RouteKey != tc.key || got.Token != tc.tok {
			t.Errorf("ParseChannelName(%q) = %+v, want key=%q token=%q", tc.in, got, tc.key, tc.tok)
		}
		if got.String() != tc.canonical {
			t.Errorf("String() = %q, want %q", got.String(), tc.canonical)
		}
	}
}

func TestParseChannelNameRejectsTraversal(t *testing.T) {
	for _, in := range []string{"../s1", "www/..", "@./s1", `www\x/s1`, "www/a/b", "www/s\n1"} {
		if _, err := ParseChannelName(in); !errors.Is(err, ErrInvalidChannelName) {
			t.Errorf("ParseChannelName(%q) error = %v, want ErrInvalidChannelName", in, err)
		}
	}
}

func TestResolve(t *testing.T) {
	table, err := NewTable(map[string]string{
		"www": "http://127.0.0.1:8080/base",
		"@":   "http://127.0.0.1:9000",
	})
	if err != nil {
		t.Fatal(err)
	}

	origin, token, err := table.Resolve("@www/s1")
	if err != nil {
		t.Fatal(err)
	}
	if origin.String() != "http://127.0.0.1:8080/base" || token != "s1" {
		t.Errorf("Resolve(@www/s1) = %s, %q", origin, token)
	}

	origin, token, err = table.Resolve("@/s2")
	if err != nil {
		t.Fatal(err)
	}
	if origin.Host != "127.0.0.1:9000" || token != "s2" {
		t.Errorf("Resolve(@/s2) = %s, %q", origin, token)
	}

	if _, _, err := table.Resolve("@api/s3"); !errors.Is(err, ErrUnknownRoute) {
		t.Errorf("Resolve(@api/s3) error = %v, want ErrUnknownRoute", err)
	}
}

func TestResolveWithoutSlash(t *testing.T) {
	table, err := NewTable(map[string]string{"www": "http://localhost:8080"})
	if err != nil {
		t.Fatal(err)
	}
	origin, token, err := table.Resolve("www")
	if err != nil {
		t.Fatal(err)
	}
	if origin.Host != "localhost:8080" || token != "" {
		t.Errorf("Resolve(www) = %s, %q", origin, token)
	}
}

func TestResolveWildcard(t *testing.T) {
	table, err := NewTable(map[string]string{
		"*":   "http://fallback:80",
		"www": "http://www:80",
	})
	if err != nil {
		t.Fatal(err)
	}

	origin, _, err := table.Resolve("@anything/t")
	if err != nil || origin.Host != "fallback:80" {
		t.Errorf("wildcard resolve = %v, %v", origin, err)
	}
	origin, _, err = table.Resolve("@www/t")
	if err != nil || origin.Host != "www:80" {
		t.Errorf("exact entry must win over wildcard, got %v, %v", origin, err)
	}
}

func TestResolveReturnsCopy(t *testing.T) {
	table, _ := NewTable(map[string]string{"www": "http://127.0.0.1:8080"})
	origin, _, _ := table.Resolve("www/a")
	origin.Host = "evil:1"

	again, _, _ := table.Resolve("www/b")
	if again.Host != "127.0.0.1:8080" {
		t.Fatalf("table was mutated through a resolved origin: %s", again)
	}
}

func TestNilTable(t *testing.T) {
	var table *Table
	if _, _, err := table.Resolve("@www/s1"); !errors.Is(err, ErrUnknownRoute) {
		t.Fatalf("nil table Resolve error = %v, want ErrUnknownRoute", err)
	}
	if table.Len() != 0 || table.Keys() != nil {
		t.Fatal("nil table must be empty")
	}
}

func TestNewTableValidation(t *testing.T) {
	bad := []map[string]string{
		{"www": "ftp://127.0.0.1"},
		{"www": "http://"},
		{"www": "://bad"},
		{"@": "http://a", "": "http://b"},
		{"a/b": "http://a"},
		{"..": "http://a"},
	}
	for _, routes := range bad {
		if _, err := NewTable(routes); err == nil {
			t.Errorf("NewTable(%v) succeeded, want error", routes)
		}
	}
}
