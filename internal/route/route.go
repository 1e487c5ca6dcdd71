// Package route maps data channel names to HTTP origins.
//
// A channel name has the form "<route_key>/<session_token>". The route key
// may carry one leading '@'. The key "@" (or the empty key) selects the
// default route, and "*" is a wildcard that catches any key without an
// exact entry.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrUnknownRoute is returned when a route key has no entry in the table.
	ErrUnknownRoute = errors.New("unknown route")

	// ErrInvalidChannelName is returned for names that could be used to
	// escape the route table.
	ErrInvalidChannelName = errors.New("invalid channel name")
)

const (
	// DefaultKey is the normalized key of the default route.
	DefaultKey = ""
	// Wildcard matches any route key that has no exact entry.
	Wildcard = "*"

	marker = "@"
)

// ChannelName is a parsed data channel name.
type ChannelName struct {
	RouteKey string // without the leading '@'
	Token    string // empty when the name has no '/'
}

// ParseChannelName splits name at the first '/'. A single leading '@' is
// stripped from the route key.
func ParseChannelName(name string) (ChannelName, error) {
	key, token, _ := strings.Cut(name, "/")
	key = strings.TrimPrefix(key, marker)

	if err := checkSegment("route key", key); err != nil {
		return ChannelName{}, fmt.Errorf("%w %q: %v", ErrInvalidChannelName, name, err)
	}
	if err := checkSegment("session token", token); err != nil {
		return ChannelName{}, fmt.Errorf("%w %q: %v", ErrInvalidChannelName, name, err)
	}
	if strings.Contains(token, "/") {
		return ChannelName{}, fmt.Errorf("%w %q: session token contains '/'", ErrInvalidChannelName, name)
	}

	return ChannelName{RouteKey: key, Token: token}, nil
}

func checkSegment(what, s string) error {
	switch {
	case s == "." || s == "..":
		return fmt.Errorf("%s is %q", what, s)
	case strings.Contains(s, `\`):
		return fmt.Errorf("%s contains a backslash", what)
	case strings.ContainsAny(s, "\x00\r\n"):
		return fmt.Errorf("%s contains a control character", what)
	}
	return nil
}

// String returns the canonical "@key/token" form.
func (c ChannelName) String() string {
	if c.Token == "" {
		return marker + c.RouteKey
	}
	return marker + c.RouteKey + "/" + c.Token
}

// Table is an immutable route table. A nil *Table resolves nothing.
type Table struct {
	routes map[string]*url.URL
}

// NewTable validates routes and builds a Table. Origins must be absolute
// http or https URLs; the keys "@" and "" both name the default route.
func NewTable(routes map[string]string) (*Table, error) {
	t := &Table{routes: make(map[string]*url.URL, len(routes))}

	for key, raw := range routes {
		norm := strings.TrimPrefix(key, marker)
		if _, dup := t.routes[norm]; dup {
			return nil, fmt.Errorf("route %q is declared twice", key)
		}
		if norm != Wildcard {
			if err := checkSegment("route key", norm); err != nil || strings.Contains(norm, "/") {
				return nil, fmt.Errorf("route key %q is not valid", key)
			}
		}

		origin, err := parseOrigin(raw)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", key, err)
		}
		t.routes[norm] = origin
	}

	return t, nil
}

func parseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin %q has no host", raw)
	}
	return u, nil
}

// Lookup returns the origin for a normalized route key: the exact entry,
// then the wildcard entry. The returned URL is a copy.
func (t *Table) Lookup(key string) (*url.URL, error) {
	if t != nil {
		if origin, ok := t.routes[key]; ok {
			u := *origin
			return &u, nil
		}
		if origin, ok := t.routes[Wildcard]; ok {
			u := *origin
			return &u, nil
		}
	}
	if key == DefaultKey {
		return nil, fmt.Errorf("%w: no default route", ErrUnknownRoute)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRoute, key)
}

// Resolve parses channel and returns the origin of its route together with
// the session token.
func (t *Table) Resolve(channel string) (*url.URL, string, error) {
	name, err := ParseChannelName(channel)
	if err != nil {
		return nil, "", err
	}
	origin, err := t.Lookup(name.RouteKey)
	if err != nil {
		return nil, "", err
	}
	return origin, name.Token, nil
}

// Keys returns the configured route keys in sorted order.
func (t *Table) Keys() []string {
	if t == nil {
		return nil
	}
	keys := make([]string, 0, len(t.routes))
	for k := range t.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of routes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}
