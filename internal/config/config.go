// Package config loads the tunnel configuration from YAML or JSON files.
//
// A file holds everything either side may need; each command reads only
// the fields relevant to its role. Missing fields keep the values from
// Default.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/1ureka/gtpeer/internal/route"
	"github.com/1ureka/gtpeer/internal/signaling"
	"github.com/1ureka/gtpeer/internal/transport"
)

// Config stores all parameters of a tunnel process.
type Config struct {
	StunServers []string          `yaml:"stun_servers" json:"stun_servers"`
	HTTPRoutes  map[string]string `yaml:"http_routes" json:"http_routes"`

	// Timeout bounds the time until the data channel opens.
	Timeout Duration `yaml:"timeout" json:"timeout"`
	// RelayTimeout bounds the HTTP exchange over the data channel.
	RelayTimeout Duration `yaml:"relay_timeout" json:"relay_timeout"`

	// Listen is the signaling server address of the serve command.
	Listen string `yaml:"listen" json:"listen"`
	// PIN, when set, must be presented by signaling clients as ?pin=.
	PIN string `yaml:"pin" json:"pin"`
	// RequireConfig makes the answering side reject offers that arrive
	// before a Config operation.
	RequireConfig bool `yaml:"require_config" json:"require_config"`

	// SignalURL is the signaling server the connect command dials.
	SignalURL string `yaml:"signal_url" json:"signal_url"`
	// Channel is the data channel name of the connect command. A bare
	// route key gets a random session token appended.
	Channel string        `yaml:"channel" json:"channel"`
	Request RequestConfig `yaml:"request" json:"request"`

	IncludeLoopback bool           `yaml:"include_loopback" json:"include_loopback"`
	Metrics         bool           `yaml:"metrics" json:"metrics"`
	Debug           bool           `yaml:"debug" json:"debug"`
	External        ExternalConfig `yaml:"external" json:"external"`
}

// RequestConfig describes the request the offering side issues.
type RequestConfig struct {
	Method       string            `yaml:"method" json:"method"`
	Path         string            `yaml:"path" json:"path"`
	Host         string            `yaml:"host" json:"host"`
	Header       map[string]string `yaml:"header" json:"header"`
	ExpectStatus int               `yaml:"expect_status" json:"expect_status"`
}

// ExternalConfig locates the external tunnel binary driven by the server
// and client commands.
type ExternalConfig struct {
	Binary string   `yaml:"binary" json:"binary"`
	Args   []string `yaml:"args" json:"args"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		StunServers:  append([]string(nil), transport.DefaultStunServers...),
		Timeout:      Duration(30 * time.Second),
		RelayTimeout: Duration(30 * time.Second),
		Listen:       "127.0.0.1:0",
		Channel:      "@",
		Request: RequestConfig{
			Method:       http.MethodGet,
			Path:         "/",
			Host:         "localhost",
			ExpectStatus: http.StatusOK,
		},
		External: ExternalConfig{Binary: "gt"},
	}
}

// Load reads path over Default. An empty path returns Default. Files ending
// in .yaml or .yml are parsed as YAML, .json and .jsonc as JSON with
// comments.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), cfg)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.RelayTimeout <= 0 {
		errs = append(errs, errors.New("relay_timeout must be positive"))
	}
	if _, err := route.NewTable(c.HTTPRoutes); err != nil {
		errs = append(errs, fmt.Errorf("http_routes: %w", err))
	}
	if c.Channel != "" {
		if _, err := route.ParseChannelName(c.Channel); err != nil {
			errs = append(errs, fmt.Errorf("channel: %w", err))
		}
	}
	if c.SignalURL != "" {
		if u, err := url.Parse(c.SignalURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, fmt.Errorf("signal_url %q must be a ws:// or wss:// URL", c.SignalURL))
		}
	}
	if s := c.Request.ExpectStatus; s != 0 && (s < 100 || s > 599) {
		errs = append(errs, fmt.Errorf("request.expect_status %d is not an HTTP status", s))
	}

	return errors.Join(errs...)
}

// ControlConfig returns the Config operation the offering side pushes.
func (c *Config) ControlConfig() signaling.Config {
	routes := make(map[string]string, len(c.HTTPRoutes))
	for k, v := range c.HTTPRoutes {
		routes[k] = v
	}
	return signaling.Config{
		StunServers: append([]string(nil), c.StunServers...),
		HTTPRoutes:  routes,
	}
}

// RouteTable builds the route table from http_routes.
func (c *Config) RouteTable() (*route.Table, error) {
	return route.NewTable(c.HTTPRoutes)
}

// ICE returns the ICE configuration from stun_servers.
func (c *Config) ICE() transport.ICEConfig {
	return transport.NewICEConfig(c.StunServers)
}

// RequestHeader returns request.header as an http.Header.
func (c *Config) RequestHeader() http.Header {
	if len(c.Request.Header) == 0 {
		return nil
	}
	h := make(http.Header, len(c.Request.Header))
	for k, v := range c.Request.Header {
		h.Set(k, v)
	}
	return h
}

// ---------------------------------------------------------------------------
// Duration
// ---------------------------------------------------------------------------

// Duration is a time.Duration written as "30s" in YAML and JSON. Plain
// numbers are read as seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts "1m30s" or a number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = parsed
	return nil
}

// MarshalYAML writes d in time.Duration notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalJSON accepts "1m30s" or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if v, err := time.ParseDuration(s); err == nil {
		return Duration(v), nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}
