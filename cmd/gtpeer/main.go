// gtpeer is the CLI entry point.
//
// This tool bootstraps a WebRTC data channel between two peers over a
// JSON-line control stream and relays one HTTP exchange across it. The
// control stream is a WebSocket (serve/connect), stdin/stdout (stdio) or
// an in-process pipe (connect --local).
//
// It can be launched interactively (no arguments) or with a subcommand:
// connect, serve, stdio, server, client or version.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/gtpeer/internal/app"
	"github.com/1ureka/gtpeer/internal/config"
	"github.com/1ureka/gtpeer/internal/external"
	"github.com/1ureka/gtpeer/internal/peer"
	"github.com/1ureka/gtpeer/internal/util"
)

var version = "dev"

const exitUsage = 2

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	os.Exit(code)
}

// run dispatches args to a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) int {
	if len(args) == 0 {
		return runInteractive(ctx, stdout)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "connect":
		return runConnect(ctx, rest, stdout)
	case "serve":
		return runServe(ctx, rest)
	case "stdio":
		return runStdio(ctx, rest, stdin, stdout)
	case "server":
		return runExternal(ctx, external.ModeServer, rest)
	case "client":
		return runExternal(ctx, external.ModeClient, rest)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "gtpeer %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		util.LogError("unknown command %q", cmd)
		printUsage()
		return exitUsage
	}
}

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

// commonFlags are accepted by every subcommand that reads a config file.
type commonFlags struct {
	config string
	debug  bool
}

func newFlagSet(name string, common *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&common.config, "config", "c", "", "config file (.yaml, .yml, .json or .jsonc)")
	fs.BoolVar(&common.debug, "debug", false, "enable debug logging")
	return fs
}

// parse parses args and loads the config file. It returns a nil config and
// the exit code when the command should stop.
func parse(fs *pflag.FlagSet, common *commonFlags, args []string) (*config.Config, int) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, 0
		}
		util.LogError("%v", err)
		return nil, exitUsage
	}
	if fs.NArg() > 0 {
		util.LogError("unexpected argument: %s", fs.Arg(0))
		return nil, exitUsage
	}

	cfg, err := config.Load(common.config)
	if err != nil {
		util.LogError("%v", err)
		return nil, exitUsage
	}
	if common.debug || cfg.Debug {
		cfg.Debug = true
		util.EnableDebug()
	}
	return cfg, 0
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

func runConnect(ctx context.Context, args []string, stdout io.Writer) int {
	var (
		common    commonFlags
		local     bool
		signalURL string
		channel   string
		path      string
	)
	fs := newFlagSet("connect", &common)
	fs.BoolVar(&local, "local", false, "run the answering side in-process instead of dialing --signal")
	fs.StringVar(&signalURL, "signal", "", "signaling WebSocket URL (overrides signal_url)")
	fs.StringVar(&channel, "channel", "", "data channel name, e.g. www or @www/<token> (overrides channel)")
	fs.StringVar(&path, "path", "", "request path (overrides request.path)")

	cfg, code := parse(fs, &common, args)
	if cfg == nil {
		return code
	}
	if fs.Changed("signal") {
		u, err := normalizeWSURL(signalURL)
		if err != nil {
			util.LogError("%v", err)
			return exitUsage
		}
		cfg.SignalURL = u
	}
	if fs.Changed("channel") {
		cfg.Channel = channel
	}
	if fs.Changed("path") {
		cfg.Request.Path = path
	}

	printBanner()
	res, err := app.New(cfg).Connect(ctx, app.ConnectOptions{Local: local, Output: stdout})
	return finish(res, err)
}

func runServe(ctx context.Context, args []string) int {
	var (
		common  commonFlags
		listen  string
		pin     string
		metrics bool
	)
	fs := newFlagSet("serve", &common)
	fs.StringVar(&listen, "listen", "", "signaling server address (overrides listen)")
	fs.StringVar(&pin, "pin", "", `PIN required from clients, or "auto" for a random one (overrides pin)`)
	fs.BoolVar(&metrics, "metrics", false, "expose /metrics on the signaling server")

	cfg, code := parse(fs, &common, args)
	if cfg == nil {
		return code
	}
	if fs.Changed("listen") {
		cfg.Listen = listen
	}
	if fs.Changed("pin") {
		cfg.PIN = pin
	}
	if fs.Changed("metrics") {
		cfg.Metrics = metrics
	}

	printBanner()
	if err := app.New(cfg).Serve(ctx); err != nil {
		util.LogError("failed to serve: %v", err)
		return 1
	}
	util.LogInfo("signaling server closed")
	return 0
}

func runStdio(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) int {
	// stdout carries the control stream.
	util.SetOutput(os.Stderr)

	var common commonFlags
	fs := newFlagSet("stdio", &common)
	fs.SetOutput(os.Stderr)

	cfg, code := parse(fs, &common, args)
	if cfg == nil {
		return code
	}

	res, err := app.New(cfg).Stdio(ctx, stdin, stdout)
	return finish(res, err)
}

func runExternal(ctx context.Context, mode external.Mode, args []string) int {
	var common commonFlags
	fs := newFlagSet(string(mode), &common)

	cfg, code := parse(fs, &common, args)
	if cfg == nil {
		return code
	}

	runner := external.Runner{Binary: cfg.External.Binary, Args: cfg.External.Args}
	if err := runner.Run(ctx, mode, common.config); err != nil {
		util.LogError("%s exited: %v", cfg.External.Binary, err)
		return external.ExitCode(err)
	}
	return 0
}

// runInteractive falls back to prompts when no subcommand is given.
func runInteractive(ctx context.Context, stdout io.Writer) int {
	printBanner()

	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Serve   — Answer sessions over WebSocket", "Connect — Relay one request through a server"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	cfg := config.Default()
	if strings.HasPrefix(role, "Serve") {
		cfg.PIN = app.AutoPIN
		cfg.HTTPRoutes = map[string]string{"@": askOrigin()}
		if err := app.New(cfg).Serve(ctx); err != nil {
			util.LogError("failed to serve: %v", err)
			return 1
		}
		return 0
	}

	cfg.SignalURL = askURL()
	res, err := app.New(cfg).Connect(ctx, app.ConnectOptions{Output: stdout})
	return finish(res, err)
}

// finish reports a session result and returns its exit code.
func finish(res peer.Result, err error) int {
	outcome := res.Outcome
	if err != nil {
		outcome = peer.Classify(err)
	}
	if outcome == peer.Success {
		util.LogSuccess("%s: HTTP %d in %s", outcome, res.StatusCode, res.Negotiation)
	} else {
		util.LogError("%s: %v", outcome, err)
	}
	return outcome.ExitCode()
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func printBanner() {
	pterm.Info.Println(fmt.Sprintf("gtpeer — v%s", version))
	pterm.Println()
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: gtpeer <command> [flags]

Commands:
  connect   negotiate one data channel and relay one HTTP request
  serve     answer sessions arriving on a WebSocket signaling server
  stdio     answer one session over stdin/stdout
  server    run the external tunnel binary as a server
  client    run the external tunnel binary as a client
  version   print the version

Run "gtpeer <command> --help" for the flags of a command.
`)
}

// normalizeWSURL validates and normalizes a raw WebSocket URL string. A
// missing path becomes /ws; the query (e.g. ?pin=1234) is kept.
func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. ws://127.0.0.1:8089/ws?pin=1234)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askOrigin prompts the user for the HTTP origin of the default route.
func askOrigin() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Origin for the default route (e.g. http://127.0.0.1:8080)").
			Show()

		u, err := url.Parse(strings.TrimSpace(raw))
		if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
			pterm.Println()
			return u.String()
		}

		util.LogWarning("invalid origin: must be an http:// or https:// URL")
		pterm.Println()
	}
}
