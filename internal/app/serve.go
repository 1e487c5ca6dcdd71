package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net"

	"github.com/1ureka/gtpeer/internal/observability"
	"github.com/1ureka/gtpeer/internal/peer"
	"github.com/1ureka/gtpeer/internal/signaling"
	"github.com/1ureka/gtpeer/internal/util"
)

// AutoPIN asks Serve to generate a random PIN.
const AutoPIN = "auto"

// Serve runs the answering side for every WebSocket control stream that
// connects to the configured listen address, until ctx is cancelled.
// Sessions share the route table built from http_routes.
func (r *Runtime) Serve(ctx context.Context) error {
	server, addr, err := r.StartServer(ctx)
	if err != nil {
		return err
	}
	defer server.Close()

	util.StartStatsReporter(ctx, 0)

	<-ctx.Done()
	util.LogInfo("shutting down signaling server on %s", addr)
	return nil
}

// StartServer starts the signaling server used by Serve and prints its
// banner. The caller must Close the returned server.
func (r *Runtime) StartServer(ctx context.Context) (*signaling.Server, net.Addr, error) {
	cfg := r.Config

	routes, err := cfg.RouteTable()
	if err != nil {
		return nil, nil, err
	}
	opts := r.answerOptions(routes)

	pin := cfg.PIN
	if pin == AutoPIN {
		pin = generatePIN(4)
	}

	server := signaling.NewServer(pin, func(ctx context.Context, stream io.ReadWriteCloser) {
		util.LogDebug("control stream connected")
		res, err := peer.Answer(ctx, r.Factory, stream, opts)
		switch res.Outcome {
		case peer.Success, peer.Canceled:
			util.LogDebug("control stream finished: %s", res.Outcome)
		default:
			util.LogWarning("control stream failed: %s: %v", res.Outcome, err)
		}
	})
	if cfg.Metrics {
		observability.MustRegister()
		server.Handle("/metrics", observability.Handler())
	}

	addr, err := server.Start(ctx, cfg.Listen)
	if err != nil {
		return nil, nil, err
	}

	routeList := fmt.Sprint(routes.Keys())
	if routes.Len() == 0 {
		routeList = "(from peer Config)"
	}
	if pin == "" {
		pin = "(none)"
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║        WebSocket Signaling Server        ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Println(bannerLine("Addr", addr.String()))
	fmt.Println(bannerLine("PIN", pin))
	fmt.Println(bannerLine("Routes", routeList))
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()

	return server, addr, nil
}

// generatePIN returns a random numeric PIN of the specified length.
func generatePIN(length int) string {
	digits := make([]byte, length)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits)
}
