// Package app contains the top-level orchestration for the connect, serve
// and stdio modes.
package app

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/1ureka/gtpeer/internal/adapter"
	"github.com/1ureka/gtpeer/internal/config"
	"github.com/1ureka/gtpeer/internal/peer"
	"github.com/1ureka/gtpeer/internal/route"
	"github.com/1ureka/gtpeer/internal/transport"
)

// Runtime is what every mode shares: the loaded configuration and the
// factory used to create peer connections.
type Runtime struct {
	Config  *config.Config
	Factory transport.Factory
}

// New creates a Runtime backed by Pion.
func New(cfg *config.Config) *Runtime {
	return &Runtime{
		Config:  cfg,
		Factory: transport.PionFactory{IncludeLoopback: cfg.IncludeLoopback},
	}
}

// answerOptions builds the answering side options around routes. The
// routes table is shared read-only by every session of the group.
func (r *Runtime) answerOptions(routes *route.Table) peer.AnswerOptions {
	cfg := r.Config
	fwd := adapter.NewForwarder(cfg.RelayTimeout.Std())
	return peer.AnswerOptions{
		Routes:        routes,
		ICE:           cfg.ICE(),
		RequireConfig: cfg.RequireConfig,
		Timeout:       cfg.Timeout.Std(),
		Forwarder:     fwd,
	}
}

// ChannelName returns the data channel name for a connect attempt. A name
// without a session token gets a random one, so "www" becomes
// "@www/<uuid>".
func ChannelName(name string) (string, error) {
	ch, err := route.ParseChannelName(name)
	if err != nil {
		return "", err
	}
	if ch.Token == "" {
		ch.Token = uuid.NewString()
	}
	return ch.String(), nil
}

// bannerLine pads one line of the server banner.
func bannerLine(label, value string) string {
	return fmt.Sprintf("║  %-6s: %-31s ║", label, value)
}
