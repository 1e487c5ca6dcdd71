package app

import (
	"context"
	"io"

	"github.com/1ureka/gtpeer/internal/peer"
)

// Stdio runs one answering session reading control operations from in and
// writing them to out. Logs must not share out with the control stream.
func (r *Runtime) Stdio(ctx context.Context, in io.Reader, out io.Writer) (peer.Result, error) {
	routes, err := r.Config.RouteTable()
	if err != nil {
		return peer.Result{Outcome: peer.UnknownRoute}, err
	}

	stream := struct {
		io.Reader
		io.Writer
	}{in, out}

	return peer.Answer(ctx, r.Factory, stream, r.answerOptions(routes))
}
