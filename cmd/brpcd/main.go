package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	mangokong "github.com/alecthomas/mango-kong"
	"go.uber.org/zap"
)

var CLI struct {
	Serve ServeCommand      `cmd:"" default:"1" help:"Start an RPC server exposing the demo echo service."`
	Man   mangokong.ManFlag `help:"Write man page." hidden:""`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	kongCtx := kong.Parse(
		&CLI,
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(log),
		kong.ConfigureHelp(kong.HelpOptions{Tree: true, Compact: true}),
		kong.Description(`brpcd runs a multi-protocol RPC server.

Accepts Baidu-std, Hulu, SoFa, NSHead, gRPC-over-HTTP/2, HTTP-JSON/PB, and
server-push connections, detected per connection by trying each candidate
codec's framing in turn.`),
	)
	err = kongCtx.Run()
	kongCtx.FatalIfErrorf(err)
}
