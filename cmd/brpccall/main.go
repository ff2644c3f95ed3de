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
	Call CallCommand       `cmd:"" default:"1" help:"Invoke a method on a running brpcd (or any compatible) server."`
	Man  mangokong.ManFlag `help:"Write man page." hidden:""`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	kongCtx := kong.Parse(
		&CLI,
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(log),
		kong.ConfigureHelp(kong.HelpOptions{Tree: true, Compact: true}),
		kong.Description(`brpccall is an ad hoc client for probing a running RPC server,
the way grpcurl probes a gRPC server: no generated stub required, just
a service/method name and a string-valued request.`),
	)
	err = kongCtx.Run()
	kongCtx.FatalIfErrorf(err)
}
