package main

import (
	"context"
	"os"
	"os/signal"

	"calvoice/app/client/gcal"
	"calvoice/app/client/modelrt"
	"calvoice/app/config"
	"calvoice/app/server"
	"calvoice/app/service/agent"
	"calvoice/app/service/auth"
	"calvoice/app/service/realtime"
	"calvoice/app/service/store"
	"calvoice/app/service/tools"
	"calvoice/app/util/mylog"
	"log/slog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, store.New)
	do.Provide(di, gcal.NewClient)
	do.Provide(di, modelrt.NewClient)
	do.Provide(di, tools.New)
	do.Provide(di, tools.NewRegistry)
	do.Provide(di, auth.New)
	do.Provide(di, agent.New)
	do.Provide(di, realtime.New)
	do.Provide(di, server.New)

	slog.Info("Service started")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	if err = do.MustInvoke[*server.Service](di).Run(appCtx); err != nil {
		log.Errorf("server stopped: %v", err)
	}
}
