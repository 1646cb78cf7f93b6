// orchestratord is the on-demand engine orchestrator daemon.
//
// It owns the container daemon connection, the port allocator, the
// persisted engine/stream state, and the HTTP API that fronts them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krinkuto11/ace-orchestrator/internal/api"
	"github.com/krinkuto11/ace-orchestrator/internal/boot"
	"github.com/krinkuto11/ace-orchestrator/internal/config"
	"github.com/krinkuto11/ace-orchestrator/internal/logging"
	"github.com/krinkuto11/ace-orchestrator/internal/runtime"
	"github.com/krinkuto11/ace-orchestrator/internal/version"
)

func main() {
	log := logging.NewFromEnv()
	log.WithField("version", version.Version()).Info("orchestratord starting")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}

	rt, err := runtime.NewDockerAdapter()
	if err != nil {
		log.WithError(err).Fatal("connect to container daemon")
	}

	orch, err := boot.New(cfg, log, rt)
	if err != nil {
		log.WithError(err).Fatal("boot orchestrator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Run(ctx); err != nil {
		log.WithError(err).Fatal("start orchestrator")
	}

	server := api.NewServer(cfg, orch.Registry, orch.Provisioner, orch.Ingestor, orch.Autoscaler, orch.Runtime, log)
	if err := server.Start(); err != nil {
		log.WithError(err).Fatal("start http api")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.WithField("signal", fmt.Sprint(sig)).Info("orchestratord stopping")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("stop http api")
	}
	if err := orch.Shutdown(); err != nil {
		log.WithError(err).Error("shutdown orchestrator")
	}

	log.Info("orchestratord stopped")
}
