package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"anima/config"
	"anima/core"
	"anima/core/types"
	"anima/native/access"
	"anima/native/governance"
	"anima/native/ledger"
	"anima/native/stake"
	"anima/observability/logging"
	"anima/rpc"
	"anima/scheduler"
	"anima/storage"
)

func main() {
	configPath := flag.String("config", "animad.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log := logging.Setup("animad", cfg.Environment)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		log.Error("open state database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	book, err := ledger.New(db)
	if err != nil {
		log.Error("open ledger", "error", err.Error())
		os.Exit(1)
	}
	stakes, err := stake.NewRegistry(db, book)
	if err != nil {
		log.Error("open stake registry", "error", err.Error())
		os.Exit(1)
	}
	policy := access.NewPolicy(stakes)
	sched, err := scheduler.New(db)
	if err != nil {
		log.Error("open scheduler", "error", err.Error())
		os.Exit(1)
	}
	gov, err := governance.NewEngine(db, stakes, types.Tokens(governance.MinStakeToProposeTokens))
	if err != nil {
		log.Error("open governance engine", "error", err.Error())
		os.Exit(1)
	}

	node := core.NewNode(book, stakes, policy, sched, scheduler.StaticExecutor{}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go node.RunWorkers(ctx, cfg.WorkerCount, time.Second)

	server := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: rpc.NewServer(node, gov, log).Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("animad listening", "address", cfg.ListenAddress, "workers", cfg.WorkerCount)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server", "error", err.Error())
		os.Exit(1)
	}
	log.Info("animad stopped")
}
