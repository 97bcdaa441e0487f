package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"stockfetch/internal/config"
	"stockfetch/internal/logger"
	"stockfetch/internal/market"
	"stockfetch/internal/server"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logger.Init(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	gin.SetMode(gin.ReleaseMode)

	router := server.NewRouter(publishedFiles(cfg), log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", srv.Addr, "dir", cfg.Output.Dir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "err", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

// publishedFiles lists the artifacts of the enabled universes and the
// dividends file.
func publishedFiles(cfg config.Config) server.Files {
	files := server.Files{
		Dir:    cfg.Output.Dir,
		Status: cfg.Output.StatusFile,
		Page:   cfg.Output.PageFile,
	}
	for _, u := range market.All() {
		if ucfg, _ := cfg.Universes.Get(u.Key); ucfg.Enabled {
			files.CSV = append(files.CSV, u.File)
		}
	}
	files.CSV = append(files.CSV, cfg.Dividends.File)
	return files
}
