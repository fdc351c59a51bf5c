package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"fpe_random_id/bi_internal"
	"fpe_random_id/common"
	"fpe_random_id/models"
)

func main() {
	log, err := common.NewLogger(common.EnvOr("LOG_LEVEL", "info"), common.EnvBool("LOG_DEVELOPMENT", false))
	if err != nil {
		panic("logger: " + err.Error())
	}
	defer log.Sync()

	cfg, err := common.LoadConfig()
	if err != nil {
		log.Fatalw("config", "error", err)
	}

	opts := bi_internal.Options{Log: log}

	// Ledger is optional: without DATABASE_URL ids are served but not recorded
	var store *models.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalw("open db", "error", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Minute * 15)
		defer db.Close()

		if err = db.Ping(); err != nil {
			log.Fatalw("ping db", "error", err)
		}
		if err := common.RunMigrations(db, log, cfg.MigrationsPath); err != nil {
			log.Fatalw("migration failed", "error", err)
		}
		store = models.NewStore(db)
		opts.Ledger = store
	} else {
		log.Warnw("DATABASE_URL not set, running without issuance ledger")
	}

	cache, cerr := bi_internal.NewCacheFromEnv(log)
	if cerr != nil {
		log.Warnw("redis init failed, running without cache", "error", cerr)
	} else {
		defer cache.Close()
		opts.Cache = cache
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		if err := cache.PreloadFromStore(ctx, store); err != nil {
			log.Warnw("cache preload failed", "error", err)
		}
		cancel()
	}

	srv, err := bi_internal.NewServer(cfg, opts)
	clear(cfg.Key)
	if err != nil {
		log.Fatalw("server init", "error", err)
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(cfg.APIKey),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("starting server", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("listen", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Errorw("shutdown", "error", err)
	}
}
