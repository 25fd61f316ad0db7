package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"marketflow/auth"
	"marketflow/chat"
	"marketflow/config"
	"marketflow/db"
	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/order"
	"marketflow/sweeper"
	"marketflow/vault"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("bootstrap config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	accounts := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	orders := order.NewService(pool, order.NewRepository(pool)).WithHoldPeriod(cfg.HoldPeriod)
	secrets := vault.NewService(pool, vault.NewRepository(pool))
	disputes := dispute.NewService(pool, dispute.NewRepository(), chat.NewBridge())
	listings := listing.NewRepository(pool)

	sw := sweeper.New(pool, cfg.SweepInterval).WithHoldPeriod(cfg.HoldPeriod)
	go sw.Run(ctx)

	server := &Server{
		accounts: accounts,
		orders:   orders,
		vault:    secrets,
		disputes: disputes,
		listings: listings,
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}
