package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phonginreallife/autoanswer/handlers"
	"github.com/phonginreallife/autoanswer/internal/config"
	"github.com/phonginreallife/autoanswer/router"
	"github.com/phonginreallife/autoanswer/services"
	"github.com/phonginreallife/autoanswer/workers"
)

var (
	serveAPI     bool
	serveWorkers bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(serveAPI, serveWorkers)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the answer and token workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(false, true)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)

	serveCmd.Flags().BoolVar(&serveAPI, "api", true, "Serve the HTTP API")
	serveCmd.Flags().BoolVar(&serveWorkers, "workers", true, "Run the answer and token workers")
}

func runServe(withAPI, withWorkers bool) error {
	if !withAPI && !withWorkers {
		return errors.New("nothing to run: both --api and --workers are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var wg sync.WaitGroup
	var answerWorker *workers.AnswerWorker

	if withWorkers {
		if config.App.Marketplace.SellerID == "" {
			return errors.New("marketplace.seller_id (MARKETPLACE_SELLER_ID) is required to run workers")
		}

		ruleStore := services.NewRuleStore(a.PG)
		engine := services.NewDecisionEngine(ruleStore, a.Clock, config.App.Location())
		answerWorker = workers.NewAnswerWorker(a.Client, a.Monitor, engine, services.NewOutcomeStore(a.PG), a.Clock,
			config.App.PollInterval(), config.App.RecoveryInterval())
		tokenWorker := workers.NewTokenWorker(a.Monitor, a.Clock, config.App.TokenCheckInterval())

		wg.Add(2)
		go func() {
			defer wg.Done()
			log.Println("Starting token worker...")
			tokenWorker.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			log.Println("Starting answer worker...")
			answerWorker.Run(ctx)
		}()
	}

	var srv *http.Server
	if withAPI {
		auth := services.NewAdminAuthService(config.App.Auth.JWTSecret, config.App.Auth.AdminPasswordHash, a.Clock)
		deps := router.Dependencies{
			Auth:         handlers.NewAuthHandler(auth),
			Token:        handlers.NewTokenHandler(a.Monitor, nil),
			HealthChecks: healthChecks(a),
		}
		if answerWorker != nil {
			deps.Token.Worker = answerWorker
		}

		srv = &http.Server{
			Addr:              ":" + config.App.Port,
			Handler:           router.NewGinRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("API listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("API server failed: %v", err)
				stop()
			}
		}()
	}

	log.Println("Started successfully. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Println("Shutting down...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("API shutdown error: %v", err)
		}
	}

	wg.Wait()
	return nil
}

func healthChecks(a *app) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"postgres": a.PG.PingContext,
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	checks["token"] = func(context.Context) error {
		switch status := a.Monitor.Status(); status {
		case services.TokenStatusValid, services.TokenStatusNearExpiry:
			return nil
		default:
			return fmt.Errorf("token %s", status)
		}
	}
	return checks
}
