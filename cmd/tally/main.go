// Command tally runs the metering core as a standalone HTTP service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	tally "github.com/otimizaads/tally"
	"github.com/otimizaads/tally/api"
	"github.com/otimizaads/tally/plan"
	"github.com/otimizaads/tally/provider"
	stripeprovider "github.com/otimizaads/tally/provider/stripe"
	"github.com/otimizaads/tally/reconciler"
	"github.com/otimizaads/tally/store"
	"github.com/otimizaads/tally/store/memory"
	"github.com/otimizaads/tally/types"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tally",
		Short:        "Entitlement and usage metering service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(seedCmd())
	return root
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			st, err := storeFromEnv()
			if err != nil {
				return err
			}

			opts := []tally.Option{
				tally.WithLogger(logger),
			}
			if slug := os.Getenv("TALLY_FREE_PLAN"); slug != "" {
				opts = append(opts, tally.WithFreePlan(slug))
			}

			var prov provider.Provider
			if key := os.Getenv("STRIPE_API_KEY"); key != "" {
				prov = stripeprovider.New(key, os.Getenv("STRIPE_WEBHOOK_SECRET"),
					stripeprovider.WithPriceSlugs(parsePriceSlugs(os.Getenv("TALLY_PRICE_SLUGS"))),
					stripeprovider.WithLogger(logger),
				)
				opts = append(opts, tally.WithProvider(prov))
			}

			core := tally.New(st, opts...)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := core.Start(ctx); err != nil {
				return fmt.Errorf("start core: %w", err)
			}
			defer core.Stop() //nolint:errcheck // shutdown path

			var rec *reconciler.Reconciler
			if prov != nil {
				rec = reconciler.New(st, prov, core.Plugins(), reconciler.WithLogger(logger))
				rec.Start()
			}

			mux := http.NewServeMux()
			api.NewHandler(core, rec, logger).RegisterRoutes(mux)
			mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
				if err := st.Ping(r.Context()); err != nil {
					http.Error(w, "store unavailable", http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
			})

			srv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutdownCancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http shutdown failed", "error", err)
			}
			if rec != nil {
				if err := rec.Stop(shutdownCtx); err != nil {
					logger.Error("reconciler drain failed", "error", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", envOr("TALLY_ADDR", ":8080"), "listen address")
	return cmd
}

// seedCmd creates the OtimizaAds plan catalog. Safe to re-run: plans that
// already exist are left untouched.
func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the default plan catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()

			st, err := storeFromEnv()
			if err != nil {
				return err
			}

			core := tally.New(st, tally.WithLogger(logger))
			ctx := cmd.Context()
			if err := core.Start(ctx); err != nil {
				return err
			}
			defer core.Stop() //nolint:errcheck // shutdown path

			for _, p := range defaultPlans() {
				if _, err := core.GetPlanBySlug(ctx, p.Slug); err == nil {
					logger.Info("plan exists, skipping", "slug", p.Slug)
					continue
				}
				if err := core.CreatePlan(tally.ContextWithActor(ctx, "seed"), p); err != nil {
					return fmt.Errorf("create plan %s: %w", p.Slug, err)
				}
				logger.Info("plan created", "slug", p.Slug)
			}
			return nil
		},
	}
}

func defaultPlans() []*plan.Plan {
	return []*plan.Plan{
		{
			Name: "Gratuito",
			Slug: "free",
			Features: map[plan.FeatureKey]int64{
				plan.FeatureGenerations: 5,
			},
			Price:    types.BRL(0),
			Interval: plan.IntervalMonthly,
		},
		{
			Name: "Básico",
			Slug: "basic",
			Features: map[plan.FeatureKey]int64{
				plan.FeatureGenerations: 50,
				plan.FeatureDiagnostics: 10,
			},
			Price:    types.BRL(4900),
			Interval: plan.IntervalMonthly,
		},
		{
			Name: "Intermediário",
			Slug: "intermediate",
			Features: map[plan.FeatureKey]int64{
				plan.FeatureGenerations:    250,
				plan.FeatureDiagnostics:    50,
				plan.FeatureFunnelAnalysis: 10,
			},
			Price:    types.BRL(9900),
			Interval: plan.IntervalMonthly,
		},
		{
			Name: "Premium",
			Slug: "premium",
			Features: map[plan.FeatureKey]int64{
				plan.FeatureGenerations:    plan.Unlimited,
				plan.FeatureDiagnostics:    plan.Unlimited,
				plan.FeatureFunnelAnalysis: plan.Unlimited,
			},
			Price:    types.BRL(19900),
			Interval: plan.IntervalMonthly,
		},
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("TALLY_LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// storeFromEnv selects the store backend. SQL backends need a *grove.DB,
// which is wired through the forge extension in embedded deployments; the
// standalone binary runs on the memory store.
func storeFromEnv() (store.Store, error) {
	// Missing .env is fine; real deployments use environment variables.
	_ = godotenv.Load() //nolint:errcheck

	switch backend := envOr("TALLY_STORE", "memory"); backend {
	case "memory":
		return memory.New(), nil
	case "sqlite", "postgres":
		return nil, fmt.Errorf("store %q requires a grove database: embed tally via the forge extension and register the database in the DI container", backend)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// parsePriceSlugs parses "price_123=basic,price_456=premium".
func parsePriceSlugs(s string) map[string]string {
	m := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if k, v, ok := strings.Cut(pair, "="); ok {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return m
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
