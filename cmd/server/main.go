package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"line-relay/internal/app"
	"line-relay/internal/config"
	"line-relay/internal/integrations/paramstore"
)

const sweepInterval = 10 * time.Minute

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "line-relay",
		Short:         "LINE webhook relay to Azure OpenAI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load(".env")
			cfg := config.FromEnv(os.Getenv)
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

			if err := serve(cmd.Context(), cfg); err != nil {
				slog.Error("server stopped", "err", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8000", "listen address (overrides ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := app.Deps{Registerer: prometheus.DefaultRegisterer}
	if cfg.ParamPrefix != "" || cfg.SessionStore == config.StoreDynamoDB {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return err
		}
		if cfg.ParamPrefix != "" {
			ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return err
			}
			if err := cfg.FillSecrets(ctx, ssmClient); err != nil {
				return err
			}
			deps.Params = ssmClient
		}
		if cfg.SessionStore == config.StoreDynamoDB {
			deps.DynamoDB = awsdynamodb.NewFromConfig(awsCfg)
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := app.New(cfg, deps)
	if err != nil {
		return err
	}
	go a.SweepSessions(ctx, sweepInterval)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(a.Handler, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.Addr, "sessionStore", cfg.SessionStore)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(webhook http.Handler, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/callback", webhook).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"status\":\"ok\"}"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}
