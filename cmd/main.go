package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"line-relay/internal/app"
	"line-relay/internal/config"
	"line-relay/internal/integrations/paramstore"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg := config.FromEnv(os.Getenv)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	if err := cfg.FillSecrets(ctx, ssmClient); err != nil {
		slog.Error("failed to read secrets", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	a, err := app.New(cfg, lambdaDeps(cfg, awsCfg, ssmClient))
	if err != nil {
		slog.Error("failed to build relay", "err", err)
		os.Exit(1)
	}

	slog.Info("relay ready", "sessionStore", cfg.SessionStore, "deployment", cfg.OpenAIDeployment)
	lambda.Start(a.Handler.Handle)
}

// lambdaDeps leaves metrics off: a Lambda has no /metrics route to scrape.
func lambdaDeps(cfg config.Config, awsCfg aws.Config, params *paramstore.Client) app.Deps {
	var deps app.Deps
	if params != nil {
		deps.Params = params
	}
	if cfg.SessionStore == config.StoreDynamoDB {
		deps.DynamoDB = awsdynamodb.NewFromConfig(awsCfg)
	}
	return deps
}
