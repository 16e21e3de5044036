package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"

	"line-relay/handler"
	"line-relay/internal/config"
	"line-relay/internal/integrations/line"
	"line-relay/internal/integrations/openai"
	"line-relay/internal/integrations/weather"
	"line-relay/internal/metrics"
	"line-relay/internal/repository"
	"line-relay/internal/usecase"
)

// Deps are the externally constructed clients the relay may need. Params is
// required only when the completion key lives in the parameter store, DynamoDB
// only for SESSION_STORE=dynamodb. A nil Registerer disables metrics.
type Deps struct {
	Params     openai.Getter
	DynamoDB   *awsdynamodb.Client
	Registerer prometheus.Registerer
}

type App struct {
	Handler *handler.Handler
	// Memory is set when sessions live in process memory.
	Memory *repository.MemoryStore
}

// New wires the relay for a validated cfg.
func New(cfg config.Config, deps Deps) (*App, error) {
	lineClient, err := line.NewClient(cfg.ChannelSecret, cfg.ChannelToken)
	if err != nil {
		return nil, fmt.Errorf("create line client: %w", err)
	}

	llmOpts := []openai.Option{
		openai.WithDeployment(cfg.OpenAIDeployment),
		openai.WithAPIVersion(cfg.OpenAIAPIVersion),
	}
	if cfg.OpenAIKey == "" && cfg.OpenAIKeyParam != "" {
		if deps.Params == nil {
			return nil, errors.New("parameter store client required for " + cfg.OpenAIKeyParam)
		}
		llmOpts = append(llmOpts, openai.WithKeyFromParamStore(deps.Params, cfg.OpenAIKeyParam))
	}
	llm, err := openai.NewClient(cfg.OpenAIEndpoint, cfg.OpenAIKey, llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("create completion client: %w", err)
	}

	weatherClient, err := weather.NewClient(cfg.WeatherKey, weather.WithLocation(cfg.WeatherLat, cfg.WeatherLon))
	if err != nil {
		return nil, fmt.Errorf("create weather client: %w", err)
	}

	a := &App{}
	var store usecase.SessionStore
	switch cfg.SessionStore {
	case config.StoreDynamoDB:
		if deps.DynamoDB == nil {
			return nil, errors.New("dynamodb client required for SESSION_STORE=dynamodb")
		}
		ddb, err := repository.New(deps.DynamoDB, cfg.SessionTable, cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("create session table client: %w", err)
		}
		store = ddb
	default:
		a.Memory = repository.NewMemoryStore(cfg.SessionTTL)
		store = a.Memory
	}

	conversation, err := usecase.NewConversationService(llm, store)
	if err != nil {
		return nil, fmt.Errorf("create conversation service: %w", err)
	}

	var m *metrics.Metrics
	if deps.Registerer != nil {
		m = metrics.New(deps.Registerer)
	}

	dispatcher, err := usecase.NewDispatcher(lineClient, weatherClient, conversation,
		usecase.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		usecase.WithObserver(m),
	)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	a.Handler, err = handler.NewHandler(lineClient, dispatcher, lineClient, handler.WithReplyRecorder(m))
	if err != nil {
		return nil, fmt.Errorf("create handler: %w", err)
	}
	return a, nil
}

// SweepSessions evicts idle in-memory sessions every interval until ctx is
// done. It returns at once for other stores.
func (a *App) SweepSessions(ctx context.Context, interval time.Duration) {
	if a.Memory == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Memory.Sweep(); n > 0 {
				slog.Debug("sessions swept", "evicted", n, "remaining", a.Memory.Len())
			}
		}
	}
}
