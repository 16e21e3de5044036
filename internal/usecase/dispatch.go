package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Branches reported to the Observer and in Result.
const (
	BranchEcho        = "echo"
	BranchChat        = "chat"
	BranchReset       = "reset"
	BranchWeather     = "weather"
	BranchRateLimited = "rate_limited"
)

type ProfileResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

type WeatherReporter interface {
	Summary(ctx context.Context) (string, error)
}

// Conversation runs a chat or reset turn the Dispatcher has already routed.
type Conversation interface {
	Apply(ctx context.Context, senderID, senderName, text string, cmd Command) (string, error)
}

// Observer receives dispatch outcomes; *metrics.Metrics satisfies it.
type Observer interface {
	EventDispatched(branch string)
	UpstreamFailed(dependency string)
}

type noopObserver struct{}

func (noopObserver) EventDispatched(string) {}
func (noopObserver) UpstreamFailed(string)  {}

// Event is one inbound text message.
type Event struct {
	UserID   string
	FromUser bool
	Text     string
}

// Result is the reply chosen for an Event. Err carries the downstream
// failure that forced a degraded reply, if any.
type Result struct {
	Reply  string
	Branch string
	Err    error
}

type Dispatcher struct {
	profiles     ProfileResolver
	weather      WeatherReporter
	conversation Conversation
	commands     map[string]Command
	limiter      *limiterPool
	obs          Observer
}

type DispatcherOption func(*Dispatcher)

// WithRateLimit caps each sender to rps messages per second with the given
// burst. A non-positive rps leaves senders unlimited.
func WithRateLimit(rps float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if rps <= 0 {
			d.limiter = nil
			return
		}
		d.limiter = &limiterPool{rps: rps, burst: burst}
	}
}

func WithObserver(obs Observer) DispatcherOption {
	return func(d *Dispatcher) {
		if obs != nil {
			d.obs = obs
		}
	}
}

// WithCommands replaces the exact-match command table.
func WithCommands(table map[string]Command) DispatcherOption {
	return func(d *Dispatcher) {
		if table != nil {
			d.commands = table
		}
	}
}

func NewDispatcher(profiles ProfileResolver, weather WeatherReporter, conversation Conversation, opts ...DispatcherOption) (*Dispatcher, error) {
	if profiles == nil {
		return nil, errors.New("usecase: profile resolver must not be nil")
	}
	if weather == nil {
		return nil, errors.New("usecase: weather reporter must not be nil")
	}
	if conversation == nil {
		return nil, errors.New("usecase: conversation must not be nil")
	}
	d := &Dispatcher{
		profiles:     profiles,
		weather:      weather,
		conversation: conversation,
		commands:     DefaultCommands,
		obs:          noopObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch picks the reply for ev. It never fails: every downstream error is
// turned into a fixed degraded reply and returned in Result.Err.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) Result {
	if !ev.FromUser {
		return d.done(Result{Reply: EchoReplyPrefix + ev.Text, Branch: BranchEcho})
	}
	if d.limiter != nil && !d.limiter.allow(ev.UserID) {
		return d.done(Result{Reply: RateLimitedReply, Branch: BranchRateLimited})
	}

	name, err := d.profiles.DisplayName(ctx, ev.UserID)
	if err != nil {
		d.obs.UpstreamFailed("profile")
		return d.done(Result{
			Reply:  ProfileDegraded,
			Branch: LookupCommand(d.commands, ev.Text).String(),
			Err:    newError(ErrorProfileLookupFailed, "profile_error", err),
		})
	}

	switch cmd := LookupCommand(d.commands, ev.Text); cmd {
	case CommandWeather:
		summary, err := d.weather.Summary(ctx)
		if err != nil {
			d.obs.UpstreamFailed("weather")
			return d.done(Result{
				Reply:  WeatherDegraded,
				Branch: BranchWeather,
				Err:    newError(ErrorWeatherUnavailable, "weather_error", err),
			})
		}
		return d.done(Result{Reply: summary, Branch: BranchWeather})
	default:
		reply, err := d.conversation.Apply(ctx, ev.UserID, name, ev.Text, cmd)
		if err != nil {
			var ucErr *Error
			if errors.As(err, &ucErr) && ucErr.Code == ErrorCompletionUnavailable {
				d.obs.UpstreamFailed("completion")
			} else {
				d.obs.UpstreamFailed("session")
			}
			return d.done(Result{Reply: CompletionDegraded, Branch: cmd.String(), Err: err})
		}
		return d.done(Result{Reply: reply, Branch: cmd.String()})
	}
}

func (d *Dispatcher) done(r Result) Result {
	d.obs.EventDispatched(r.Branch)
	if r.Err != nil {
		slog.Warn("dispatch degraded", "branch", r.Branch, "err", r.Err)
	}
	return r
}

type limiterPool struct {
	rps   float64
	burst int

	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	burst := p.burst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(p.rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) allow(key string) bool {
	return p.get(key).Allow()
}
