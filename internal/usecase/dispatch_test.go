package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockProfiles struct {
	name  string
	err   error
	calls int
}

func (m *mockProfiles) DisplayName(_ context.Context, _ string) (string, error) {
	m.calls++
	return m.name, m.err
}

type mockWeather struct {
	summary string
	err     error
	calls   int
}

func (m *mockWeather) Summary(_ context.Context) (string, error) {
	m.calls++
	return m.summary, m.err
}

type mockConversation struct {
	reply  string
	err    error
	calls  int
	sender string
	name   string
	text   string
	cmd    Command
}

func (m *mockConversation) Apply(_ context.Context, senderID, senderName, text string, cmd Command) (string, error) {
	m.calls++
	m.sender, m.name, m.text, m.cmd = senderID, senderName, text, cmd
	return m.reply, m.err
}

type countingObserver struct {
	branches map[string]int
	failures map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{branches: map[string]int{}, failures: map[string]int{}}
}

func (o *countingObserver) EventDispatched(branch string)    { o.branches[branch]++ }
func (o *countingObserver) UpstreamFailed(dependency string) { o.failures[dependency]++ }

type fixture struct {
	profiles *mockProfiles
	weather  *mockWeather
	conv     *mockConversation
	obs      *countingObserver
	d        *Dispatcher
}

func newFixture(t *testing.T, opts ...DispatcherOption) *fixture {
	t.Helper()
	f := &fixture{
		profiles: &mockProfiles{name: "Alice"},
		weather:  &mockWeather{summary: "現在の天気はclear skyで、気温は21.5度やで。"},
		conv:     &mockConversation{reply: "やあ"},
		obs:      newCountingObserver(),
	}
	d, err := NewDispatcher(f.profiles, f.weather, f.conv, append([]DispatcherOption{WithObserver(f.obs)}, opts...)...)
	require.NoError(t, err)
	f.d = d
	return f
}

func userEvent(text string) Event {
	return Event{UserID: "U1", FromUser: true, Text: text}
}

func TestNewDispatcher_ValidatesDependencies(t *testing.T) {
	_, err := NewDispatcher(nil, &mockWeather{}, &mockConversation{})
	require.Error(t, err)
	_, err = NewDispatcher(&mockProfiles{}, nil, &mockConversation{})
	require.Error(t, err)
	_, err = NewDispatcher(&mockProfiles{}, &mockWeather{}, nil)
	require.Error(t, err)
}

func TestDispatch_NonUserSourceEchoes(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{"天気", "リセット", "hello"} {
		res := f.d.Dispatch(context.Background(), Event{Text: text})
		require.Equal(t, "Received message: "+text, res.Reply)
		require.Equal(t, BranchEcho, res.Branch)
		require.NoError(t, res.Err)
	}
	require.Zero(t, f.profiles.calls)
	require.Zero(t, f.weather.calls)
	require.Zero(t, f.conv.calls)
	require.Equal(t, 3, f.obs.branches[BranchEcho])
}

func TestDispatch_WeatherKeyword(t *testing.T) {
	f := newFixture(t)
	res := f.d.Dispatch(context.Background(), userEvent("天気"))
	require.Equal(t, f.weather.summary, res.Reply)
	require.Equal(t, BranchWeather, res.Branch)
	require.Equal(t, 1, f.profiles.calls)
	require.Zero(t, f.conv.calls)
}

func TestDispatch_WeatherNeedsExactMatch(t *testing.T) {
	for _, text := range []string{"天気は?", " 天気", "天気 ", "今日の天気"} {
		f := newFixture(t)
		res := f.d.Dispatch(context.Background(), userEvent(text))
		require.Equal(t, BranchChat, res.Branch, "text=%q", text)
		require.Zero(t, f.weather.calls)
		require.Equal(t, text, f.conv.text)
	}
}

func TestDispatch_ChatUsesResolvedName(t *testing.T) {
	f := newFixture(t)
	res := f.d.Dispatch(context.Background(), userEvent("こんにちは"))
	require.Equal(t, "やあ", res.Reply)
	require.Equal(t, "U1", f.conv.sender)
	require.Equal(t, "Alice", f.conv.name)
	require.Equal(t, 1, f.obs.branches[BranchChat])
}

func TestDispatch_ResetGoesThroughConversation(t *testing.T) {
	f := newFixture(t)
	f.conv.reply = ResetReply
	res := f.d.Dispatch(context.Background(), userEvent("clear"))
	require.Equal(t, ResetReply, res.Reply)
	require.Equal(t, BranchReset, res.Branch)
	require.Equal(t, 1, f.conv.calls)
	require.Equal(t, CommandReset, f.conv.cmd)
}

func TestDispatch_DegradedReplies(t *testing.T) {
	t.Run("profile", func(t *testing.T) {
		f := newFixture(t)
		f.profiles.err = errors.New("404")
		res := f.d.Dispatch(context.Background(), userEvent("天気"))
		require.Equal(t, ProfileDegraded, res.Reply)
		expectError(t, res.Err, ErrorProfileLookupFailed, "profile_error")
		require.Zero(t, f.weather.calls)
		require.Equal(t, 1, f.obs.failures["profile"])
	})
	t.Run("weather", func(t *testing.T) {
		f := newFixture(t)
		f.weather.err = errors.New("missing main.temp")
		res := f.d.Dispatch(context.Background(), userEvent("天気"))
		require.Equal(t, WeatherDegraded, res.Reply)
		expectError(t, res.Err, ErrorWeatherUnavailable, "weather_error")
		require.Equal(t, 1, f.obs.failures["weather"])
	})
	t.Run("completion", func(t *testing.T) {
		f := newFixture(t)
		f.conv.err = newError(ErrorCompletionUnavailable, "completion_error", errors.New("503"))
		res := f.d.Dispatch(context.Background(), userEvent("hi"))
		require.Equal(t, CompletionDegraded, res.Reply)
		expectError(t, res.Err, ErrorCompletionUnavailable, "completion_error")
		require.Equal(t, 1, f.obs.failures["completion"])
	})
	t.Run("session", func(t *testing.T) {
		f := newFixture(t)
		f.conv.err = newError(ErrorInternal, "session_save_error", errors.New("throttled"))
		res := f.d.Dispatch(context.Background(), userEvent("hi"))
		require.Equal(t, CompletionDegraded, res.Reply)
		require.Equal(t, 1, f.obs.failures["session"])
	})
}

func TestDispatch_RateLimitPerSender(t *testing.T) {
	f := newFixture(t, WithRateLimit(0.001, 2))

	require.Equal(t, BranchChat, f.d.Dispatch(context.Background(), userEvent("1")).Branch)
	require.Equal(t, BranchChat, f.d.Dispatch(context.Background(), userEvent("2")).Branch)
	res := f.d.Dispatch(context.Background(), userEvent("3"))
	require.Equal(t, BranchRateLimited, res.Branch)
	require.Equal(t, RateLimitedReply, res.Reply)
	require.Equal(t, 2, f.conv.calls)

	other := f.d.Dispatch(context.Background(), Event{UserID: "U2", FromUser: true, Text: "hi"})
	require.Equal(t, BranchChat, other.Branch)
}

func TestDispatch_RateLimitDisabled(t *testing.T) {
	f := newFixture(t, WithRateLimit(0, 0))
	for i := 0; i < 20; i++ {
		require.Equal(t, BranchChat, f.d.Dispatch(context.Background(), userEvent("hi")).Branch)
	}
}

func TestDispatch_CustomCommandTable(t *testing.T) {
	f := newFixture(t, WithCommands(map[string]Command{"weather": CommandWeather}))
	require.Equal(t, BranchWeather, f.d.Dispatch(context.Background(), userEvent("weather")).Branch)
	require.Equal(t, BranchChat, f.d.Dispatch(context.Background(), userEvent("天気")).Branch)
}

func TestDispatch_CustomResetKeywordResetsTranscript(t *testing.T) {
	store := newMockStore()
	llm := &mockLLM{answer: "llm"}
	svc, err := NewConversationService(llm, store)
	require.NoError(t, err)
	d, err := NewDispatcher(&mockProfiles{name: "Alice"}, &mockWeather{}, svc,
		WithCommands(map[string]Command{"はじめから": CommandReset, "天気": CommandWeather}))
	require.NoError(t, err)

	require.Equal(t, "llm", d.Dispatch(context.Background(), userEvent("hi")).Reply)
	require.Len(t, store.get("U1"), 5)

	res := d.Dispatch(context.Background(), userEvent("はじめから"))
	require.Equal(t, BranchReset, res.Branch)
	require.Equal(t, ResetReply, res.Reply)
	require.Equal(t, Initialize("Alice"), store.get("U1"))
	require.Equal(t, 1, llm.calls)

	res = d.Dispatch(context.Background(), userEvent("reset"))
	require.Equal(t, BranchChat, res.Branch, "keywords outside the table are chat")
	require.Len(t, store.get("U1"), 5)
	require.Equal(t, 2, llm.calls)
}

func TestLookupCommand(t *testing.T) {
	require.Equal(t, CommandWeather, LookupCommand(DefaultCommands, "天気"))
	require.Equal(t, CommandReset, LookupCommand(DefaultCommands, "キャンセル"))
	require.Equal(t, CommandChat, LookupCommand(DefaultCommands, "CLEAR"))
	require.Equal(t, CommandChat, LookupCommand(nil, "天気"))
}
