package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"line-relay/internal/domain"
)

type LLMClient interface {
	Chat(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

type SessionStore interface {
	Load(ctx context.Context, senderID string) (domain.Transcript, bool, error)
	Save(ctx context.Context, senderID string, t domain.Transcript) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Step applies one inbound text to t and returns the next transcript and the
// reply. CommandReset yields a fresh seed transcript; any other command adds
// exactly one user and one assistant message. On error t is returned as is,
// so a failed completion never leaves the user's text behind.
func Step(ctx context.Context, llm LLMClient, t domain.Transcript, senderName, text string, cmd Command) (domain.Transcript, string, error) {
	if cmd == CommandReset {
		return Initialize(senderName), ResetReply, nil
	}
	if len(t) == 0 {
		t = Initialize(senderName)
	}

	next := append(t.Clone(), domain.ChatMessage{Role: domain.RoleUser, Content: text})
	answer, err := llm.Chat(ctx, next)
	if err != nil {
		reason := "completion_error"
		if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
			reason = "completion_rate_limited"
		}
		return t, "", newError(ErrorCompletionUnavailable, reason, err)
	}
	next = append(next, domain.ChatMessage{Role: domain.RoleAssistant, Content: answer})
	return next, answer, nil
}

// ConversationService keeps one transcript per sender.
type ConversationService struct {
	llm   LLMClient
	store SessionStore
	locks keyedMutex
}

func NewConversationService(llm LLMClient, store SessionStore) (*ConversationService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	return &ConversationService{llm: llm, store: store}, nil
}

// Converse runs one conversational turn for senderID, treating the default
// reset keywords as a reset.
func (s *ConversationService) Converse(ctx context.Context, senderID, senderName, text string) (string, error) {
	return s.Apply(ctx, senderID, senderName, text, LookupCommand(DefaultCommands, text))
}

// Apply runs one turn for senderID with an already resolved command. Turns
// for the same sender are serialized; different senders proceed independently.
func (s *ConversationService) Apply(ctx context.Context, senderID, senderName, text string, cmd Command) (string, error) {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return "", newError(ErrorInvalidInput, "empty_sender", nil)
	}

	unlock := s.locks.lock(senderID)
	defer unlock()

	var current domain.Transcript
	if cmd != CommandReset {
		t, ok, err := s.store.Load(ctx, senderID)
		if err != nil {
			return "", newError(ErrorInternal, "session_load_error", err)
		}
		if ok {
			current = t
		}
	}

	next, reply, err := Step(ctx, s.llm, current, senderName, text, cmd)
	if err != nil {
		return "", err
	}
	if err := s.store.Save(ctx, senderID, next); err != nil {
		return "", newError(ErrorInternal, "session_save_error", err)
	}
	return reply, nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
