package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"line-relay/internal/integrations/line"
	"line-relay/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20
)

// EventParser verifies a webhook delivery and extracts its text events.
type EventParser interface {
	ParseEvents(signature string, body []byte) ([]line.TextEvent, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev usecase.Event) usecase.Result
}

type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// ReplyRecorder is told the outcome of every reply call.
type ReplyRecorder interface {
	ReplySent(err error)
}

type Handler struct {
	parser     EventParser
	dispatcher Dispatcher
	replier    Replier
	recorder   ReplyRecorder
}

type Option func(*Handler)

func WithReplyRecorder(r ReplyRecorder) Option {
	return func(h *Handler) {
		if r != nil {
			h.recorder = r
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(parser EventParser, dispatcher Dispatcher, replier Replier, opts ...Option) (*Handler, error) {
	if parser == nil {
		return nil, errors.New("handler: event parser must not be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("handler: dispatcher must not be nil")
	}
	if replier == nil {
		return nil, errors.New("handler: replier must not be nil")
	}
	h := &Handler{parser: parser, dispatcher: dispatcher, replier: replier}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves API Gateway proxy requests in Lambda.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return toProxyResponse(http.StatusBadRequest, errorBody(usecase.ErrorInvalidInput), correlationID), nil
		}
		body = decoded
	}

	status, out := h.Process(ctx, correlationID, headerValue(req.Headers, line.SignatureHeader), body)
	return toProxyResponse(status, out, correlationID), nil
}

// ServeHTTP serves the webhook over net/http.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get(correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set(correlationHeader, correlationID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeResponse(w, http.StatusBadRequest, errorBody(usecase.ErrorInvalidInput))
		return
	}

	status, out := h.Process(r.Context(), correlationID, r.Header.Get(line.SignatureHeader), body)
	writeResponse(w, status, out)
}

// Process verifies and parses one delivery, then dispatches and replies to
// each text event in order. Once the signature checks out the result is
// always 200 "OK"; dispatch and reply failures are logged, not surfaced.
func (h *Handler) Process(ctx context.Context, correlationID, signature string, body []byte) (int, string) {
	logger := slog.With("correlationId", correlationID)
	logger.Debug("webhook received", "body", string(body))

	evs, err := h.parser.ParseEvents(signature, body)
	if err != nil {
		if errors.Is(err, line.ErrInvalidSignature) {
			logger.Warn("webhook rejected", "err", err)
			return http.StatusBadRequest, errorBody(usecase.ErrorSignatureInvalid)
		}
		logger.Warn("webhook malformed", "err", err)
		return http.StatusBadRequest, errorBody(usecase.ErrorInvalidInput)
	}

	for _, ev := range evs {
		res := h.dispatcher.Dispatch(ctx, usecase.Event{UserID: ev.UserID, FromUser: ev.FromUser, Text: ev.Text})
		err := h.replier.Reply(ctx, ev.ReplyToken, res.Reply)
		if h.recorder != nil {
			h.recorder.ReplySent(err)
		}
		if err != nil {
			logger.Error("reply failed", "branch", res.Branch, "err", err)
			continue
		}
		logger.Info("replied", "branch", res.Branch, "degraded", res.Err != nil)
	}
	return http.StatusOK, "OK"
}

func errorBody(code usecase.ErrorCode) string {
	b, _ := json.Marshal(errorResponse{Error: string(code)})
	return string(b)
}

func contentType(body string) string {
	if strings.HasPrefix(body, "{") {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

func toProxyResponse(status int, body, correlationID string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    contentType(body),
			correlationHeader: correlationID,
		},
		Body: body,
	}
}

func writeResponse(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", contentType(body))
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// headerValue looks key up case-insensitively; API Gateway keeps client casing.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
