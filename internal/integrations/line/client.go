package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

// SignatureHeader is the request header carrying the webhook body signature.
const SignatureHeader = "X-Line-Signature"

var (
	ErrInvalidSignature = errors.New("line: invalid signature")
	ErrMalformedPayload = errors.New("line: malformed webhook payload")
)

// TextEvent is a text message event reduced to the fields the relay consumes.
type TextEvent struct {
	ReplyToken string
	// UserID is set only when FromUser is true.
	UserID string
	// FromUser reports whether the source is a one-to-one user chat, the only
	// source from which a profile can be resolved.
	FromUser bool
	Text     string
}

// messagingAPI is the minimal Messaging API surface required by Client.
// *messaging_api.MessagingApiAPI satisfies this interface.
type messagingAPI interface {
	GetProfile(userId string) (*messaging_api.UserProfileResponse, error)
	ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error)
}

// Client verifies webhook deliveries and talks to the Messaging API.
type Client struct {
	channelSecret string
	api           messagingAPI
}

// NewClient builds a Client backed by the LINE Messaging API.
func NewClient(channelSecret, accessToken string) (*Client, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("line: channel access token must not be empty")
	}
	api, err := messaging_api.NewMessagingApiAPI(accessToken)
	if err != nil {
		return nil, fmt.Errorf("line: create messaging api: %w", err)
	}
	return newClient(channelSecret, api)
}

func newClient(channelSecret string, api messagingAPI) (*Client, error) {
	if strings.TrimSpace(channelSecret) == "" {
		return nil, errors.New("line: channel secret must not be empty")
	}
	if api == nil {
		return nil, errors.New("line: api must not be nil")
	}
	return &Client{channelSecret: channelSecret, api: api}, nil
}

// Verify checks the HMAC-SHA256 signature of body.
func (c *Client) Verify(signature string, body []byte) error {
	if strings.TrimSpace(signature) == "" {
		return fmt.Errorf("%w: missing %s", ErrInvalidSignature, SignatureHeader)
	}
	if !webhook.ValidateSignature(c.channelSecret, signature, body) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseEvents verifies body and returns its text message events in delivery
// order. Every other event or message kind is dropped.
func (c *Client) ParseEvents(signature string, body []byte) ([]TextEvent, error) {
	if err := c.Verify(signature, body); err != nil {
		return nil, err
	}

	var cb webhook.CallbackRequest
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	out := make([]TextEvent, 0, len(cb.Events))
	for _, ev := range cb.Events {
		msgEvent, ok := ev.(webhook.MessageEvent)
		if !ok {
			continue
		}
		text, ok := msgEvent.Message.(webhook.TextMessageContent)
		if !ok {
			continue
		}
		te := TextEvent{ReplyToken: msgEvent.ReplyToken, Text: text.Text}
		if user, ok := msgEvent.Source.(webhook.UserSource); ok {
			te.FromUser = true
			te.UserID = user.UserId
		}
		out = append(out, te)
	}
	return out, nil
}

// DisplayName resolves a user's profile display name.
func (c *Client) DisplayName(_ context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("line: user id is required")
	}
	profile, err := c.api.GetProfile(userID)
	if err != nil {
		return "", fmt.Errorf("line: get profile: %w", err)
	}
	if profile == nil {
		return "", errors.New("line: get profile: empty response")
	}
	return profile.DisplayName, nil
}

// Reply sends one text message using a single-use reply token.
func (c *Client) Reply(_ context.Context, replyToken, text string) error {
	if strings.TrimSpace(replyToken) == "" {
		return errors.New("line: reply token is required")
	}
	_, err := c.api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	})
	if err != nil {
		return fmt.Errorf("line: reply message: %w", err)
	}
	return nil
}
