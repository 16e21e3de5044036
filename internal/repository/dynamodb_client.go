package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"line-relay/internal/domain"
)

const (
	skTranscript = "TRANSCRIPT#"
	defaultTTL   = 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client stores one transcript item per sender in a DynamoDB table so that
// every Lambda instance sees the same conversation.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// New creates a new repository Client. A non-positive ttl selects 24h.
func New(api dynamodbAPI, tableName string, ttl time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Client{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

// senderPK returns the DynamoDB partition key for a sender.
func senderPK(senderID string) string {
	return "SENDER#" + senderID
}

// Load reads the sender's transcript. Items past their TTL are reported as
// absent because DynamoDB deletes expired items lazily.
func (c *Client) Load(ctx context.Context, senderID string) (domain.Transcript, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: senderPK(senderID)},
			"SK": &types.AttributeValueMemberS{Value: skTranscript},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, false, nil
	}

	ttl, err := intAttr(out.Item, "ttl")
	if err != nil {
		return nil, false, fmt.Errorf("repository: Load decode ttl: %w", err)
	}
	if int64(ttl) <= c.now().Unix() {
		return nil, false, nil
	}

	transcript, err := itemToTranscript(out.Item)
	if err != nil {
		return nil, false, fmt.Errorf("repository: Load unmarshal: %w", err)
	}
	return transcript, true, nil
}

// Save replaces the sender's transcript and pushes its TTL forward.
func (c *Client) Save(ctx context.Context, senderID string, t domain.Transcript) error {
	if strings.TrimSpace(senderID) == "" {
		return errors.New("repository: Save: sender id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      c.transcriptItem(senderID, t),
	})
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

func (c *Client) transcriptItem(senderID string, t domain.Transcript) map[string]types.AttributeValue {
	now := c.now().UTC()
	messages := make([]types.AttributeValue, 0, len(t))
	for _, m := range t {
		messages = append(messages, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"role":    &types.AttributeValueMemberS{Value: string(m.Role)},
			"content": &types.AttributeValueMemberS{Value: m.Content},
		}})
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: senderPK(senderID)},
		"SK":        &types.AttributeValueMemberS{Value: skTranscript},
		"senderId":  &types.AttributeValueMemberS{Value: senderID},
		"messages":  &types.AttributeValueMemberL{Value: messages},
		"updatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(c.ttl).Unix())},
	}
}

// itemToTranscript converts a DynamoDB attribute map to a Transcript.
func itemToTranscript(item map[string]types.AttributeValue) (domain.Transcript, error) {
	v, ok := item["messages"]
	if !ok {
		return nil, errors.New("repository: missing attribute \"messages\"")
	}
	list, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, errors.New("repository: attribute \"messages\" is not a list")
	}
	out := make(domain.Transcript, 0, len(list.Value))
	for i, raw := range list.Value {
		m, ok := raw.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("repository: message %d is not a map", i)
		}
		role, err := strAttr(m.Value, "role")
		if err != nil {
			return nil, fmt.Errorf("repository: message %d: %w", i, err)
		}
		content, err := strAttr(m.Value, "content")
		if err != nil {
			return nil, fmt.Errorf("repository: message %d: %w", i, err)
		}
		out = append(out, domain.ChatMessage{Role: domain.Role(role), Content: content})
	}
	return out, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
