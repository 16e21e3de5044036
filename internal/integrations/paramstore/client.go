package paramstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSM rejects GetParameters calls naming more than ten parameters.
const maxBatch = 10

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParameters(ctx context.Context, in *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// Getter is the interface that wraps GetParameter.
// Consumers (e.g. the completion client) should depend on this interface rather
// than the concrete *Client so they remain testable without real AWS calls.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for decrypted secret retrieval.
type Client struct {
	api ssmAPI
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}

// GetParameters fetches several parameters, batching to the SSM limit.
// Names SSM reports as invalid are returned together in one error.
func (c *Client) GetParameters(ctx context.Context, names []string) (map[string]string, error) {
	if c.api == nil {
		return nil, errors.New("paramstore: client not initialized")
	}
	wanted := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			wanted = append(wanted, n)
		}
	}

	values := make(map[string]string, len(wanted))
	var invalid []string
	for start := 0; start < len(wanted); start += maxBatch {
		end := min(start+maxBatch, len(wanted))
		out, err := c.api.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          wanted[start:end],
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("paramstore: get parameters: %w", err)
		}
		if out == nil {
			continue
		}
		for _, p := range out.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}
			values[*p.Name] = *p.Value
		}
		invalid = append(invalid, out.InvalidParameters...)
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, fmt.Errorf("paramstore: unknown parameters: %s", strings.Join(invalid, ", "))
	}
	return values, nil
}
