package paramstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut  *ssm.GetParameterOutput
	getErr  error
	values  map[string]string
	multErr error
	batches [][]string
}

func (f *fakeAPI) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.getOut, f.getErr
}

func (f *fakeAPI) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	f.batches = append(f.batches, in.Names)
	if f.multErr != nil {
		return nil, f.multErr
	}
	out := &ssm.GetParametersOutput{}
	for _, n := range in.Names {
		v, ok := f.values[n]
		if !ok {
			out.InvalidParameters = append(out.InvalidParameters, n)
			continue
		}
		out.Parameters = append(out.Parameters, types.Parameter{Name: strPtr(n), Value: strPtr(v)})
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr("secret"), Type: types.ParameterTypeSecureString,
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "secret", v)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p")}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	client, err := New(&fakeAPI{getErr: errors.New("boom")})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")

	_, err = (&Client{}).GetParameters(context.Background(), []string{"p"})
	require.ErrorContains(t, err, "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}

func TestGetParameters_BatchesByTen(t *testing.T) {
	api := &fakeAPI{values: map[string]string{}}
	var names []string
	for i := 0; i < 12; i++ {
		n := fmt.Sprintf("/relay/p%d", i)
		names = append(names, n)
		api.values[n] = fmt.Sprintf("v%d", i)
	}
	client, err := New(api)
	require.NoError(t, err)

	got, err := client.GetParameters(context.Background(), append(names, " "))
	require.NoError(t, err)
	require.Len(t, got, 12)
	require.Equal(t, "v11", got["/relay/p11"])
	require.Len(t, api.batches, 2)
	require.Len(t, api.batches[0], 10)
	require.Len(t, api.batches[1], 2)
}

func TestGetParameters_InvalidNames(t *testing.T) {
	api := &fakeAPI{values: map[string]string{"/relay/a": "1"}}
	client, err := New(api)
	require.NoError(t, err)

	_, err = client.GetParameters(context.Background(), []string{"/relay/a", "/relay/z", "/relay/b"})
	require.ErrorContains(t, err, "unknown parameters: /relay/b, /relay/z")
}

func TestGetParameters_ApiError(t *testing.T) {
	client, err := New(&fakeAPI{multErr: errors.New("throttled")})
	require.NoError(t, err)
	_, err = client.GetParameters(context.Background(), []string{"/relay/a"})
	require.ErrorContains(t, err, "throttled")
}
