package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	pages  []*ssm.GetParametersByPathOutput
	paths  []string
}

func (f *fakeAPI) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.getOut, f.getErr
}

func (f *fakeAPI) GetParametersByPath(_ context.Context, in *ssm.GetParametersByPathInput, _ ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.paths = append(f.paths, *in.Path)
	idx := 0
	if in.NextToken != nil {
		idx = 1
	}
	return f.pages[idx], nil
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr("sk-123"),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "sk-123", v)
}

func TestGetParameter_NotFound(t *testing.T) {
	api := &fakeAPI{getErr: &types.ParameterNotFound{}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_ApiError(t *testing.T) {
	client, err := New(&fakeAPI{getErr: errors.New("boom")})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p")}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")
}

func TestGetByPrefix_PaginatesAndStripsPrefix(t *testing.T) {
	api := &fakeAPI{pages: []*ssm.GetParametersByPathOutput{
		{
			Parameters: []types.Parameter{{Name: strPtr("/seylane/OPENAI_API_KEY"), Value: strPtr("sk-1")}},
			NextToken:  strPtr("more"),
		},
		{
			Parameters: []types.Parameter{
				{Name: strPtr("/seylane/WOOCOMMERCE_URL"), Value: strPtr("https://shop.example")},
				{Name: strPtr("/seylane/broken")},
			},
		},
	}}
	client, err := New(api)
	require.NoError(t, err)

	got, err := client.GetByPrefix(context.Background(), "seylane/")
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"OPENAI_API_KEY":  "sk-1",
		"WOOCOMMERCE_URL": "https://shop.example",
	}, got)
	require.Equal(t, []string{"/seylane", "/seylane"}, api.paths)
}

func TestClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
	_, err = (&Client{}).GetByPrefix(context.Background(), "/p")
	require.ErrorContains(t, err, "not initialized")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}
