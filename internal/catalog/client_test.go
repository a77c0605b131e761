package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/commercekit/ordercore/pkg/errors"
)

type doerFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f doerFunc) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestClient_GetVariant_Success(t *testing.T) {
	var gotURL string
	doer := doerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		gotURL = req.URL.String()
		return jsonResponse(http.StatusOK,
			`{"data":{"product_id":"prod-001","variant_id":"var-001","name":"Widget","sku":"WDG-001","price":5000,"currency":"USD","active":true}}`,
		), nil
	})

	c := NewClient("http://catalog:8080", doer)
	v, err := c.GetVariant(context.Background(), "var-001")
	require.NoError(t, err)
	assert.Equal(t, "http://catalog:8080/api/v1/variants/var-001", gotURL)
	assert.Equal(t, "WDG-001", v.SKU)
	assert.Equal(t, int64(5000), v.Price)
	assert.True(t, v.Active)
}

func TestClient_GetVariant_NotFound(t *testing.T) {
	doer := doerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound,
			`{"error":{"code":"NOT_FOUND","message":"variant not found"}}`,
		), nil
	})

	c := NewClient("http://catalog:8080", doer)
	v, err := c.GetVariant(context.Background(), "missing")
	assert.Nil(t, v)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestClient_GetVariant_TransportError(t *testing.T) {
	doer := doerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	c := NewClient("http://catalog:8080", doer)
	v, err := c.GetVariant(context.Background(), "var-001")
	assert.Nil(t, v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call catalog")
}

func TestClient_GetVariant_EscapesVariantID(t *testing.T) {
	var gotPath string
	doer := doerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		gotPath = req.URL.EscapedPath()
		return jsonResponse(http.StatusOK, `{"data":{"variant_id":"a/b"}}`), nil
	})

	c := NewClient("http://catalog:8080", doer)
	_, err := c.GetVariant(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/variants/a%2Fb", gotPath)
}
