package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

func TestClient_PostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/echo", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["say"]})
	}))
	defer srv.Close()

	c := NewClient("test", srv.URL+"/v1/", time.Second)
	c.SetHeader("Authorization", "Bearer k")
	assert.Equal(t, srv.URL+"/v1", c.BaseURL())

	var out map[string]string
	require.NoError(t, c.PostJSON(context.Background(), "/echo", map[string]string{"say": "hi"}, &out))
	assert.Equal(t, "hi", out["echo"])
}

func TestClient_Failures(t *testing.T) {
	var status int
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	c := NewClient("test", srv.URL, time.Second)
	ctx := context.Background()

	status, body = http.StatusServiceUnavailable, "busy"
	err := c.Get(ctx, "/")
	assert.True(t, domain.IsTransient(err))

	status, body = http.StatusUnauthorized, "bad key"
	err = c.Get(ctx, "/")
	assert.False(t, domain.IsTransient(err))
	assert.Contains(t, err.Error(), "bad key")

	status, body = http.StatusOK, "{not json"
	var out struct{}
	err = c.PostJSON(ctx, "/", struct{}{}, &out)
	assert.True(t, domain.IsTransient(err))

	err = c.PostJSON(ctx, "/", func() {}, nil)
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
}

func TestVectors(t *testing.T) {
	got, err := Vectors("p", [][]float64{{1, 0}, {0, 1}}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, got)

	_, err = Vectors("p", [][]float64{{1, 0}}, 2, 2)
	assert.Error(t, err)

	_, err = Vectors("p", [][]float64{{1, 0}, nil}, 2, 2)
	assert.Error(t, err)

	_, err = Vectors("p", [][]float64{{1, 0, 0}}, 1, 2)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}
