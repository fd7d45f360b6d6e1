package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnigen-api/internal/config"
	"omnigen-api/internal/domain/entity"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline exceeded", context.DeadlineExceeded, ErrorKindTimeout},
		{"cancelled", context.Canceled, ErrorKindTimeout},
		{"timeout in message", errors.New("request timeout after 30s"), ErrorKindTimeout},
		{"rate limited", errors.New("rate limit exceeded"), ErrorKindRateLimited},
		{"http 429", errors.New("unexpected status 429"), ErrorKindRateLimited},
		{"invalid input", errors.New("invalid prompt format"), ErrorKindInvalidInput},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorKindUnavailable},
		{"unknown", errors.New("something odd"), ErrorKindInternal},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestStatusToErrorKind(t *testing.T) {
	assert.Equal(t, "", statusToErrorKind(200))
	assert.Equal(t, "", statusToErrorKind(204))
	assert.Equal(t, ErrorKindTimeout, statusToErrorKind(http.StatusRequestTimeout))
	assert.Equal(t, ErrorKindTimeout, statusToErrorKind(http.StatusGatewayTimeout))
	assert.Equal(t, ErrorKindRateLimited, statusToErrorKind(http.StatusTooManyRequests))
	assert.Equal(t, ErrorKindInvalidInput, statusToErrorKind(http.StatusBadRequest))
	assert.Equal(t, ErrorKindInvalidInput, statusToErrorKind(http.StatusForbidden))
	assert.Equal(t, ErrorKindUnavailable, statusToErrorKind(http.StatusServiceUnavailable))
	assert.Equal(t, ErrorKindUnavailable, statusToErrorKind(http.StatusInternalServerError))
}

func TestHTTPAdapterInvoke(t *testing.T) {
	t.Run("envelope response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req httpRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "job-1", req.JobID)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

			json.NewEncoder(w).Encode(httpResponse{Success: true, Payload: json.RawMessage(`{"url":"https://cdn/x.mp4"}`)})
		}))
		defer srv.Close()

		adapter := NewHTTPAdapter("media", config.ProviderConfig{BaseURL: srv.URL, APIKey: "secret"})
		env := adapter.Invoke(context.Background(), &Invocation{
			JobID:      "job-1",
			Capability: string(entity.CapabilityVideo),
			Input:      json.RawMessage(`{"prompt":"a cat"}`),
		}, nil)

		require.True(t, env.Success)
		assert.JSONEq(t, `{"url":"https://cdn/x.mp4"}`, string(env.Payload))
	})

	t.Run("raw 2xx body becomes payload", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"frames":42}`))
		}))
		defer srv.Close()

		adapter := NewHTTPAdapter("media", config.ProviderConfig{BaseURL: srv.URL})
		env := adapter.Invoke(context.Background(), &Invocation{JobID: "job-1"}, nil)

		require.True(t, env.Success)
		assert.JSONEq(t, `{"frames":42}`, string(env.Payload))
	})

	t.Run("429 maps to rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		adapter := NewHTTPAdapter("media", config.ProviderConfig{BaseURL: srv.URL})
		env := adapter.Invoke(context.Background(), &Invocation{JobID: "job-1"}, nil)

		require.False(t, env.Success)
		assert.Equal(t, ErrorKindRateLimited, env.ErrorKind)
	})

	t.Run("connection failure never panics", func(t *testing.T) {
		adapter := NewHTTPAdapter("media", config.ProviderConfig{BaseURL: "http://127.0.0.1:1/generate"})
		env := adapter.Invoke(context.Background(), &Invocation{JobID: "job-1"}, nil)

		require.False(t, env.Success)
		assert.NotEmpty(t, env.ErrorKind)
	})

	t.Run("progress reported around the call", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(httpResponse{Success: true, Payload: json.RawMessage(`{}`)})
		}))
		defer srv.Close()

		var seen []int
		adapter := NewHTTPAdapter("media", config.ProviderConfig{BaseURL: srv.URL})
		env := adapter.Invoke(context.Background(), &Invocation{JobID: "job-1"}, func(progress int, _ string) {
			seen = append(seen, progress)
		})

		require.True(t, env.Success)
		assert.Equal(t, []int{10, 90}, seen)
	})
}

func TestRegistryChainFor(t *testing.T) {
	p1 := &staticAdapter{name: "p1"}
	p2 := &staticAdapter{name: "p2"}
	registry := NewRegistryWithAdapters(
		map[string]Adapter{"p1": p1, "p2": p2},
		map[entity.Capability][]string{entity.CapabilityText: {"p1", "p2"}},
	)

	chain := registry.ChainFor(entity.CapabilityText)
	require.Len(t, chain, 2)
	assert.Equal(t, "p1", chain[0].Name())
	assert.Equal(t, "p2", chain[1].Name())

	assert.Nil(t, registry.ChainFor(entity.CapabilityVideo))
}

func TestNewRegistryRejectsBrokenConfig(t *testing.T) {
	_, err := NewRegistry(config.ProvidersConfig{
		Registry: map[string]config.ProviderConfig{"p1": {Kind: "carrier-pigeon"}},
	})
	assert.Error(t, err)

	_, err = NewRegistry(config.ProvidersConfig{
		Registry: map[string]config.ProviderConfig{"p1": {Kind: "http"}},
		Chains:   map[string][]string{"text": {"ghost"}},
	})
	assert.Error(t, err)
}

type staticAdapter struct {
	name string
}

func (a *staticAdapter) Name() string { return a.name }

func (a *staticAdapter) Invoke(_ context.Context, _ *Invocation, _ ProgressFunc) *Envelope {
	return Succeed(json.RawMessage(`{}`))
}
