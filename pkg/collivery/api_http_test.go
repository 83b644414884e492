package collivery_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/collivery/pkg/collivery"
)

func newHTTPTestClient(serverURL string) *collivery.HTTPAPIClient {
	return collivery.NewHTTPAPIClient(collivery.HTTPAPIClientConfig{
		BaseURL:    serverURL,
		AppName:    "Test App",
		AppVersion: "1.0.0",
		AppHost:    "Go",
		AppLang:    "Go",
		AppURL:     "https://shop.example.com",
	})
}

func TestHTTPAPIClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v3/towns", r.URL.Path)
		assert.Equal(t, "ZAF", r.URL.Query().Get("country"))
		assert.Equal(t, "1000000", r.URL.Query().Get("per_page"))
		assert.Equal(t, []string{"1", "2"}, r.URL.Query()["services[]"])
		assert.Equal(t, "Test App", r.Header.Get("X-App-Name"))
		assert.Equal(t, "1.0.0", r.Header.Get("X-App-Version"))
		assert.Equal(t, "https://shop.example.com", r.Header.Get("X-App-Url"))
		assert.Equal(t, "req-123", r.Header.Get("X-Request-Id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":147,"name":"Johannesburg"}]}`))
	}))
	defer server.Close()

	client := newHTTPTestClient(server.URL)
	ctx := collivery.ContextWithRequestID(context.Background(), "req-123")

	raw, err := client.Request(ctx, http.MethodGet, "/v3/towns", map[string]any{
		"country":  "ZAF",
		"per_page": float64(1000000),
		"services": []int{1, 2},
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[{"id":147,"name":"Johannesburg"}]}`, string(raw))
}

func TestHTTPAPIClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var params map[string]any
		assert.NoError(t, json.Unmarshal(body, &params))
		assert.Equal(t, "user@example.com", params["email"])

		_, _ = w.Write([]byte(`{"api_token":"abc"}`))
	}))
	defer server.Close()

	raw, err := newHTTPTestClient(server.URL).Request(context.Background(), http.MethodPost, "/v3/login", map[string]any{
		"email":    "user@example.com",
		"password": "secret",
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"api_token":"abc"}`, string(raw))
}

func TestHTTPAPIClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"nested", http.StatusUnauthorized, `{"error":{"message":"Unauthenticated."}}`, "Unauthenticated."},
		{"flat", http.StatusUnprocessableEntity, `{"message":"The given data was invalid."}`, "The given data was invalid."},
		{"plain", http.StatusBadGateway, `upstream down`, "upstream down"},
		{"empty", http.StatusServiceUnavailable, ``, "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newHTTPTestClient(server.URL).Request(context.Background(), http.MethodGet, "/v3/towns", nil)

			var apiErr *collivery.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestHTTPAPIClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newHTTPTestClient(url).Request(context.Background(), http.MethodGet, "/v3/towns", nil)

	var apiErr *collivery.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, collivery.CodeTransportFailed, apiErr.Code())
}

func TestClient_OverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v3/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":7,"email_address":"demo@collivery.co.za","api_token":"live-token","client":{"id":70,"primary_address":{"id":700}}}`))
	})
	mux.HandleFunc("GET /v3/service_types", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "live-token", r.URL.Query().Get("api_token"))
		_, _ = w.Write([]byte(`{"data":[{"id":1,"text":"Overnight before 10:00"}]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := collivery.DefaultConfig()
	cfg.BaseURL = server.URL
	client := collivery.New(cfg, newStore(t), nil, nil)

	services, err := client.Services(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "Overnight before 10:00"}, services)

	id, err := client.DefaultAddressID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 700, id)
}
