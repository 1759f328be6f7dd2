package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyflow/backend/pkg/models"
)

func dataForSEOConfig() *models.IntegrationConfig {
	return &models.IntegrationConfig{
		TenantID: "tenant-1",
		Provider: models.IntegrationDataForSEO,
		Credentials: map[string]string{
			"login":    "user@example.com",
			"password": "secret",
		},
		Active: true,
	}
}

func TestDataForSEOAdapter_Invoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "user@example.com", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, defaultSERPEndpoint, r.URL.Path)

		var tasks []map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tasks))
		require.Len(t, tasks, 1)
		assert.Equal(t, "espresso machines", tasks[0]["keyword"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status_code": 20000,
			"cost":        0.03,
			"tasks": []map[string]interface{}{
				{
					"status_code": 20000,
					"result": []map[string]interface{}{
						{"items": []map[string]interface{}{{"url": "https://a.example"}}},
					},
				},
			},
		})
	}))
	defer srv.Close()

	adapter := NewDataForSEOAdapter(srv.URL, NewClient("dataforseo", time.Second))
	result, err := adapter.Invoke(context.Background(), Request{
		Params:      map[string]interface{}{"keyword": "espresso machines"},
		Config:      dataForSEOConfig(),
		CostCeiling: 5,
	})
	require.NoError(t, err)

	// $0.03 is 3 credits
	assert.Equal(t, int64(3), result.CostIncurred)
	assert.False(t, result.Partial)
	assert.NotEmpty(t, result.Payload["results"])
}

func TestDataForSEOAdapter_CostCappedAtCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status_code": 20000,
			"cost":        1.50, // 150 credits
			"tasks":       []map[string]interface{}{},
		})
	}))
	defer srv.Close()

	adapter := NewDataForSEOAdapter(srv.URL, NewClient("dataforseo", time.Second))
	result, err := adapter.Invoke(context.Background(), Request{
		Params:      map[string]interface{}{"keyword": "espresso machines"},
		Config:      dataForSEOConfig(),
		CostCeiling: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.CostIncurred)
	assert.True(t, result.Partial)
}

func TestDataForSEOAdapter_MissingKeyword(t *testing.T) {
	adapter := NewDataForSEOAdapter("http://unused.invalid", NewClient("dataforseo", time.Second))
	_, err := adapter.Invoke(context.Background(), Request{
		Params: map[string]interface{}{},
		Config: dataForSEOConfig(),
	})
	ierr := AsIntegrationError(err)
	assert.Equal(t, ErrorInvalidParams, ierr.Kind)
	assert.False(t, ierr.Retryable)
}

func TestDataForSEOAdapter_MissingCredentials(t *testing.T) {
	adapter := NewDataForSEOAdapter("http://unused.invalid", NewClient("dataforseo", time.Second))
	_, err := adapter.Invoke(context.Background(), Request{
		Params: map[string]interface{}{"keyword": "espresso machines"},
		Config: &models.IntegrationConfig{TenantID: "tenant-1", Credentials: map[string]string{}},
	})
	ierr := AsIntegrationError(err)
	assert.Equal(t, ErrorAuthFailure, ierr.Kind)
	assert.False(t, ierr.Retryable)
}

func TestDataForSEOAdapter_EnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status_code": 40201,
			"tasks":       []map[string]interface{}{},
		})
	}))
	defer srv.Close()

	adapter := NewDataForSEOAdapter(srv.URL, NewClient("dataforseo", time.Second))
	_, err := adapter.Invoke(context.Background(), Request{
		Params: map[string]interface{}{"keyword": "espresso machines"},
		Config: dataForSEOConfig(),
	})
	ierr := AsIntegrationError(err)
	assert.Equal(t, ErrorUpstream, ierr.Kind)
	assert.True(t, ierr.Retryable)
}

func TestDataForSEOAdapter_DryRunPingsAccount(t *testing.T) {
	var pinged bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, dataForSEOPingPath, r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		pinged = true
		json.NewEncoder(w).Encode(map[string]interface{}{"status_code": 20000})
	}))
	defer srv.Close()

	adapter := NewDataForSEOAdapter(srv.URL, NewClient("dataforseo", time.Second))
	result, err := adapter.Invoke(context.Background(), Request{
		Config: dataForSEOConfig(),
		DryRun: true,
	})
	require.NoError(t, err)
	assert.True(t, pinged)
	assert.Zero(t, result.CostIncurred)
}

func TestDataForSEOAdapter_AuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	adapter := NewDataForSEOAdapter(srv.URL, NewClient("dataforseo", time.Second))
	_, err := adapter.Invoke(context.Background(), Request{
		Params: map[string]interface{}{"keyword": "espresso machines"},
		Config: dataForSEOConfig(),
	})
	ierr := AsIntegrationError(err)
	assert.Equal(t, ErrorAuthFailure, ierr.Kind)
	assert.False(t, ierr.Retryable)
}
