package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAdminRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(store, "default-secret").RegisterRoutes(r.Group("/v1/admin"))
	return r
}

func postSubscription(t *testing.T, r *gin.Engine, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/webhooks", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestCreateSubscription(t *testing.T) {
	store := NewMemoryStore()
	r := setupAdminRouter(store)

	// Public IP literal avoids DNS in tests.
	w := postSubscription(t, r, map[string]interface{}{
		"url":    "https://203.0.113.10/hooks/onboarding",
		"events": []string{"tenant.activated", "payment.failed"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Subscription *Subscription `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Subscription.Active)
	assert.Len(t, resp.Subscription.Events, 2)

	stored, err := store.Get(context.Background(), resp.Subscription.ID)
	require.NoError(t, err)
	// The caller sent no secret, so deliveries sign with the default.
	assert.Equal(t, "default-secret", stored.Secret)
}

func TestCreateSubscription_Rejections(t *testing.T) {
	r := setupAdminRouter(NewMemoryStore())

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing url", map[string]interface{}{"events": []string{"tenant.activated"}}},
		{"missing events", map[string]interface{}{"url": "https://203.0.113.10/h"}},
		{"loopback url", map[string]interface{}{"url": "http://127.0.0.1/h", "events": []string{"tenant.activated"}}},
		{"localhost url", map[string]interface{}{"url": "http://localhost/h", "events": []string{"tenant.activated"}}},
		{"private url", map[string]interface{}{"url": "http://10.0.0.5/h", "events": []string{"tenant.activated"}}},
		{"bad scheme", map[string]interface{}{"url": "ftp://203.0.113.10/h", "events": []string{"tenant.activated"}}},
		{"unknown event", map[string]interface{}{"url": "https://203.0.113.10/h", "events": []string{"tenant.deleted"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postSubscription(t, r, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestGetAndDeleteSubscription(t *testing.T) {
	store := NewMemoryStore()
	r := setupAdminRouter(store)

	w := postSubscription(t, r, map[string]interface{}{
		"url":    "https://203.0.113.10/h",
		"events": []string{"onboarding.started"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Subscription *Subscription `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id := resp.Subscription.ID

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/webhooks/"+id, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/admin/webhooks/"+id, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/webhooks/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
