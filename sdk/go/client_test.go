package brieflinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSendsKeyAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/projects/demo/generate", r.URL.Path)
		assert.Equal(t, "bl_secret", r.Header.Get("X-Api-Key"))
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "brief-1", req.ParentID)
		json.NewEncoder(w).Encode(map[string]any{
			"saved":        []map[string]any{{"id": "i-1", "level": "initiative", "title": "Portal"}},
			"target_level": "initiative",
			"iterations":   1,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "demo")
	c.APIKey = "bl_secret"
	gen, err := c.Generate(context.Background(), GenerateRequest{ParentID: "brief-1"})
	require.NoError(t, err)
	require.Len(t, gen.Saved, 1)
	assert.Equal(t, "Portal", gen.Saved[0].Title)
	assert.Equal(t, "initiative", gen.TargetLevel)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"code":"quality_gate_blocked","message":"quality gate blocked"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "demo")
	c.BearerToken = "tok"
	_, err := c.Generate(context.Background(), GenerateRequest{ParentID: "brief-1"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "quality_gate_blocked", apiErr.Code)
}

func TestEventsPageBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "42", r.URL.Query().Get("cursor"))
		w.Write([]byte(`{"items":[{"id":41,"type":"item.created"}],"next_cursor":"41"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL, "demo").EventsPage(context.Background(), 5, "42")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "41", page.NextCursor)
}
