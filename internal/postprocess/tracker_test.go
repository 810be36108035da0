package postprocess

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookTracker_CreateTask(t *testing.T) {
	var gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body createTaskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotRequestID = body.RequestID
		assert.Equal(t, "weekly digest", body.Title)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createTaskResponse{ID: "task-123"})
	}))
	defer srv.Close()

	tracker := NewWebhookTracker(srv.URL)
	taskID, err := tracker.CreateTask(context.Background(), "weekly digest", "body text")
	require.NoError(t, err)
	assert.Equal(t, "task-123", taskID)
	assert.NotEmpty(t, gotRequestID)
}

func TestWebhookTracker_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tracker := NewWebhookTracker(srv.URL)
	tracker.client.SetRetryCount(0)
	_, err := tracker.CreateTask(context.Background(), "t", "b")
	assert.Error(t, err)
}
