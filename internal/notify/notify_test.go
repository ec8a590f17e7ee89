package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silveradrian/cylvy-analyze-mkt-researchv1-sub001/internal/model"
)

func TestWebhookSink_DeliversEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	sink.Notify(context.Background(), Event{
		Type:        EventPhaseFinished,
		ExecutionID: "exec-1",
		Phase:       model.PhaseSERPCollection,
		Status:      "completed",
		Timestamp:   time.Now().UTC(),
	})

	assert.Equal(t, EventPhaseFinished, got.Type)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, model.PhaseSERPCollection, got.Phase)
}

func TestWebhookSink_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Must not panic or propagate.
	NewWebhookSink(srv.URL).Notify(context.Background(), Event{Type: EventExecutionFinished})
}

func TestForConfig(t *testing.T) {
	assert.IsType(t, LogSink{}, ForConfig(""))
	assert.IsType(t, &WebhookSink{}, ForConfig("https://hooks.example.com/x"))
}
