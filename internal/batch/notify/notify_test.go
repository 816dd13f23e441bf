package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/adforge/pipeline/internal/common"
	"github.com/stretchr/testify/require"
)

func TestLoggingNotifier_NeverPanics(t *testing.T) {
	n := NewLoggingNotifier(common.NewSilentLogger())
	require.NotPanics(t, func() {
		n.OnMilestone(1000)
		n.OnFailure(3, "boom")
		n.OnCompletion(10, 8, 2, time.Second)
	})
}

func TestWebhookNotifier_PostsExpectedPayloads(t *testing.T) {
	var mu sync.Mutex
	var received []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, common.NewSilentLogger())
	n.OnMilestone(500)
	n.OnFailure(7, "download failed")
	n.OnCompletion(100, 90, 10, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3)
	require.Equal(t, "milestone", received[0]["event"])
	require.Equal(t, float64(500), received[0]["completed"])
	require.Equal(t, "failure", received[1]["event"])
	require.Equal(t, "download failed", received[1]["error"])
	require.Equal(t, "completion", received[2]["event"])
	require.Equal(t, float64(100), received[2]["total"])
}

func TestWebhookNotifier_DeliveryFailureDoesNotPanicOrBlock(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1", 50*time.Millisecond, common.NewSilentLogger())
	require.NotPanics(t, func() {
		n.OnMilestone(1)
		n.OnFailure(0, "x")
		n.OnCompletion(1, 1, 0, time.Millisecond)
	})
}
