package advisor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signal-trade-bot-go/internal/analyzer"
	"signal-trade-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testSignal() analyzer.Signal {
	return analyzer.Signal{Action: analyzer.ActionBuy, Symbol: "BTCUSDT", Price: 50000, Confidence: 0.75}
}

func testStrategy() *models.StrategyConfig {
	cfg := &models.StrategyConfig{Venue: models.VenueBinance}
	cfg.ApplyDefaults()
	return cfg
}

func completion(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
}

func TestReview_Approves(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		fmt.Fprint(w, completion(`{"execute": true, "confidence": 0.9, "reason": "clean trend"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "test-model", 2*time.Second, zap.NewNop())

	verdict, err := client.Review(context.Background(), testSignal(), testStrategy())
	assert.NoError(t, err)
	assert.True(t, verdict.Execute)
	assert.InDelta(t, 0.9, verdict.Confidence, 1e-9)
}

func TestReview_DeclineWithMarkdownFence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completion("```json\n{\"execute\": false, \"confidence\": 0.3, \"reason\": \"chop\"}\n```"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "test-model", 2*time.Second, zap.NewNop())

	verdict, err := client.Review(context.Background(), testSignal(), testStrategy())
	assert.NoError(t, err)
	assert.False(t, verdict.Execute)
	assert.Equal(t, "chop", verdict.Reason)
}

func TestReview_ServerDownIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewClient(server.URL, "key", "test-model", time.Second, zap.NewNop())

	_, err := client.Review(context.Background(), testSignal(), testStrategy())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestReview_GarbageAnswerIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completion("I would not trade this."))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "test-model", 2*time.Second, zap.NewNop())

	_, err := client.Review(context.Background(), testSignal(), testStrategy())
	assert.ErrorIs(t, err, ErrUnavailable)
}
