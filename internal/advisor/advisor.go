// Package advisor consults an external language model about a signal before
// execution. The model is advisory only: when it is unreachable the pipeline
// proceeds on the engine's own decision (explicit fail-open policy), but a
// reachable model that declines is final for that signal.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"signal-trade-bot-go/internal/analyzer"
	"signal-trade-bot-go/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrUnavailable marks transport-level failures. Callers fail open on it.
var ErrUnavailable = errors.New("advisor unavailable")

// Verdict is the model's structured judgment on a signal.
type Verdict struct {
	Execute    bool    `json:"execute"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Reviewer is the interface the risk gate consumes.
type Reviewer interface {
	Review(ctx context.Context, sig analyzer.Signal, cfg *models.StrategyConfig) (*Verdict, error)
}

// Client talks to an OpenAI-compatible chat-completion endpoint.
type Client struct {
	http   *resty.Client
	model  string
	logger *zap.Logger
}

// NewClient creates an advisor client against the given base URL.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   http,
		model:  model,
		logger: logger.Named("advisor"),
	}
}

const systemPrompt = `You review automated crypto futures trade signals. ` +
	`Answer with a single JSON object: {"execute": bool, "confidence": number 0..1, "reason": string}. ` +
	`Decline signals that look like chop, exhaustion, or conflict with the indicator snapshot.`

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Review asks the model for a verdict on one signal.
func (c *Client) Review(ctx context.Context, sig analyzer.Signal, cfg *models.StrategyConfig) (*Verdict, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(sig, cfg)},
		},
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %s", ErrUnavailable, resp.Status())
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	verdict, err := parseVerdict(out.Choices[0].Message.Content)
	if err != nil {
		// A model that answers garbage is treated like one that is down.
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return verdict, nil
}

func buildPrompt(sig analyzer.Signal, cfg *models.StrategyConfig) string {
	return fmt.Sprintf(
		"Signal: %s %s at %.4f, confidence %.2f.\n"+
			"Indicators: trend=%s rsi=%.1f(%s) macd=%s volume_confirmed=%t.\n"+
			"Regime: change20=%.2f%% change50=%.2f%% volatility=%.2f%% trending=%t.\n"+
			"Strategy: venue=%s leverage=%dx stop_loss=%.2f%%.",
		sig.Action, sig.Symbol, sig.Price, sig.Confidence,
		sig.Trend, sig.RSIValue, sig.RSIState, sig.MACDState, sig.VolumeConfirmed,
		sig.Regime.Change20, sig.Regime.Change50, sig.Regime.VolatilityPct, sig.Regime.Trending,
		cfg.Venue, cfg.Leverage, cfg.StopLossPercent,
	)
}

// parseVerdict tolerates a markdown code fence around the JSON body.
func parseVerdict(content string) (*Verdict, error) {
	body := strings.TrimSpace(content)
	if i := strings.Index(body, "{"); i >= 0 {
		if j := strings.LastIndex(body, "}"); j > i {
			body = body[i : j+1]
		}
	}

	var v Verdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, fmt.Errorf("could not parse advisor verdict: %v", err)
	}
	return &v, nil
}
