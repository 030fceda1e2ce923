// Package openai provides a transcript analyzer backed by an
// OpenAI-compatible chat completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-insights-service/internal/models"
	"call-insights-service/internal/service/analysis"
)

// Transcripts longer than this are truncated before analysis to keep
// completion latency bounded.
const maxTranscriptChars = 1000

// Config holds client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client implements analysis.Analyzer against a chat completions API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a new analysis client. APIKey is required.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("analysis api key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze asks the model for the fixed analysis schema. Server errors
// are retried with exponential backoff; a response that cannot be
// parsed into the schema is an error, which the pipeline absorbs by
// substituting the documented defaults.
func (c *Client) Analyze(ctx context.Context, transcript string) (models.Analysis, error) {
	if strings.TrimSpace(transcript) == "" {
		return analysis.NoTranscript(), nil
	}
	if runes := []rune(transcript); len(runes) > maxTranscriptChars {
		transcript = string(runes[:maxTranscriptChars]) + "... [truncated]"
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(transcript)},
		},
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		return models.Analysis{}, err
	}

	var result models.Analysis
	var lastErr error

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(resp.Body)

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("analysis server error: status=%d", resp.StatusCode)
			return lastErr
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("analysis request rejected: status=%d body=%s", resp.StatusCode, raw)
			return backoff.Permanent(lastErr)
		}

		var parsed chatResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			lastErr = fmt.Errorf("decode completion: %w", err)
			return backoff.Permanent(lastErr)
		}
		if len(parsed.Choices) == 0 {
			lastErr = errors.New("completion has no choices")
			return backoff.Permanent(lastErr)
		}

		out, err := parseAnalysis(parsed.Choices[0].Message.Content)
		if err != nil {
			lastErr = err
			return backoff.Permanent(lastErr)
		}
		result = out
		return nil
	}

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		if lastErr != nil {
			return models.Analysis{}, fmt.Errorf("transcript analysis failed: %w", lastErr)
		}
		return models.Analysis{}, fmt.Errorf("transcript analysis failed: %w", err)
	}
	return result, nil
}

// parseAnalysis extracts the JSON object from a completion, tolerating
// markdown code fences and surrounding prose.
func parseAnalysis(content string) (models.Analysis, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return models.Analysis{}, fmt.Errorf("no JSON object in completion: %.120q", content)
	}

	var a models.Analysis
	if err := json.Unmarshal([]byte(content[start:end+1]), &a); err != nil {
		return models.Analysis{}, fmt.Errorf("malformed analysis JSON: %w", err)
	}
	return analysis.Normalize(a), nil
}

const systemPrompt = "You are an expert assistant that analyzes phone call transcripts. " +
	"Always respond with valid JSON only. Be thorough in detecting roles, emotions, " +
	"intent, and extracting insights."

func buildPrompt(transcript string) string {
	return fmt.Sprintf(`Analyze the following phone call transcript in detail and provide a comprehensive analysis.

REQUIREMENTS:
1. Summary: A concise summary of the call (2-3 sentences)
2. Tags: One or more relevant tags from: %q
3. Roles: Identify who is speaking (e.g., "agent", "customer", "manager", "support"). Return as object with speaker labels and their roles
4. Emotions: Detect emotional responses (e.g., "happy", "frustrated", "angry", "satisfied", "confused", "neutral")
5. Intent: Primary user intent (e.g., "purchase", "complaint", "information", "support", "cancel", "other")
6. Mood: Overall mood of the conversation (e.g., "positive", "negative", "neutral", "mixed")
7. Insights: Extract 2-3 valuable insights or key points from the conversation

Transcript:
%s

Respond in JSON format with this EXACT structure:
{
    "summary": "your summary here",
    "tags": ["tag1", "tag2"],
    "roles": {"speaker1": "agent", "speaker2": "customer"},
    "emotions": ["emotion1", "emotion2"],
    "intent": "primary intent",
    "mood": "overall mood",
    "insights": ["insight1", "insight2", "insight3"]
}`, analysis.KnownTags, transcript)
}
