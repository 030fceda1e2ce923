// Package mock provides a deterministic analyzer for offline runs and
// tests. It keys a handful of canned results off simple transcript
// keywords so demo uploads produce plausible records.
package mock

import (
	"context"
	"strings"

	"call-insights-service/internal/models"
	"call-insights-service/internal/service/analysis"
)

// Analyzer implements analysis.Analyzer with canned results.
type Analyzer struct{}

// New creates a new mock analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Analyze returns a deterministic analysis derived from the transcript.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) (models.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return models.Analysis{}, err
	}
	if strings.TrimSpace(transcript) == "" {
		return analysis.NoTranscript(), nil
	}

	lower := strings.ToLower(transcript)
	switch {
	case strings.Contains(lower, "cancel"):
		return analysis.Normalize(models.Analysis{
			Summary:  "Customer called to cancel a subscription over a billing problem.",
			Tags:     []string{"complaint", "needs follow-up"},
			Roles:    map[string]string{"speaker1": "agent", "speaker2": "customer"},
			Emotions: []string{"frustrated"},
			Intent:   "cancel",
			Mood:     "negative",
			Insights: []string{"Billing duplicate charge triggered the cancellation request."},
		}), nil
	case strings.Contains(lower, "voicemail"):
		return analysis.Normalize(models.Analysis{
			Summary:  "Call reached voicemail, no conversation took place.",
			Tags:     []string{"voicemail"},
			Intent:   "other",
			Mood:     "neutral",
			Insights: []string{"Retry the call at a different time."},
		}), nil
	case strings.Contains(lower, "buy") || strings.Contains(lower, "offer"):
		return analysis.Normalize(models.Analysis{
			Summary:  "Prospective buyer asked about an active listing.",
			Tags:     []string{"client wants to buy", "inquiry"},
			Roles:    map[string]string{"speaker1": "customer", "speaker2": "agent"},
			Emotions: []string{"interested"},
			Intent:   "purchase",
			Mood:     "positive",
			Insights: []string{"Buyer wants to schedule a visit this week."},
		}), nil
	default:
		return analysis.Normalize(models.Analysis{
			Summary:  "General conversation without a clear commercial outcome.",
			Tags:     []string{"inquiry"},
			Roles:    map[string]string{"speaker1": "agent", "speaker2": "customer"},
			Emotions: []string{"neutral"},
			Intent:   "information",
			Mood:     "neutral",
			Insights: []string{"No follow-up action identified."},
		}), nil
	}
}
