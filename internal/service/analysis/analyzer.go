// Package analysis defines the interface for transcript analysis
// engines and the fixed result schema the pipeline accepts from them.
package analysis

import (
	"context"
	"strings"

	"call-insights-service/internal/models"
)

// Analyzer defines the interface for analysis providers. Implementations
// must honor ctx cancellation; the orchestrator wraps every call with
// its own bounded timeout.
type Analyzer interface {
	// Analyze returns the structured analysis for a transcript.
	Analyze(ctx context.Context, transcript string) (models.Analysis, error)
}

// KnownTags is the controlled tag vocabulary. Engines may add free-form
// tags beyond it; the vocabulary is what prompts and filters build on.
var KnownTags = []string{
	"client wants to buy",
	"wrong number",
	"needs follow-up",
	"voicemail",
	"complaint",
	"inquiry",
	"sale",
	"support",
	"other",
}

// Default returns the documented fallback object substituted when the
// engine fails, times out, or returns malformed output. The pipeline
// degrades the record with these values rather than aborting.
func Default() models.Analysis {
	return models.Analysis{
		Summary:  "",
		Tags:     []string{},
		Roles:    map[string]string{},
		Emotions: []string{},
		Intent:   "other",
		Mood:     "neutral",
		Insights: []string{},
	}
}

// NoTranscript returns the analysis used when there is nothing to
// analyze, without calling the engine at all.
func NoTranscript() models.Analysis {
	a := Default()
	a.Summary = "No transcript available."
	a.Tags = []string{"no-transcript"}
	return a
}

// Normalize coerces an engine result into the fixed schema: nil
// collections become empty, blank entries are discarded, duplicates are
// collapsed, and missing intent/mood fall back to the defaults.
func Normalize(a models.Analysis) models.Analysis {
	a.Tags = cleanList(a.Tags)
	a.Emotions = cleanList(a.Emotions)
	a.Insights = cleanList(a.Insights)
	if a.Roles == nil {
		a.Roles = map[string]string{}
	}
	if strings.TrimSpace(a.Intent) == "" {
		a.Intent = "other"
	}
	if strings.TrimSpace(a.Mood) == "" {
		a.Mood = "neutral"
	}
	return a
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
