// Package models defines the data structures shared across the pipeline.
package models

import "time"

// Analysis is the fixed schema the analysis engine must return.
type Analysis struct {
	Summary  string            `json:"summary"`
	Tags     []string          `json:"tags"`
	Roles    map[string]string `json:"roles"`
	Emotions []string          `json:"emotions"`
	Intent   string            `json:"intent"`
	Mood     string            `json:"mood"`
	Insights []string          `json:"insights"`
}

// CallRecord is the durable record produced by one upload.
// Tags carries the effective tag set: TagsOverride when a client has
// edited tags, TagsOriginal otherwise. TagsOriginal is immutable once
// written and is never touched by a tag edit.
type CallRecord struct {
	ID              string            `json:"id"`
	Filename        string            `json:"filename"`
	StoragePath     string            `json:"storage_path"`
	Transcript      string            `json:"transcript"`
	Summary         string            `json:"summary"`
	Tags            []string          `json:"tags"`
	TagsOriginal    []string          `json:"tags_original"`
	TagsOverride    []string          `json:"tags_override,omitempty"`
	Roles           map[string]string `json:"roles"`
	Emotions        []string          `json:"emotions"`
	Intent          string            `json:"intent"`
	Mood            string            `json:"mood"`
	Insights        []string          `json:"insights"`
	UploadTimestamp time.Time         `json:"upload_timestamp"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
