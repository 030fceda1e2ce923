package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"call-insights-service/internal/models"
)

// CallUpdate describes a partial update to a call record. Nil fields
// are left untouched. Tags carries engine-produced tags: it updates
// tags_original and, only when no client override exists, the effective
// tag set. Overrides are applied exclusively through OverrideTags.
type CallUpdate struct {
	Transcript *string
	Summary    *string
	Tags       *[]string
	Roles      *map[string]string
	Emotions   *[]string
	Intent     *string
	Mood       *string
	Insights   *[]string
}

// CreateCall inserts a new record, assigning its id exactly once.
// Placeholder fields are acceptable; the pipeline fills them in with
// later partial updates.
func (s *Store) CreateCall(rec models.CallRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.UploadTimestamp.IsZero() {
		rec.UploadTimestamp = now
	}

	_, err := s.db.Exec(`
		INSERT INTO calls (
			id, filename, storage_path, transcript, summary,
			tags, tags_original, tags_override, roles, emotions,
			intent, mood, insights, upload_timestamp, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Filename, rec.StoragePath, rec.Transcript, rec.Summary,
		marshalList(rec.Tags), marshalList(rec.TagsOriginal), marshalNullableList(rec.TagsOverride),
		marshalRoles(rec.Roles), marshalList(rec.Emotions),
		rec.Intent, rec.Mood, marshalList(rec.Insights),
		timeToUnix(rec.UploadTimestamp), timeToUnix(now), timeToUnix(now),
	)
	if err != nil {
		return "", fmt.Errorf("insert call: %w", err)
	}
	return rec.ID, nil
}

// UpdateCall applies a partial update. The record's id and
// tags_override are never modified here.
func (s *Store) UpdateCall(id string, upd CallUpdate) error {
	rec, err := s.GetCall(id)
	if err != nil {
		return err
	}

	if upd.Transcript != nil {
		rec.Transcript = *upd.Transcript
	}
	if upd.Summary != nil {
		rec.Summary = *upd.Summary
	}
	if upd.Tags != nil {
		rec.TagsOriginal = *upd.Tags
		// A client override always wins over engine tags.
		if rec.TagsOverride == nil {
			rec.Tags = *upd.Tags
		}
	}
	if upd.Roles != nil {
		rec.Roles = *upd.Roles
	}
	if upd.Emotions != nil {
		rec.Emotions = *upd.Emotions
	}
	if upd.Intent != nil {
		rec.Intent = *upd.Intent
	}
	if upd.Mood != nil {
		rec.Mood = *upd.Mood
	}
	if upd.Insights != nil {
		rec.Insights = *upd.Insights
	}

	return s.writeCall(rec)
}

// OverrideTags records a client tag edit: tags_override and the
// effective tag set become the supplied tags, tags_original is left
// untouched.
func (s *Store) OverrideTags(id string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	res, err := s.db.Exec(`
		UPDATE calls SET tags_override = ?, tags = ?, updated_at = ?
		WHERE id = ?
	`, marshalList(tags), marshalList(tags), timeToUnix(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("override tags: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// GetCall returns the record with the given id.
func (s *Store) GetCall(id string) (*models.CallRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, filename, storage_path, transcript, summary,
		       tags, tags_original, tags_override, roles, emotions,
		       intent, mood, insights, upload_timestamp, created_at, updated_at
		FROM calls
		WHERE id = ?
	`, id)
	return scanCall(row)
}

// ListCalls returns records ordered by upload time, newest first.
func (s *Store) ListCalls(limit, offset int) ([]models.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, filename, storage_path, transcript, summary,
		       tags, tags_original, tags_override, roles, emotions,
		       intent, mood, insights, upload_timestamp, created_at, updated_at
		FROM calls
		ORDER BY upload_timestamp DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var out []models.CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeleteCall removes a record. Used by the pipeline to roll back a
// placeholder when persistence ultimately fails.
func (s *Store) DeleteCall(id string) error {
	res, err := s.db.Exec(`DELETE FROM calls WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// CallStats aggregates simple collection analytics.
type CallStats struct {
	TotalCalls int            `json:"total_calls"`
	TotalTags  int            `json:"total_tags"`
	TagCounts  map[string]int `json:"tag_counts"`
}

// Stats computes tag usage across all records.
func (s *Store) Stats() (CallStats, error) {
	rows, err := s.db.Query(`SELECT tags FROM calls`)
	if err != nil {
		return CallStats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := CallStats{TagCounts: make(map[string]int)}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return CallStats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.TotalCalls++
		for _, tag := range unmarshalList(raw) {
			stats.TotalTags++
			stats.TagCounts[tag]++
		}
	}
	return stats, rows.Err()
}

func (s *Store) writeCall(rec *models.CallRecord) error {
	// The effective tag set is guarded in the statement itself: if a
	// client override landed after this record was read, tags stays
	// put. The in-memory precedence check alone would race.
	res, err := s.db.Exec(`
		UPDATE calls SET
			transcript = ?, summary = ?,
			tags = CASE WHEN tags_override IS NULL THEN ? ELSE tags END,
			tags_original = ?,
			roles = ?, emotions = ?, intent = ?, mood = ?, insights = ?,
			updated_at = ?
		WHERE id = ?
	`,
		rec.Transcript, rec.Summary, marshalList(rec.TagsOriginal), marshalList(rec.TagsOriginal),
		marshalRoles(rec.Roles), marshalList(rec.Emotions), rec.Intent, rec.Mood,
		marshalList(rec.Insights), timeToUnix(time.Now().UTC()), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*models.CallRecord, error) {
	var rec models.CallRecord
	var tags, tagsOriginal, roles, emotions, insights string
	var tagsOverride sql.NullString
	var uploadTS, createdAt, updatedAt float64

	err := row.Scan(
		&rec.ID, &rec.Filename, &rec.StoragePath, &rec.Transcript, &rec.Summary,
		&tags, &tagsOriginal, &tagsOverride, &roles, &emotions,
		&rec.Intent, &rec.Mood, &insights, &uploadTS, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan call: %w", err)
	}

	rec.Tags = unmarshalList(tags)
	rec.TagsOriginal = unmarshalList(tagsOriginal)
	if tagsOverride.Valid {
		rec.TagsOverride = unmarshalList(tagsOverride.String)
	}
	rec.Roles = unmarshalRoles(roles)
	rec.Emotions = unmarshalList(emotions)
	rec.Insights = unmarshalList(insights)
	rec.UploadTimestamp = timeFromUnix(uploadTS)
	rec.CreatedAt = timeFromUnix(createdAt)
	rec.UpdatedAt = timeFromUnix(updatedAt)
	return &rec, nil
}

func marshalList(in []string) string {
	if in == nil {
		in = []string{}
	}
	b, _ := json.Marshal(in)
	return string(b)
}

func marshalNullableList(in []string) any {
	if in == nil {
		return nil
	}
	return marshalList(in)
}

func unmarshalList(raw string) []string {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

func marshalRoles(in map[string]string) string {
	if in == nil {
		in = map[string]string{}
	}
	b, _ := json.Marshal(in)
	return string(b)
}

func unmarshalRoles(raw string) map[string]string {
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]string{}
	}
	return out
}

func timeToUnix(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000.0
}

func timeFromUnix(v float64) time.Time {
	return time.UnixMilli(int64(v * 1000)).UTC()
}
