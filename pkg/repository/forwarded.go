package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ForwardedRepository tracks which items have already been delivered,
// keyed by (source_id, item_guid)
type ForwardedRepository struct {
	db *sqlx.DB
}

// NewForwardedRepository creates a new forwarded-items repository
func NewForwardedRepository(database *sqlx.DB) *ForwardedRepository {
	return &ForwardedRepository{db: database}
}

// Record marks an item as forwarded. Inserting an already-present key is a
// no-op, never an error - retried or concurrent processing of the same poll
// result must not fail.
func (r *ForwardedRepository) Record(ctx context.Context, sourceID int64, guid, messageRef string) error {
	query := `
		INSERT OR IGNORE INTO forwarded_items (source_id, item_guid, forwarded_at, message_ref)
		VALUES (?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, sourceID, guid, time.Now().UTC(), messageRef)
	if err != nil {
		return fmt.Errorf("record forwarded item: %w", err)
	}
	return nil
}

// Exists checks whether an item GUID has already been forwarded for a source
func (r *ForwardedRepository) Exists(ctx context.Context, sourceID int64, guid string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(1) FROM forwarded_items WHERE source_id = ? AND item_guid = ?", sourceID, guid)
	if err != nil {
		return false, fmt.Errorf("check forwarded item: %w", err)
	}
	return count > 0, nil
}

// SeenGUIDs returns the subset of guids already forwarded for a source
func (r *ForwardedRepository) SeenGUIDs(ctx context.Context, sourceID int64, guids []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	if len(guids) == 0 {
		return seen, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(guids)), ",")
	query := fmt.Sprintf( //nolint:gosec // placeholders are generated "?" literals
		"SELECT item_guid FROM forwarded_items WHERE source_id = ? AND item_guid IN (%s)", placeholders)

	args := make([]interface{}, 0, len(guids)+1)
	args = append(args, sourceID)
	for _, g := range guids {
		args = append(args, g)
	}

	var found []string
	if err := r.db.SelectContext(ctx, &found, query, args...); err != nil {
		return nil, fmt.Errorf("get seen guids: %w", err)
	}

	for _, g := range found {
		seen[g] = true
	}
	return seen, nil
}

// Prune deletes forwarded items older than the retention horizon.
// Returns the number of rows removed.
func (r *ForwardedRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := r.db.ExecContext(ctx, "DELETE FROM forwarded_items WHERE forwarded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune forwarded items: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get pruned count: %w", err)
	}
	return count, nil
}
