package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/feedcourier/feedcourier/pkg/domain"
)

// ErrSourceNotFound is returned when a source lookup matches nothing
var ErrSourceNotFound = errors.New("source not found")

// SourceRepository handles source-related database operations
type SourceRepository struct {
	db *sqlx.DB
}

// sourceSQL represents a source for SQL operations
type sourceSQL struct {
	ID                int64      `db:"id"`
	URL               string     `db:"url"`
	Name              string     `db:"name"`
	WebhookURL        string     `db:"webhook_url"`
	ETag              string     `db:"etag"`
	LastModified      string     `db:"last_modified"`
	PollInterval      int        `db:"poll_interval"`
	NextPollAt        *time.Time `db:"next_poll_at"`
	LastPollAt        *time.Time `db:"last_poll_at"`
	ConsecutiveErrors int        `db:"consecutive_errors"`
	LastError         string     `db:"last_error"`
	WarmupRemaining   int        `db:"warmup_remaining"`
	CreatedAt         time.Time  `db:"created_at"`
}

// NewSourceRepository creates a new source repository
func NewSourceRepository(database *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: database}
}

// CreateSource inserts a new source. The caller supplies the initial poll
// interval and warmup cycle count; next_poll_at is set to now so the source
// is picked up on the next scheduler tick.
func (r *SourceRepository) CreateSource(ctx context.Context, src *domain.Source) error {
	now := time.Now().UTC()
	sqlSrc := &sourceSQL{
		URL:             src.URL,
		Name:            src.Name,
		WebhookURL:      src.WebhookURL,
		PollInterval:    src.PollInterval,
		NextPollAt:      &now,
		WarmupRemaining: src.WarmupRemaining,
	}

	query := `
		INSERT INTO sources (url, name, webhook_url, poll_interval, next_poll_at, warmup_remaining)
		VALUES (:url, :name, :webhook_url, :poll_interval, :next_poll_at, :warmup_remaining)
	`
	result, err := r.db.NamedExecContext(ctx, query, sqlSrc)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get insert id: %w", err)
	}

	src.ID = id
	src.NextPollAt = &now
	return nil
}

// GetSource retrieves a source by ID
func (r *SourceRepository) GetSource(ctx context.Context, id int64) (*domain.Source, error) {
	var sqlSrc sourceSQL
	err := r.db.GetContext(ctx, &sqlSrc, "SELECT * FROM sources WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("get source: %w", err)
	}
	return r.toDomainSource(&sqlSrc), nil
}

// GetSourceByURL looks up a source by URL within a delivery destination
func (r *SourceRepository) GetSourceByURL(ctx context.Context, url, webhookURL string) (*domain.Source, error) {
	var sqlSrc sourceSQL
	err := r.db.GetContext(ctx, &sqlSrc,
		"SELECT * FROM sources WHERE url = ? AND webhook_url = ?", url, webhookURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("get source by url: %w", err)
	}
	return r.toDomainSource(&sqlSrc), nil
}

// ListSources retrieves all sources ordered by name
func (r *SourceRepository) ListSources(ctx context.Context) ([]*domain.Source, error) {
	var sqlSources []sourceSQL
	err := r.db.SelectContext(ctx, &sqlSources, "SELECT * FROM sources ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	sources := make([]*domain.Source, len(sqlSources))
	for i, s := range sqlSources {
		sources[i] = r.toDomainSource(&s)
	}
	return sources, nil
}

// GetDueSources retrieves sources whose next poll time has passed
func (r *SourceRepository) GetDueSources(ctx context.Context, now time.Time) ([]*domain.Source, error) {
	query := `
		SELECT * FROM sources
		WHERE next_poll_at IS NULL OR next_poll_at <= ?
		ORDER BY next_poll_at ASC
	`
	var sqlSources []sourceSQL
	err := r.db.SelectContext(ctx, &sqlSources, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("get due sources: %w", err)
	}

	sources := make([]*domain.Source, len(sqlSources))
	for i, s := range sqlSources {
		sources[i] = r.toDomainSource(&s)
	}
	return sources, nil
}

// UpdateSourceURL rewrites the source URL after a permanent redirect
func (r *SourceRepository) UpdateSourceURL(ctx context.Context, id int64, newURL string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE sources SET url = ? WHERE id = ?", newURL, id)
	if err != nil {
		return fmt.Errorf("update source url: %w", err)
	}
	return nil
}

// PollSuccess captures the state written back after a successful poll cycle
type PollSuccess struct {
	ETag         string
	LastModified string
	PollInterval int
	NextPollAt   time.Time
}

// UpdateOnSuccess updates a source after a successful (200 or 304) poll:
// caching validators and interval are stored, the error counter resets and
// one warmup cycle is consumed.
func (r *SourceRepository) UpdateOnSuccess(ctx context.Context, id int64, state PollSuccess) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE sources
			SET etag = ?,
			    last_modified = ?,
			    poll_interval = ?,
			    next_poll_at = ?,
			    last_poll_at = ?,
			    consecutive_errors = 0,
			    last_error = '',
			    warmup_remaining = MAX(warmup_remaining - 1, 0)
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query, state.ETag, state.LastModified,
			state.PollInterval, state.NextPollAt.UTC(), time.Now().UTC(), id)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("update source success: %w", err)}
		}
		return nil
	})
}

// UpdateOnFailure updates a source after a failed poll: the error counter
// increments, the short error description is stored and one warmup cycle is
// consumed. The caller supplies the backoff-derived next poll time.
func (r *SourceRepository) UpdateOnFailure(ctx context.Context, id int64, errMsg string, nextPollAt time.Time) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE sources
			SET consecutive_errors = consecutive_errors + 1,
			    last_error = ?,
			    next_poll_at = ?,
			    last_poll_at = ?,
			    warmup_remaining = MAX(warmup_remaining - 1, 0)
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query, errMsg, nextPollAt.UTC(), time.Now().UTC(), id)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("update source failure: %w", err)}
		}
		return nil
	})
}

// DeleteSource removes a source and cascades to its forwarded items
func (r *SourceRepository) DeleteSource(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return nil
}

// toDomainSource converts sourceSQL to domain.Source
func (r *SourceRepository) toDomainSource(sqlSrc *sourceSQL) *domain.Source {
	return &domain.Source{
		ID:                sqlSrc.ID,
		URL:               sqlSrc.URL,
		Name:              sqlSrc.Name,
		WebhookURL:        sqlSrc.WebhookURL,
		ETag:              sqlSrc.ETag,
		LastModified:      sqlSrc.LastModified,
		PollInterval:      sqlSrc.PollInterval,
		NextPollAt:        sqlSrc.NextPollAt,
		LastPollAt:        sqlSrc.LastPollAt,
		ConsecutiveErrors: sqlSrc.ConsecutiveErrors,
		LastError:         sqlSrc.LastError,
		WarmupRemaining:   sqlSrc.WarmupRemaining,
		CreatedAt:         sqlSrc.CreatedAt,
	}
}
