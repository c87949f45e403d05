package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/persistence"
)

// ContentRepository handles content item database operations.
type ContentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewContentRepository(db *sql.DB, logger *slog.Logger) *ContentRepository {
	return &ContentRepository{db: db, logger: logger}
}

var contentColumns = []string{
	"id",
	"source_id",
	"external_id",
	"url",
	"title",
	"raw_payload",
	"extracted_text",
	"analysis_result",
	"status",
	"published_at",
	"collected_at",
	"updated_at",
}

// Ingest stores the item unless one with the same (source_id, external_id)
// already exists. The unique constraint makes concurrent ingestion of the
// same discovery safe: exactly one insert wins and everyone else reads the
// winner back.
func (r *ContentRepository) Ingest(ctx context.Context, item *models.ContentItem) (*models.ContentItem, bool, error) {
	now := time.Now().UTC()

	if item.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, false, persistence.NewRepositoryError("Ingest", "content", "", err)
		}

		item.ID = id.String()
	}

	if item.CollectedAt.IsZero() {
		item.CollectedAt = now
	}

	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = models.ContentStatusPending
	}

	rawJSON, analysisJSON, err := marshalContentPayloads(item)
	if err != nil {
		return nil, false, persistence.NewRepositoryError("Ingest", "content", item.ID, err)
	}

	query := `
		INSERT INTO content_items (
			id, source_id, external_id, url, title, raw_payload,
			extracted_text, analysis_result, status, published_at,
			collected_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (source_id, external_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.SourceID,
		item.ExternalID,
		item.URL,
		item.Title,
		rawJSON,
		item.ExtractedText,
		analysisJSON,
		string(item.Status),
		nullableTime(item.PublishedAt),
		item.CollectedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return nil, false, persistence.NewRepositoryError("Ingest", "content", item.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, persistence.NewRepositoryError("Ingest", "content", item.ID, err)
	}

	if affected > 0 {
		return item, true, nil
	}

	existing, err := r.byExternalID(ctx, item.SourceID, item.ExternalID)
	if err != nil {
		return nil, false, persistence.NewRepositoryError("Ingest", "content", item.ID, err)
	}

	return existing, false, nil
}

func (r *ContentRepository) ByID(ctx context.Context, id string) (*models.ContentItem, error) {
	query, args, err := sq.Select(contentColumns...).
		From("content_items").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, persistence.NewRepositoryError("ByID", "content", id, err)
	}

	item, err := r.scanContent(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRepositoryError("ByID", "content", id, persistence.ErrContentNotFound)
		}

		return nil, persistence.NewRepositoryError("ByID", "content", id, err)
	}

	return item, nil
}

func (r *ContentRepository) Save(ctx context.Context, item *models.ContentItem) error {
	item.UpdatedAt = time.Now().UTC()

	rawJSON, analysisJSON, err := marshalContentPayloads(item)
	if err != nil {
		return persistence.NewRepositoryError("Save", "content", item.ID, err)
	}

	query := `
		UPDATE content_items SET
			url = $2,
			title = $3,
			raw_payload = $4,
			extracted_text = $5,
			analysis_result = $6,
			status = $7,
			published_at = $8,
			updated_at = $9
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.URL,
		item.Title,
		rawJSON,
		item.ExtractedText,
		analysisJSON,
		string(item.Status),
		nullableTime(item.PublishedAt),
		item.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRepositoryError("Save", "content", item.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRepositoryError("Save", "content", item.ID, err)
	}

	if affected == 0 {
		return persistence.NewRepositoryError("Save", "content", item.ID, persistence.ErrContentNotFound)
	}

	return nil
}

func (r *ContentRepository) List(ctx context.Context, opts persistence.ListContentOptions) ([]*models.ContentItem, error) {
	builder := sq.Select(contentColumns...).
		From("content_items").
		OrderBy("collected_at DESC").
		PlaceholderFormat(sq.Dollar)

	if opts.SourceID != "" {
		builder = builder.Where(sq.Eq{"source_id": opts.SourceID})
	}

	if opts.Status != nil {
		builder = builder.Where(sq.Eq{"status": string(*opts.Status)})
	}

	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}

	if opts.Offset > 0 {
		builder = builder.Offset(uint64(opts.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, persistence.NewRepositoryError("List", "content", "", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewRepositoryError("List", "content", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	items := make([]*models.ContentItem, 0)

	for rows.Next() {
		item, err := r.scanContent(rows)
		if err != nil {
			return nil, persistence.NewRepositoryError("List", "content", "", err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRepositoryError("List", "content", "", err)
	}

	return items, nil
}

func (r *ContentRepository) byExternalID(ctx context.Context, sourceID, externalID string) (*models.ContentItem, error) {
	query, args, err := sq.Select(contentColumns...).
		From("content_items").
		Where(sq.Eq{"source_id": sourceID, "external_id": externalID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	return r.scanContent(r.db.QueryRowContext(ctx, query, args...))
}

func (r *ContentRepository) scanContent(row rowScanner) (*models.ContentItem, error) {
	var (
		item         models.ContentItem
		rawJSON      []byte
		analysisJSON []byte
		publishedAt  sql.NullTime
	)

	err := row.Scan(
		&item.ID,
		&item.SourceID,
		&item.ExternalID,
		&item.URL,
		&item.Title,
		&rawJSON,
		&item.ExtractedText,
		&analysisJSON,
		&item.Status,
		&publishedAt,
		&item.CollectedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(rawJSON) > 0 {
		if err := json.Unmarshal(rawJSON, &item.RawPayload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw payload: %w", err)
		}
	}

	if len(analysisJSON) > 0 {
		if err := json.Unmarshal(analysisJSON, &item.AnalysisResult); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis result: %w", err)
		}
	}

	if publishedAt.Valid {
		t := publishedAt.Time
		item.PublishedAt = &t
	}

	return &item, nil
}

func marshalContentPayloads(item *models.ContentItem) (rawJSON, analysisJSON []byte, err error) {
	if item.RawPayload != nil {
		rawJSON, err = json.Marshal(item.RawPayload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal raw payload: %w", err)
		}
	}

	if item.AnalysisResult != nil {
		analysisJSON, err = json.Marshal(item.AnalysisResult)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal analysis result: %w", err)
		}
	}

	return rawJSON, analysisJSON, nil
}
