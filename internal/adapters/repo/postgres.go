package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediasyndicate/internal/domain"
	"mediasyndicate/internal/infra/metrics"
)

// Postgres реализует репозитории статей, источников и настроек рейтинга на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
	psql sq.StatementBuilderType
}

var (
	_ domain.ArticleRepo = (*Postgres)(nil)
	_ domain.WeightsRepo = (*Postgres)(nil)
	_ domain.SourceRepo  = (*Postgres)(nil)
)

const articleColumns = `a.id, a.url, a.title, a.source_id, s.name,
a.views, a.forwards, a.reactions, a.replies, a.published_at,
a.rating, a.previous_rating, a.rating_delta,
a.current_position, a.previous_position, a.position_change,
a.first_seen_at, a.rating_updated_at`

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool: pool,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (domain.Article, error) {
	var (
		a          domain.Article
		sourceID   sql.NullString
		sourceName sql.NullString
	)
	err := row.Scan(&a.ID, &a.URL, &a.Title, &sourceID, &sourceName,
		&a.Metrics.Views, &a.Metrics.Forwards, &a.Metrics.Reactions, &a.Metrics.Replies, &a.PublishedAt,
		&a.Rating, &a.PreviousRating, &a.RatingDelta,
		&a.CurrentPosition, &a.PreviousPosition, &a.PositionChange,
		&a.FirstSeenAt, &a.RatingUpdatedAt)
	if err != nil {
		return domain.Article{}, err
	}
	a.SourceID = sourceID.String
	a.SourceName = sourceName.String
	return a, nil
}

// GetArticle возвращает статью по ID.
func (p *Postgres) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+articleColumns+`
FROM articles a LEFT JOIN sources s ON s.id = a.source_id
WHERE a.id = $1`, id)
	a, err := scanArticle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "articles_get", "articles", start, nil)
		return domain.Article{}, domain.ErrArticleNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "articles_get", "articles", start, err)
	return a, err
}

// ListArticles возвращает статьи по фильтру.
func (p *Postgres) ListArticles(ctx context.Context, q domain.ArticleQuery) ([]domain.Article, error) {
	query, args, err := p.articlesQuery(q).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build articles query: %w", err)
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "articles_list", "articles", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) articlesQuery(q domain.ArticleQuery) sq.SelectBuilder {
	b := p.psql.Select(articleColumns).
		From("articles a").
		LeftJoin("sources s ON s.id = a.source_id")
	if !q.PublishedSince.IsZero() {
		b = b.Where(sq.GtOrEq{"a.published_at": q.PublishedSince})
	}
	if q.PositiveOnly {
		b = b.Where(sq.Gt{"a.rating": 0})
	}
	if q.MaxPosition > 0 {
		b = b.Where(sq.And{
			sq.Gt{"a.current_position": 0},
			sq.LtOrEq{"a.current_position": q.MaxPosition},
		})
	}
	switch q.OrderBy {
	case domain.OrderByRatingDesc:
		b = b.OrderBy("a.rating DESC", "a.published_at DESC", "a.id ASC")
	case domain.OrderByPositionAsc:
		b = b.OrderBy("a.current_position ASC", "a.id ASC")
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	return b
}

// HasRankedPositions сообщает, назначены ли позиции хотя бы одной статье.
func (p *Postgres) HasRankedPositions(ctx context.Context) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var ok bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE current_position > 0)`).Scan(&ok)
	metrics.ObserveNetworkRequest("postgres", "articles_has_positions", "articles", start, err)
	return ok, err
}

// UpdateRating записывает только рейтинг статьи.
func (p *Postgres) UpdateRating(ctx context.Context, id string, rating float64, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE articles SET rating = $2, rating_updated_at = $3 WHERE id = $1`, id, rating, at)
	metrics.ObserveNetworkRequest("postgres", "articles_update_rating", "articles", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrArticleNotFound
	}
	return nil
}

// ApplyRatingUpdate записывает рейтинг вместе с позицией и динамикой.
func (p *Postgres) ApplyRatingUpdate(ctx context.Context, upd domain.RatingUpdate) error {
	query, args, err := p.ratingUpdateQuery(upd).ToSql()
	if err != nil {
		return fmt.Errorf("build rating update: %w", err)
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "articles_apply_rating", "articles", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrArticleNotFound
	}
	return nil
}

// ratingUpdateQuery пишет firstSeenAt как есть: для статьи, впервые попавшей в рейтинг, это now,
// для остальных RankAndDiff переносит сохранённое значение.
func (p *Postgres) ratingUpdateQuery(upd domain.RatingUpdate) sq.UpdateBuilder {
	return p.psql.Update("articles").
		SetMap(map[string]any{
			"previous_rating":   upd.PreviousRating,
			"rating":            upd.Rating,
			"rating_delta":      upd.RatingDelta,
			"previous_position": upd.PreviousPosition,
			"current_position":  upd.CurrentPosition,
			"position_change":   upd.PositionChange,
			"first_seen_at":     upd.FirstSeenAt,
			"rating_updated_at": upd.RatingUpdatedAt,
		}).
		Where(sq.Eq{"id": upd.ArticleID})
}

// UpdateMetricsByURL обновляет метрики статьи по URL. Пустой ID означает, что статьи нет.
func (p *Postgres) UpdateMetricsByURL(ctx context.Context, url string, m domain.Metrics) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var id string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
UPDATE articles
SET views = $2, forwards = $3, reactions = $4, replies = $5
WHERE url = $1
RETURNING id
`, url, m.Views, m.Forwards, m.Reactions, m.Replies).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "articles_update_metrics", "articles", start, nil)
		return "", nil
	}
	metrics.ObserveNetworkRequest("postgres", "articles_update_metrics", "articles", start, err)
	return id, err
}

const weightsColumns = `key, name, views_weight, forwards_weight, reactions_weight, replies_weight,
age_penalty, min_rating, max_age_hours, description, updated_by, updated_at`

func scanWeights(row rowScanner) (domain.WeightSettings, error) {
	var (
		ws          domain.WeightSettings
		description sql.NullString
		updatedBy   sql.NullString
	)
	err := row.Scan(&ws.Key, &ws.Name, &ws.ViewsWeight, &ws.ForwardsWeight, &ws.ReactionsWeight, &ws.RepliesWeight,
		&ws.AgePenalty, &ws.MinRating, &ws.MaxAgeHours, &description, &updatedBy, &ws.UpdatedAt)
	if err != nil {
		return domain.WeightSettings{}, err
	}
	ws.Description = description.String
	ws.UpdatedBy = updatedBy.String
	return ws, nil
}

// GetWeights возвращает настройки формулы по ключу.
func (p *Postgres) GetWeights(ctx context.Context, key string) (domain.WeightSettings, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	ws, err := scanWeights(p.pool.QueryRow(ctx, `SELECT `+weightsColumns+` FROM rating_settings WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "rating_settings_get", "rating_settings", start, nil)
		return domain.WeightSettings{}, domain.ErrWeightsNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "rating_settings_get", "rating_settings", start, err)
	return ws, err
}

// CreateWeights вставляет настройки, если строки ещё нет, и возвращает сохранённую строку.
func (p *Postgres) CreateWeights(ctx context.Context, ws domain.WeightSettings) (domain.WeightSettings, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO rating_settings (key, name, views_weight, forwards_weight, reactions_weight, replies_weight,
	age_penalty, min_rating, max_age_hours, description, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (key) DO NOTHING
`, ws.Key, ws.Name, ws.ViewsWeight, ws.ForwardsWeight, ws.ReactionsWeight, ws.RepliesWeight,
		ws.AgePenalty, ws.MinRating, ws.MaxAgeHours, ws.Description, nullString(ws.UpdatedBy))
	metrics.ObserveNetworkRequest("postgres", "rating_settings_create", "rating_settings", start, err)
	if err != nil {
		return domain.WeightSettings{}, err
	}
	return p.GetWeights(ctx, ws.Key)
}

// SaveWeights перезаписывает настройки формулы.
func (p *Postgres) SaveWeights(ctx context.Context, ws domain.WeightSettings) (domain.WeightSettings, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	saved, err := scanWeights(p.pool.QueryRow(ctx, `
INSERT INTO rating_settings (key, name, views_weight, forwards_weight, reactions_weight, replies_weight,
	age_penalty, min_rating, max_age_hours, description, updated_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
ON CONFLICT (key) DO UPDATE SET
	name = EXCLUDED.name,
	views_weight = EXCLUDED.views_weight,
	forwards_weight = EXCLUDED.forwards_weight,
	reactions_weight = EXCLUDED.reactions_weight,
	replies_weight = EXCLUDED.replies_weight,
	age_penalty = EXCLUDED.age_penalty,
	min_rating = EXCLUDED.min_rating,
	max_age_hours = EXCLUDED.max_age_hours,
	description = EXCLUDED.description,
	updated_by = EXCLUDED.updated_by,
	updated_at = now()
RETURNING `+weightsColumns,
		ws.Key, ws.Name, ws.ViewsWeight, ws.ForwardsWeight, ws.ReactionsWeight, ws.RepliesWeight,
		ws.AgePenalty, ws.MinRating, ws.MaxAgeHours, ws.Description, nullString(ws.UpdatedBy)))
	metrics.ObserveNetworkRequest("postgres", "rating_settings_save", "rating_settings", start, err)
	return saved, err
}

// ListActiveSources возвращает включённые источники.
func (p *Postgres) ListActiveSources(ctx context.Context) ([]domain.Source, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, type, url, is_active
FROM sources
WHERE is_active
ORDER BY name
`)
	metrics.ObserveNetworkRequest("postgres", "sources_list_active", "sources", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		var src domain.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.Type, &src.URL, &src.IsActive); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// GetSource возвращает активный источник по ID.
func (p *Postgres) GetSource(ctx context.Context, id string) (domain.Source, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var src domain.Source
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT id, name, type, url, is_active FROM sources WHERE id = $1 AND is_active`, id).
		Scan(&src.ID, &src.Name, &src.Type, &src.URL, &src.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "sources_get", "sources", start, nil)
		return domain.Source{}, domain.ErrSourceNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "sources_get", "sources", start, err)
	return src, err
}

func nullString(v string) sql.NullString {
	v = strings.TrimSpace(v)
	return sql.NullString{String: v, Valid: v != ""}
}
