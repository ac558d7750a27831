package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/shortlink/internal/shortener"
)

const uniqueViolation = "23505"

// PostgresStore is a PostgreSQL implementation of shortener.Repository.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed link store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (p *PostgresStore) Create(ctx context.Context, code shortener.Code, destination string) (*shortener.Link, error) {
	if err := shortener.ValidateNew(code, destination); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO links (code, url, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, code, url, clicks, last_clicked, created_at
	`

	link, err := scanLink(p.pool.QueryRow(ctx, query, string(code), destination, time.Now().UTC()))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, shortener.ErrConflict
		}

		return nil, fmt.Errorf("insert link: %w", err)
	}

	return link, nil
}

func (p *PostgresStore) GetByCode(ctx context.Context, code shortener.Code) (*shortener.Link, error) {
	query := `
		SELECT id, code, url, clicks, last_clicked, created_at
		FROM links
		WHERE code = $1
	`

	link, err := scanLink(p.pool.QueryRow(ctx, query, string(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shortener.ErrNotFound
		}

		return nil, fmt.Errorf("select link: %w", err)
	}

	return link, nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*shortener.Link, error) {
	query := `
		SELECT id, code, url, clicks, last_clicked, created_at
		FROM links
		ORDER BY created_at DESC, id DESC
	`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	links, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*shortener.Link, error) {
		return scanLink(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	return links, nil
}

func (p *PostgresStore) Delete(ctx context.Context, code shortener.Code) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM links WHERE code = $1`, string(code))
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return shortener.ErrNotFound
	}

	return nil
}

// IncrementClicks applies the delta in a single UPDATE so concurrent flushes
// from several instances add up instead of overwriting each other.
// GREATEST ignores NULL, so the first access simply sets last_clicked.
func (p *PostgresStore) IncrementClicks(
	ctx context.Context, code shortener.Code, count int64, lastAccessedAt time.Time,
) error {
	if count < 0 {
		return fmt.Errorf("%w: negative click delta %d", shortener.ErrInvalidArgument, count)
	}

	query := `
		UPDATE links
		SET clicks = clicks + $2,
		    last_clicked = GREATEST(last_clicked, $3)
		WHERE code = $1
	`

	tag, err := p.pool.Exec(ctx, query, string(code), count, lastAccessedAt.UTC())
	if err != nil {
		return fmt.Errorf("increment clicks: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return shortener.ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Shutdown closes the connection pool.
func (p *PostgresStore) Shutdown() error {
	p.pool.Close()

	return nil
}

func scanLink(row pgx.Row) (*shortener.Link, error) {
	var (
		link shortener.Link
		code string
	)

	err := row.Scan(
		&link.ID,
		&code,
		&link.Destination,
		&link.ClickCount,
		&link.LastAccessedAt,
		&link.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	link.Code = shortener.Code(code)

	return &link, nil
}

// Compile-time check.
var _ shortener.Repository = (*PostgresStore)(nil)
