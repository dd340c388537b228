package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	documentColumns = "id, data, created_by, updated_by, created_at, updated_at"

	insertDocumentQuery = "INSERT INTO documents (collection, id, data, created_by, updated_by, created_at, updated_at) " +
		"VALUES ($1, $2, $3, $4, $4, $5, $5) "
)

type pgCollection struct {
	name string
	s    *PgStore
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc Document
		raw []byte
	)

	err := row.Scan(
		&doc.ID,
		&raw,
		&doc.CreatedBy,
		&doc.UpdatedBy,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return nil, fmt.Errorf("decode document %q: %w", doc.ID, err)
	}

	return &doc, nil
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return docs, nil
}

func encodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = make(map[string]any)
	}
	return json.Marshal(data)
}

func (c *pgCollection) Name() string {
	return c.name
}

func (c *pgCollection) Get(ctx context.Context, id string) (*Document, error) {
	row := c.s.conn.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE collection = $1 AND id = $2 LIMIT 1",
		c.name,
		id,
	)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (c *pgCollection) GetAll(ctx context.Context) ([]Document, error) {
	rows, err := c.s.conn.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE collection = $1 ORDER BY created_at, id",
		c.name,
	)
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", c.name, err)
	}

	return scanDocuments(rows)
}

func (c *pgCollection) Add(ctx context.Context, data map[string]any, actorId string) (*Document, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}

	row := c.s.conn.QueryRowContext(ctx,
		insertDocumentQuery+"RETURNING "+documentColumns,
		c.name,
		uuid.NewString(),
		raw,
		actorId,
		time.Now().UTC(),
	)

	return scanDocument(row)
}

func (c *pgCollection) AddWithID(ctx context.Context, id string, data map[string]any, actorId string) (*Document, bool, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, false, err
	}

	row := c.s.conn.QueryRowContext(ctx,
		insertDocumentQuery+"ON CONFLICT (collection, id) DO NOTHING RETURNING "+documentColumns,
		c.name,
		id,
		raw,
		actorId,
		time.Now().UTC(),
	)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		existing, err := c.Get(ctx, id)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}

	return doc, true, nil
}

func (c *pgCollection) Update(ctx context.Context, id, actorId string, patch map[string]any) (*Document, error) {
	raw, err := encodeData(patch)
	if err != nil {
		return nil, err
	}

	row := c.s.conn.QueryRowContext(ctx,
		"UPDATE documents SET data = data || $3::jsonb, updated_by = $4, updated_at = $5 "+
			"WHERE collection = $1 AND id = $2 RETURNING "+documentColumns,
		c.name,
		id,
		raw,
		actorId,
		time.Now().UTC(),
	)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (c *pgCollection) Delete(ctx context.Context, id, _ string) error {
	res, err := c.s.conn.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = $1 AND id = $2",
		c.name,
		id,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

func (c *pgCollection) Query(ctx context.Context, field string, value any) ([]Document, error) {
	if field == "" {
		return nil, ErrInvalidQuery
	}

	rows, err := c.s.conn.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents "+
			"WHERE collection = $1 AND data->>$2 = $3 ORDER BY created_at, id",
		c.name,
		field,
		queryValue(value),
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}

	return scanDocuments(rows)
}

func (c *pgCollection) Subscribe(ctx context.Context) (Subscription, error) {
	return c.s.broker.subscribe(ctx, c.name, nil), nil
}

func (c *pgCollection) SubscribeToDoc(ctx context.Context, id string) (Subscription, error) {
	return c.s.broker.subscribe(ctx, c.name, docFilter(id)), nil
}

func (c *pgCollection) SubscribeToQuery(ctx context.Context, field string, value any) (Subscription, error) {
	if field == "" {
		return nil, ErrInvalidQuery
	}
	return c.s.broker.subscribe(ctx, c.name, queryFilter(field, value)), nil
}
