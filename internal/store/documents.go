package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Document is a stored document. Data is nil for a missing document.
type Document struct {
	Path       string
	Collection string
	ID         string
	Data       map[string]any
}

// SplitDocumentPath splits "a/b/c/d" into collection "a/b/c" and id "d".
// A document path has an even, non-zero number of segments.
func SplitDocumentPath(path string) (collection, id string, err error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 || len(segs)%2 != 0 {
		return "", "", fmt.Errorf("invalid document path %q", path)
	}
	for _, s := range segs {
		if s == "" {
			return "", "", fmt.Errorf("invalid document path %q: empty segment", path)
		}
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

// WriteDocument replaces the document at path and returns its snapshots
// before and after the write. before is nil when the document was created.
func (s *Store) WriteDocument(ctx context.Context, path string, data map[string]any) (before, after map[string]any, err error) {
	collection, id, err := SplitDocumentPath(path)
	if err != nil {
		return nil, nil, fmt.Errorf("write document: %w", err)
	}
	path = collection + "/" + id

	encoded, err := encodeDocument(data)
	if err != nil {
		return nil, nil, fmt.Errorf("write document %s: %w", path, err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		before, err = getDocument(ctx, tx, path)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (path, collection, id, data)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET data = excluded.data
		`, path, collection, id, encoded)
		if err != nil {
			return fmt.Errorf("write document %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	after, err = decodeDocument(encoded)
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// DeleteDocument removes the document at path and returns its last
// snapshot, or nil if it did not exist.
func (s *Store) DeleteDocument(ctx context.Context, path string) (before map[string]any, err error) {
	collection, id, err := SplitDocumentPath(path)
	if err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}
	path = collection + "/" + id

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		before, err = getDocument(ctx, tx, path)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
			return fmt.Errorf("delete document %s: %w", path, err)
		}
		return nil
	})
	return before, err
}

// GetDocument returns the document at path, or nil if it does not exist.
func (s *Store) GetDocument(ctx context.Context, path string) (map[string]any, error) {
	collection, id, err := SplitDocumentPath(path)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return getDocument(ctx, s.db, collection+"/"+id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDocument(ctx context.Context, q queryRower, path string) (map[string]any, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", path, err)
	}
	return decodeDocument(data)
}

// ListDocuments returns up to limit documents of a collection with ids
// after the given cursor, ordered by id. next is the cursor for the
// following page, or "" when this page is the last.
func (s *Store) ListDocuments(ctx context.Context, collection string, limit int, after string) (docs []Document, next string, err error) {
	if limit <= 0 {
		return nil, "", fmt.Errorf("list documents: limit must be positive")
	}
	collection = strings.Trim(collection, "/")

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, id, data
		FROM documents
		WHERE collection = ? AND id > ?
		ORDER BY id COLLATE BINARY ASC
		LIMIT ?
	`, collection, after, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc Document
		var data string
		if err := rows.Scan(&doc.Path, &doc.ID, &data); err != nil {
			return nil, "", fmt.Errorf("scan document: %w", err)
		}
		doc.Collection = collection
		if doc.Data, err = decodeDocument(data); err != nil {
			return nil, "", err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate documents: %w", err)
	}

	if len(docs) > limit {
		docs = docs[:limit]
		next = docs[limit-1].ID
	}
	return docs, next, nil
}

// Timestamp keys of the stored form of a time.Time.
const (
	timestampSeconds = "_seconds"
	timestampNanos   = "_nanoseconds"
)

// encodeDocument serializes document data. time.Time values become
// {"_seconds": n, "_nanoseconds": n}.
func encodeDocument(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(encodeTimestamps(data))
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(b), nil
}

// decodeDocument parses stored document data, turning timestamp objects
// back into time.Time.
func decodeDocument(data string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	decoded, _ := DecodeTimestamps(doc).(map[string]any)
	return decoded, nil
}

func encodeTimestamps(v any) any {
	switch x := v.(type) {
	case time.Time:
		return map[string]any{
			timestampSeconds: x.Unix(),
			timestampNanos:   x.Nanosecond(),
		}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = encodeTimestamps(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = encodeTimestamps(e)
		}
		return out
	default:
		return v
	}
}

// DecodeTimestamps replaces every {"_seconds", "_nanoseconds"} object in a
// decoded JSON value with the UTC time.Time it denotes.
func DecodeTimestamps(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if ts, ok := asTimestamp(x); ok {
			return ts
		}
		for k, e := range x {
			x[k] = DecodeTimestamps(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = DecodeTimestamps(e)
		}
		return x
	default:
		return v
	}
}

func asTimestamp(m map[string]any) (time.Time, bool) {
	if len(m) != 2 {
		return time.Time{}, false
	}
	secs, ok := m[timestampSeconds].(float64)
	if !ok {
		return time.Time{}, false
	}
	nanos, ok := m[timestampNanos].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(secs), int64(nanos)).UTC(), true
}
