// Package knowledge persists the retrieval corpus: ingested documents, their
// parent sections, indexed chunks with embeddings, and the image caption
// cache. Storage is PostgreSQL with the pgvector extension.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/mecanio/mecanio/internal/log"
)

// DB is the database surface Store needs. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store manages knowledge base rows. Safe for concurrent use.
type Store struct {
	db     DB
	logger log.Logger
}

// NewStore creates a Store on the given database handle.
func NewStore(db DB, logger log.Logger) *Store {
	return &Store{db: db, logger: log.NopIfNil(logger)}
}

// CheckAndRegister claims a document fingerprint. It returns true when the
// document was newly registered and false when an identical document is
// already present. The insert-or-nothing form makes the first writer win
// under concurrent ingestion of the same file.
func (s *Store) CheckAndRegister(ctx context.Context, doc Document) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO documents (fingerprint, filename, page_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint) DO NOTHING`,
		doc.Fingerprint, doc.Filename, doc.PageCount)
	if err != nil {
		return false, fmt.Errorf("register document: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetPageCount records a document's page count once segmentation knows it.
// Registration happens before parsing, so the count arrives late.
func (s *Store) SetPageCount(ctx context.Context, fingerprint string, pages int) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE documents SET page_count = $2 WHERE fingerprint = $1`,
		fingerprint, pages); err != nil {
		return fmt.Errorf("set page count: %w", err)
	}
	return nil
}

// Unregister removes a document and, via cascading deletes, all of its
// parents and chunks. Used to roll back a failed ingestion.
func (s *Store) Unregister(ctx context.Context, fingerprint string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM documents WHERE fingerprint = $1`, fingerprint); err != nil {
		return fmt.Errorf("unregister document: %w", err)
	}
	return nil
}

// Documents lists ingested documents, newest first.
func (s *Store) Documents(ctx context.Context) ([]Document, error) {
	rows, err := s.db.Query(ctx, `
		SELECT fingerprint, filename, page_count, ingested_at
		FROM documents ORDER BY ingested_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Fingerprint, &d.Filename, &d.PageCount, &d.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SaveSections writes a document's parents and chunks in one transaction so
// searches never observe a half-ingested document.
func (s *Store) SaveSections(ctx context.Context, parents []Parent, chunks []Chunk) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, p := range parents {
		batch.Queue(`
			INSERT INTO parents (id, document_fingerprint, title, content, char_count)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			p.ID, p.DocumentFingerprint, p.Title, p.Content, p.CharCount)
	}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO chunks (id, parent_id, document_fingerprint, kind, title, content, embedding, page)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			c.ID, c.ParentID, c.DocumentFingerprint, c.Kind, c.Title, c.Content,
			pgvector.NewVector(c.Embedding), c.Page)
	}

	br := tx.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("save sections: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("save sections: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	s.logger.Debug("saved document sections", "parents", len(parents), "chunks", len(chunks))
	return nil
}

// ParentByID fetches a single parent. Returns ErrNotFound for unknown IDs.
func (s *Store) ParentByID(ctx context.Context, id string) (Parent, error) {
	var p Parent
	err := s.db.QueryRow(ctx, `
		SELECT id, document_fingerprint, title, content, char_count
		FROM parents WHERE id = $1`, id).
		Scan(&p.ID, &p.DocumentFingerprint, &p.Title, &p.Content, &p.CharCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Parent{}, ErrNotFound
	}
	if err != nil {
		return Parent{}, fmt.Errorf("get parent %q: %w", id, err)
	}
	return p, nil
}

// ParentsByID fetches parents in bulk. Missing IDs are simply absent from
// the result map; callers decide whether that matters.
func (s *Store) ParentsByID(ctx context.Context, ids []string) (map[string]Parent, error) {
	if len(ids) == 0 {
		return map[string]Parent{}, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, document_fingerprint, title, content, char_count
		FROM parents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get parents: %w", err)
	}
	defer rows.Close()

	parents := make(map[string]Parent, len(ids))
	for rows.Next() {
		var p Parent
		if err := rows.Scan(&p.ID, &p.DocumentFingerprint, &p.Title, &p.Content, &p.CharCount); err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		parents[p.ID] = p
	}
	return parents, rows.Err()
}

// VectorSearch returns the k nearest chunks to the query embedding by cosine
// distance, best first. Similarity is 1 minus the cosine distance.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, k int) ([]VectorHit, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := s.db.Query(ctx, `
		SELECT id, parent_id, kind, title, content, page, 1 - (embedding <=> $1) AS similarity
		FROM chunks
		ORDER BY embedding <=> $1
		LIMIT $2`, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.ID, &h.ParentID, &h.Kind, &h.Title, &h.Content, &h.Page, &h.Similarity); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ChunksByID fetches chunk rows in bulk, without embeddings. Missing IDs
// are absent from the result map.
func (s *Store) ChunksByID(ctx context.Context, ids []string) (map[string]Chunk, error) {
	if len(ids) == 0 {
		return map[string]Chunk{}, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, parent_id, document_fingerprint, kind, title, content, page
		FROM chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	chunks := make(map[string]Chunk, len(ids))
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.ParentID, &c.DocumentFingerprint, &c.Kind, &c.Title, &c.Content, &c.Page); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks[c.ID] = c
	}
	return chunks, rows.Err()
}

// EachChunk streams every chunk's indexable text. The keyword index rebuilds
// itself through this; the text matches what ingestion feeds the index.
func (s *Store) EachChunk(ctx context.Context, fn func(id, text string) error) error {
	rows, err := s.db.Query(ctx, `SELECT id, title, content FROM chunks`)
	if err != nil {
		return fmt.Errorf("stream chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, title, content string
		if err := rows.Scan(&id, &title, &content); err != nil {
			return fmt.Errorf("scan chunk: %w", err)
		}
		if err := fn(id, IndexText(title, content)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// IndexText is the canonical text form fed to the keyword index: the section
// title prepended to the chunk content so header terms are searchable.
func IndexText(title, content string) string {
	if title == "" {
		return content
	}
	return title + "\n" + content
}

// CaptionFor looks up a cached caption by image fingerprint. Returns
// ErrNotFound on a cache miss.
func (s *Store) CaptionFor(ctx context.Context, imageFingerprint string) (string, error) {
	var caption string
	err := s.db.QueryRow(ctx,
		`SELECT caption FROM caption_cache WHERE image_fingerprint = $1`, imageFingerprint).
		Scan(&caption)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("caption lookup: %w", err)
	}
	return caption, nil
}

// SaveCaption stores a generated caption keyed by image fingerprint. A
// repeated fingerprint keeps the existing caption; the first generation wins
// and later ingests of the same image stay cache hits.
func (s *Store) SaveCaption(ctx context.Context, imageFingerprint, caption string) error {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO caption_cache (image_fingerprint, caption)
		VALUES ($1, $2)
		ON CONFLICT (image_fingerprint) DO NOTHING`,
		imageFingerprint, caption); err != nil {
		return fmt.Errorf("save caption: %w", err)
	}
	return nil
}

// Stats reports knowledge base row counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM documents),
			(SELECT count(*) FROM parents),
			(SELECT count(*) FROM chunks),
			(SELECT count(*) FROM caption_cache)`).
		Scan(&st.Documents, &st.Parents, &st.Chunks, &st.Captions)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Reset wipes the knowledge base: documents, parents, chunks, and the
// caption cache. Conversations are managed separately and survive a reset.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.Exec(ctx,
		`TRUNCATE documents, parents, chunks, caption_cache`); err != nil {
		return fmt.Errorf("reset knowledge base: %w", err)
	}
	s.logger.Info("knowledge base reset")
	return nil
}
