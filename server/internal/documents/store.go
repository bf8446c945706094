package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/bhandras/codetutor/server/internal/database"
	"github.com/bhandras/codetutor/shared/logger"
	"github.com/google/uuid"
)

// DefaultMaxBytes is the upload size limit.
const DefaultMaxBytes = 10 << 20

const (
	maxQueryTerms = 16
	maxCandidates = 500
	minTermRunes  = 2
	scoreDistinct = 10.0
)

// ErrTooLarge is returned when an upload exceeds the size limit.
var ErrTooLarge = errors.New("file too large")

// ErrEmpty is returned when an upload holds no indexable text.
var ErrEmpty = errors.New("document has no text")

// Document describes one ingested upload.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// StoreConfig configures a Store.
type StoreConfig struct {
	UploadDir string
	MaxBytes  int64
	Splitter  Splitter
}

// Store persists uploaded reference documents and serves keyword retrieval
// over their fragments.
type Store struct {
	db       *database.DB
	dir      string
	maxBytes int64
	splitter Splitter
}

// NewStore returns a Store writing uploads under cfg.UploadDir.
func NewStore(db *database.DB, cfg StoreConfig) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("documents: database is required")
	}
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("documents: upload dir is required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("documents: create upload dir: %w", err)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Splitter.ChunkSize <= 0 {
		cfg.Splitter = NewSplitter()
	}
	return &Store{
		db:       db,
		dir:      cfg.UploadDir,
		maxBytes: cfg.MaxBytes,
		splitter: cfg.Splitter,
	}, nil
}

// MaxBytes returns the upload size limit.
func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Ingest stores the upload, splits it into fragments and indexes them.
func (s *Store) Ingest(ctx context.Context, filename string, r io.Reader) (Document, error) {
	filename = filepath.Base(filename)
	if !Supported(filename) {
		return Document{}, fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(filename))
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return Document{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return Document{}, ErrTooLarge
	}

	text, err := Extract(filename, data)
	if err != nil {
		return Document{}, err
	}
	chunks := s.splitter.Split(text)
	if len(chunks) == 0 {
		return Document{}, ErrEmpty
	}

	doc := Document{
		ID:         uuid.NewString(),
		Filename:   filename,
		SizeBytes:  int64(len(data)),
		ChunkCount: len(chunks),
		CreatedAt:  time.Now().UTC(),
	}
	stored := filepath.Join(s.dir, doc.ID+strings.ToLower(filepath.Ext(filename)))
	if err := os.WriteFile(stored, data, 0o644); err != nil {
		return Document{}, fmt.Errorf("save upload: %w", err)
	}

	if err := s.insert(ctx, doc, stored, chunks); err != nil {
		_ = os.Remove(stored)
		return Document{}, err
	}

	logger.Infof("[documents] ingested %s (%d bytes, %d chunks)", filename, doc.SizeBytes, doc.ChunkCount)
	return doc, nil
}

func (s *Store) insert(ctx context.Context, doc Document, stored string, chunks []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, filename, stored_path, size_bytes, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Filename, stored, doc.SizeBytes, doc.ChunkCount, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (document_id, seq, content) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, doc.ID, i, c); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// List returns the ingested documents, newest first.
func (s *Store) List(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, size_bytes, chunk_count, created_at
		FROM documents
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.SizeBytes, &d.ChunkCount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ChunkCount returns the number of indexed fragments.
func (s *Store) ChunkCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Ping checks that the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type candidate struct {
	id      int64
	content string
	score   float64
}

// Retrieve returns up to k fragments ranked by keyword overlap with query.
// An empty index or a query without usable terms yields no fragments.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var (
		where strings.Builder
		args  = make([]any, 0, len(terms)+1)
	)
	for i, t := range terms {
		if i > 0 {
			where.WriteString(" OR ")
		}
		where.WriteString("instr(lower(content), ?) > 0")
		args = append(args, t)
	}
	args = append(args, maxCandidates)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content FROM document_chunks WHERE `+where.String()+` ORDER BY id LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var cands []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.content); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rank(cands, terms)
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.content
	}
	return out, nil
}

// rank scores candidates by distinct matched terms, weighted by how rare a
// term is among the candidates, plus damped occurrence counts.
func rank(cands []candidate, terms []string) {
	lowered := make([]string, len(cands))
	df := make(map[string]int, len(terms))
	for i, c := range cands {
		lowered[i] = strings.ToLower(c.content)
		for _, t := range terms {
			if strings.Contains(lowered[i], t) {
				df[t]++
			}
		}
	}

	n := float64(len(cands))
	for i := range cands {
		var score float64
		for _, t := range terms {
			tf := strings.Count(lowered[i], t)
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + n/float64(df[t]))
			score += idf * (scoreDistinct + math.Log1p(float64(tf)))
		}
		cands[i].score = score
	}

	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].score != cands[b].score {
			return cands[a].score > cands[b].score
		}
		return cands[a].id < cands[b].id
	})
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "if": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "the": true,
	"this": true, "to": true, "with": true, "code": true,
}

// queryTerms lowercases query and returns its distinct word tokens.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		if len([]rune(f)) < minTermRunes || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return terms
}
