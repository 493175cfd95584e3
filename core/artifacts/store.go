// Package artifacts implements the versioned, append-only artifact store.
// Artifacts are addressed by (project, name, version); a new version is
// always created rather than overwriting, and the version ledger lives in
// SQLite with content on disk, hashed for idempotent reads.
package artifacts

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	_ "modernc.org/sqlite"
)

const (
	// ledgerFile is the SQLite database holding the version ledger.
	ledgerFile = "ledger.db"

	// Hot metadata cache sizing. Only immutable (name, version) lookups are
	// cached; "latest" queries always hit the ledger.
	defaultNumCounters = 1e5
	defaultBufferItems = 64
	metadataCost       = 256
)

var (
	// ErrArtifactNotFound indicates no versions exist under the name.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrVersionNotFound indicates the name exists but not that version.
	ErrVersionNotFound = errors.New("artifact version not found")

	// ErrStoreClosed indicates use after Close.
	ErrStoreClosed = errors.New("artifact store is closed")
)

// Artifact is one immutable version of a named output.
type Artifact struct {
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	Path      string    `json:"path"`
	Producer  string    `json:"producer,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Config holds configuration for opening a store.
type Config struct {
	// Root is the directory holding the ledger and artifact content.
	Root string

	// CacheMaxCost bounds the hot metadata cache in bytes.
	CacheMaxCost int64
}

// Store is the shared artifact store. Writes are append-only and versioned;
// allocation of the next version for a name is serialized through a SQLite
// transaction, so concurrent project loops never clobber one another.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	root   string
	cache  *ristretto.Cache
	closed bool
}

// NewStore opens (or creates) a store rooted at cfg.Root.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("artifact store requires a root directory")
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}

	db, err := openLedger(filepath.Join(cfg.Root, ledgerFile))
	if err != nil {
		return nil, err
	}

	maxCost := cfg.CacheMaxCost
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     maxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata cache: %w", err)
	}

	return &Store{db: db, root: cfg.Root, cache: cache}, nil
}

func openLedger(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		version INTEGER NOT NULL,
		hash TEXT NOT NULL,
		size INTEGER NOT NULL,
		path TEXT NOT NULL,
		producer TEXT,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (project_id, name, version)
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_project ON artifacts(project_id);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// Put appends a new version of the named artifact from the given reader.
// The version number is allocated atomically: the read-modify-write happens
// inside one ledger transaction under the store lock.
func (s *Store) Put(projectID, name, producer string, content io.Reader) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Artifact{}, ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Artifact{}, fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	version, err := nextVersion(tx, projectID, name)
	if err != nil {
		return Artifact{}, err
	}

	artifact, err := s.writeContent(projectID, name, version, content)
	if err != nil {
		return Artifact{}, err
	}
	artifact.Producer = producer

	if err := insertVersion(tx, artifact); err != nil {
		os.Remove(artifact.Path)
		return Artifact{}, err
	}
	if err := tx.Commit(); err != nil {
		os.Remove(artifact.Path)
		return Artifact{}, fmt.Errorf("commit ledger transaction: %w", err)
	}

	s.cache.Set(versionKey(projectID, name, version), artifact, metadataCost)
	return artifact, nil
}

// PutFile appends a new version from an existing file on disk.
func (s *Store) PutFile(projectID, name, producer, srcPath string) (Artifact, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return Artifact{}, fmt.Errorf("open artifact source: %w", err)
	}
	defer f.Close()

	return s.Put(projectID, name, producer, f)
}

// RegisterUpload ingests a raw uploaded file as the named artifact's next
// version, which is version 1 for a fresh project. This is the upload
// boundary's entry point: the content hash is computed here.
func (s *Store) RegisterUpload(projectID, name, srcPath string) (Artifact, error) {
	return s.PutFile(projectID, name, "upload", srcPath)
}

func nextVersion(tx *sql.Tx, projectID, name string) (int, error) {
	var current sql.NullInt64
	err := tx.QueryRow(
		`SELECT MAX(version) FROM artifacts WHERE project_id = ? AND name = ?`,
		projectID, name,
	).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	return int(current.Int64) + 1, nil
}

func (s *Store) writeContent(projectID, name string, version int, content io.Reader) (Artifact, error) {
	dir := filepath.Join(s.root, projectID, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Artifact{}, fmt.Errorf("create artifact directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("v%d", version))
	f, err := os.Create(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("create artifact file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), content)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return Artifact{}, fmt.Errorf("write artifact content: %w", err)
	}

	return Artifact{
		ProjectID: projectID,
		Name:      name,
		Version:   version,
		Hash:      hex.EncodeToString(hasher.Sum(nil)),
		Size:      size,
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func insertVersion(tx *sql.Tx, a Artifact) error {
	_, err := tx.Exec(`
		INSERT INTO artifacts
		(project_id, name, version, hash, size, path, producer, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ProjectID, a.Name, a.Version, a.Hash, a.Size, a.Path, a.Producer, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert artifact version: %w", err)
	}
	return nil
}

// GetLatest returns the highest version of the named artifact.
func (s *Store) GetLatest(projectID, name string) (Artifact, error) {
	row := s.db.QueryRow(`
		SELECT project_id, name, version, hash, size, path, producer, created_at
		FROM artifacts WHERE project_id = ? AND name = ?
		ORDER BY version DESC LIMIT 1`,
		projectID, name)

	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, ErrArtifactNotFound
	}
	return artifact, err
}

// GetVersion returns one specific immutable version. Repeated calls for the
// same (name, version) always return the same content hash.
func (s *Store) GetVersion(projectID, name string, version int) (Artifact, error) {
	if cached, ok := s.cache.Get(versionKey(projectID, name, version)); ok {
		if artifact, ok := cached.(Artifact); ok {
			return artifact, nil
		}
	}

	row := s.db.QueryRow(`
		SELECT project_id, name, version, hash, size, path, producer, created_at
		FROM artifacts WHERE project_id = ? AND name = ? AND version = ?`,
		projectID, name, version)

	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, latestErr := s.GetLatest(projectID, name); errors.Is(latestErr, ErrArtifactNotFound) {
			return Artifact{}, ErrArtifactNotFound
		}
		return Artifact{}, ErrVersionNotFound
	}
	if err != nil {
		return Artifact{}, err
	}

	s.cache.Set(versionKey(projectID, name, version), artifact, metadataCost)
	return artifact, nil
}

// ListVersions returns every version of the named artifact, oldest first.
func (s *Store) ListVersions(projectID, name string) ([]Artifact, error) {
	rows, err := s.db.Query(`
		SELECT project_id, name, version, hash, size, path, producer, created_at
		FROM artifacts WHERE project_id = ? AND name = ?
		ORDER BY version ASC`,
		projectID, name)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	artifacts, err := collectArtifacts(rows)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, ErrArtifactNotFound
	}
	return artifacts, nil
}

// List returns the latest version of every artifact in a project.
func (s *Store) List(projectID string) ([]Artifact, error) {
	rows, err := s.db.Query(`
		SELECT project_id, name, version, hash, size, path, producer, created_at
		FROM artifacts
		WHERE project_id = ? AND version = (
			SELECT MAX(version) FROM artifacts inner_a
			WHERE inner_a.project_id = artifacts.project_id
			  AND inner_a.name = artifacts.name
		)
		ORDER BY name ASC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	return collectArtifacts(rows)
}

// Open returns a reader over an artifact's content.
func (s *Store) Open(a Artifact) (io.ReadCloser, error) {
	return os.Open(a.Path)
}

// Content reads an artifact's content fully into memory.
func (s *Store) Content(a Artifact) ([]byte, error) {
	return os.ReadFile(a.Path)
}

// Close releases the ledger and cache.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.closed = true
	s.cache.Close()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (Artifact, error) {
	var a Artifact
	var producer sql.NullString
	err := row.Scan(&a.ProjectID, &a.Name, &a.Version, &a.Hash, &a.Size, &a.Path, &producer, &a.CreatedAt)
	if err != nil {
		return Artifact{}, err
	}
	a.Producer = producer.String
	return a, nil
}

func collectArtifacts(rows *sql.Rows) ([]Artifact, error) {
	var artifacts []Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

func versionKey(projectID, name string, version int) string {
	return fmt.Sprintf("%s/%s/v%d", projectID, name, version)
}
