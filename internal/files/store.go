// Package files stores migrated file objects in a local hierarchical
// object store backed by SQLite.
package files

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Node types in fs_items.
const (
	nodeCollection = 1
	nodeFile       = 2
)

// FileEntry is the stored state of a file node.
type FileEntry struct {
	ID    string
	Name  string
	Size  int64
	Mtime time.Time
}

// Store is the SQLite-backed object store
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open opens (or creates) the store database
func Open(dbPath string, logger *logrus.Logger) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("File store initialized")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// EnsureCollection walks a folder path, creating missing collections,
// and returns the id of the last segment.
func (s *Store) EnsureCollection(path string) (string, error) {
	parent := sql.NullString{}
	var id string

	for _, segment := range strings.Split(strings.Trim(path, "/"), "/") {
		if segment == "" {
			continue
		}
		found, err := s.findChild(parent, segment, nodeCollection)
		if err != nil {
			return "", err
		}
		if found == "" {
			found, err = s.createCollection(parent, segment)
			if err != nil {
				return "", err
			}
		}
		id = found
		parent = sql.NullString{String: found, Valid: true}
	}

	if id == "" {
		return "", fmt.Errorf("empty collection path")
	}
	return id, nil
}

func (s *Store) findChild(parent sql.NullString, name string, nodeType int) (string, error) {
	query := `
		SELECT i.id FROM fs_items i
		JOIN fs_properties p ON p.item_id = i.id AND p.key = 'name'
		WHERE i.type = ? AND p.value = ? AND i.parent_id IS ?`

	var id string
	err := s.db.QueryRow(query, nodeType, name, parent).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up node %s: %w", name, err)
	}
	return id, nil
}

func (s *Store) createCollection(parent sql.NullString, name string) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	id := uuid.NewString()
	if _, err := tx.Exec(
		"INSERT INTO fs_items (id, parent_id, type, mtime) VALUES (?, ?, ?, ?)",
		id, parent, nodeCollection, time.Now().Unix(),
	); err != nil {
		return "", fmt.Errorf("failed to insert collection: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO fs_properties (item_id, key, value) VALUES (?, 'name', ?)",
		id, name,
	); err != nil {
		return "", fmt.Errorf("failed to set collection name: %w", err)
	}
	if parent.Valid {
		if _, err := tx.Exec(
			"INSERT INTO fs_relations (parent_id, child_id) VALUES (?, ?)",
			parent.String, id,
		); err != nil {
			return "", fmt.Errorf("failed to link collection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit collection: %w", err)
	}

	s.logger.WithField("collection", name).Debug("Created collection")
	return id, nil
}

// FindFile looks up a file by name inside a collection. A nil result
// means the file does not exist yet.
func (s *Store) FindFile(collectionID, name string) (*FileEntry, error) {
	query := `
		SELECT i.id, i.size, i.mtime FROM fs_items i
		JOIN fs_properties p ON p.item_id = i.id AND p.key = 'name'
		WHERE i.type = ? AND i.parent_id = ? AND p.value = ?`

	entry := &FileEntry{Name: name}
	var mtime int64
	err := s.db.QueryRow(query, nodeFile, collectionID, name).Scan(&entry.ID, &entry.Size, &mtime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up file %s: %w", name, err)
	}
	entry.Mtime = time.Unix(mtime, 0)
	return entry, nil
}

// SaveFile stores a file node with its content and properties in one
// transaction, replacing an existing node with the same name.
func (s *Store) SaveFile(collectionID string, meta *FileMeta, content []byte) error {
	existing, err := s.FindFile(collectionID, meta.Name)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if existing != nil {
		if _, err := tx.Exec("DELETE FROM fs_items WHERE id = ?", existing.ID); err != nil {
			return fmt.Errorf("failed to replace file: %w", err)
		}
	}

	id := uuid.NewString()
	if _, err := tx.Exec(
		"INSERT INTO fs_items (id, parent_id, type, size, mtime) VALUES (?, ?, ?, ?, ?)",
		id, collectionID, nodeFile, int64(len(content)), meta.Mtime.Unix(),
	); err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}

	props := map[string]string{"name": meta.Name}
	if meta.ContentType != "" {
		props["mimetype"] = meta.ContentType
	}
	for k, v := range props {
		if _, err := tx.Exec(
			"INSERT INTO fs_properties (item_id, key, value) VALUES (?, ?, ?)",
			id, k, v,
		); err != nil {
			return fmt.Errorf("failed to set file property %s: %w", k, err)
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO fs_relations (parent_id, child_id) VALUES (?, ?)",
		collectionID, id,
	); err != nil {
		return fmt.Errorf("failed to link file: %w", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO fs_blobs (item_id, content) VALUES (?, ?)",
		id, content,
	); err != nil {
		return fmt.Errorf("failed to store file content: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"file": meta.Name,
		"size": len(content),
	}).Debug("Stored file")
	return nil
}
