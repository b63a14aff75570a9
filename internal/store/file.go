package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"negosync/internal/models"
)

// fileDocument is the on-disk layout of a FileRepository.
type fileDocument struct {
	Negotiations map[string]*models.Negotiation `json:"negotiations"`
}

// FileRepository keeps every negotiation in a single JSON file.
type FileRepository struct {
	mu   sync.Mutex
	path string
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository returns a repository backed by path. The file is
// created on the first save.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// Get returns a copy of the stored negotiation.
func (r *FileRepository) Get(_ context.Context, id string) (*models.Negotiation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	n, ok := doc.Negotiations[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return n, nil
}

// List returns all negotiations ordered by item number, then id.
func (r *FileRepository) List(_ context.Context) ([]*models.Negotiation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Negotiation, 0, len(doc.Negotiations))
	for _, n := range doc.Negotiations {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemNumber != out[j].ItemNumber {
			return out[i].ItemNumber < out[j].ItemNumber
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Save inserts or replaces a negotiation.
func (r *FileRepository) Save(_ context.Context, n *models.Negotiation) error {
	if err := n.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return err
	}
	doc.Negotiations[n.ID] = n
	return r.save(doc)
}

// Delete removes a negotiation.
func (r *FileRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Negotiations[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	delete(doc.Negotiations, id)
	return r.save(doc)
}

// load reads the document. A missing file is an empty repository.
func (r *FileRepository) load() (*fileDocument, error) {
	doc := &fileDocument{Negotiations: map[string]*models.Negotiation{}}
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage error reading %s: %w", r.path, err)
	}

	if err := json.Unmarshal(data, doc); err != nil {
		// Back up corrupt file and abort.
		backupPath := r.path + ".corrupt"
		_ = os.Rename(r.path, backupPath)
		return nil, fmt.Errorf("corrupt JSON in %s (backed up to %s): %w", r.path, backupPath, err)
	}
	if doc.Negotiations == nil {
		doc.Negotiations = map[string]*models.Negotiation{}
	}
	return doc, nil
}

// save atomically writes the document.
func (r *FileRepository) save(doc *fileDocument) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("storage error creating directories: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("storage error marshalling JSON: %w", err)
	}

	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error renaming temp file: %w", err)
	}
	return nil
}
