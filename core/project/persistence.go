package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// =============================================================================
// Persister Interface
// =============================================================================

// Persister handles durable project persistence.
type Persister interface {
	// Save persists a project. The write must be all-or-nothing.
	Save(proj *Project) error

	// Load loads a project by ID.
	Load(id string) (*Project, error)

	// Delete removes a persisted project.
	Delete(id string) error

	// List returns all persisted project IDs.
	List() ([]string, error)
}

// =============================================================================
// File Persister
// =============================================================================

// FilePersister persists projects as JSON files on the filesystem.
type FilePersister struct {
	mu      sync.RWMutex
	baseDir string
}

// NewFilePersister creates a file persister rooted at baseDir.
func NewFilePersister(baseDir string) (*FilePersister, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create persistence directory: %w", err)
	}

	return &FilePersister{baseDir: baseDir}, nil
}

func (p *FilePersister) projectPath(id string) string {
	return filepath.Join(p.baseDir, id+".json")
}

// Save persists a project to disk. Writes go to a temp file first and are
// renamed into place, so a crash mid-write never corrupts the committed copy.
func (p *FilePersister) Save(proj *Project) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	proj.StageName = proj.Stage.String()
	data, err := json.MarshalIndent(proj, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize project: %w", err)
	}

	path := p.projectPath(proj.ID)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write project file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename project file: %w", err)
	}

	return nil
}

// Load loads a project from disk.
func (p *FilePersister) Load(id string) (*Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, err := os.ReadFile(p.projectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	return decodeProject(data)
}

func decodeProject(data []byte) (*Project, error) {
	var proj Project
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("failed to decode project: %w", err)
	}

	stage, err := ParseStage(proj.StageName)
	if err != nil {
		return nil, fmt.Errorf("failed to decode project: %w", err)
	}
	proj.Stage = stage

	if proj.Artifacts == nil {
		proj.Artifacts = make(map[string]ArtifactRef)
	}

	return &proj, nil
}

// Delete removes a persisted project.
func (p *FilePersister) Delete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.projectPath(id)); err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete project file: %w", err)
	}

	return nil
}

// List returns all persisted project IDs.
func (p *FilePersister) List() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read persistence directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-5])
	}

	return ids, nil
}

// =============================================================================
// Memory Persister (for testing)
// =============================================================================

// MemoryPersister stores projects in memory.
type MemoryPersister struct {
	mu       sync.RWMutex
	projects map[string][]byte

	// FailNextSave makes the next Save return an error, for exercising
	// all-or-nothing append behavior in tests.
	FailNextSave bool
}

// NewMemoryPersister creates an in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{projects: make(map[string][]byte)}
}

// Save stores a project in memory.
func (p *MemoryPersister) Save(proj *Project) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailNextSave {
		p.FailNextSave = false
		return fmt.Errorf("simulated persistence failure")
	}

	proj.StageName = proj.Stage.String()
	data, err := json.Marshal(proj)
	if err != nil {
		return err
	}

	p.projects[proj.ID] = data
	return nil
}

// Load loads a project from memory.
func (p *MemoryPersister) Load(id string) (*Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, ok := p.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}

	return decodeProject(data)
}

// Delete removes a project from memory.
func (p *MemoryPersister) Delete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.projects, id)
	return nil
}

// List returns all project IDs in memory.
func (p *MemoryPersister) List() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.projects))
	for id := range p.projects {
		ids = append(ids, id)
	}

	return ids, nil
}
