// Package file provides file-system persistence, used for local development
// and tests. One JSON document per entity; a process-wide lock serializes
// access.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/keylin/harvester/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of a root directory.
type Persistence struct {
	root string
	mu   sync.RWMutex

	sourceRepo    *SourceRepository
	contentRepo   *ContentRepository
	templateRepo  *TemplateRepository
	executionRepo *ExecutionRepository
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.sourceRepo = &SourceRepository{p: p}
	p.contentRepo = &ContentRepository{p: p}
	p.templateRepo = &TemplateRepository{p: p}
	p.executionRepo = &ExecutionRepository{p: p}

	return p
}

func (p *Persistence) Sources() persistence.SourceRepository { return p.sourceRepo }

func (p *Persistence) ContentItems() persistence.ContentRepository { return p.contentRepo }

func (p *Persistence) Templates() persistence.TemplateRepository { return p.templateRepo }

func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executionRepo }

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// writeDocument marshals v into <root>/<dir>/<name>.json, creating the
// directory when missing. Callers hold p.mu.
func (p *Persistence) writeDocument(dir, name string, v any) error {
	dirPath := filepath.Join(p.root, dir)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	path := filepath.Join(dirPath, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// readDocument unmarshals <root>/<dir>/<name>.json into v. Returns
// os.ErrNotExist when the document is missing.
func (p *Persistence) readDocument(dir, name string, v any) error {
	path := filepath.Join(p.root, dir, name+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return nil
}

// deleteDocument removes a document; a missing document surfaces as an
// os.IsNotExist error for the caller to map.
func (p *Persistence) deleteDocument(dir, name string) error {
	return os.Remove(filepath.Join(p.root, dir, name+".json"))
}

// documentNames lists document names (without extension) in <root>/<dir>.
func (p *Persistence) documentNames(dir string) ([]string, error) {
	dirPath := filepath.Join(p.root, dir)
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := fs.Glob(os.DirFS(dirPath), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dirPath, err)
	}

	names := make([]string, 0, len(files))
	for _, file := range files {
		names = append(names, strings.TrimSuffix(file, ".json"))
	}

	return names, nil
}
