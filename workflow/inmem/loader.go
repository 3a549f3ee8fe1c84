package inmem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/geniusboywonder/bmad-core/workflow/definition"
)

// LoadDirectory parses every .yaml/.yml file under dir as a workflow
// definition and registers it with store. Definitions are read-only at
// runtime (package workflow.DefinitionStore has no Create/Update), so
// loading happens once at startup from a flat directory of files, the way
// the teacher's agent configs are loaded from disk at process start.
func LoadDirectory(store *DefinitionStore, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("workflow/inmem: read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ext := strings.ToLower(filepath.Ext(name)); ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("workflow/inmem: read %s: %w", path, err)
		}
		def, err := definition.Parse(data)
		if err != nil {
			return fmt.Errorf("workflow/inmem: parse %s: %w", path, err)
		}
		store.Register(def)
	}
	return nil
}
