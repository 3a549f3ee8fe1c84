package contextstore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/geniusboywonder/bmad-core/correrr"
)

// SchemaRegistry holds compiled JSON Schemas keyed by artifact_type. Put()
// consults the registry before persisting; artifact types with no registered
// schema skip validation entirely (spec.md: "if one is registered").
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewSchemaRegistry returns an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON and associates it with artifactType. Callers
// typically do this once at startup for each known agent output contract
// (e.g. "product_requirement", "architecture_doc").
func (r *SchemaRegistry) Register(artifactType string, schemaJSON string) error {
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("mem://bmad-core/%s.json", artifactType)
	if err := c.AddResource(url, mustUnmarshalSchema(schemaJSON)); err != nil {
		return fmt.Errorf("contextstore: compiling schema for %s: %w", artifactType, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("contextstore: compiling schema for %s: %w", artifactType, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[artifactType] = schema
	return nil
}

// Validate checks content against the schema registered for artifactType, if
// any. Returns nil when no schema is registered for that type.
func (r *SchemaRegistry) Validate(artifactType string, content any) error {
	r.mu.RLock()
	schema, ok := r.schemas[artifactType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := schema.Validate(content); err != nil {
		return correrr.Newf(correrr.CodeInvalidArtifact, "content does not satisfy schema for %s: %v", artifactType, err)
	}
	return nil
}

func mustUnmarshalSchema(schemaJSON string) any {
	v, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(err)
	}
	return v
}
