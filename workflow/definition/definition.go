// Package definition loads declarative workflow definitions (spec.md §4.5):
// an ordered list of steps, each either a gate/marker or a Task-producing
// step, optionally grouped into a parallel_group. Grounded on the
// itsneelabh-gomind orchestration.WorkflowDefinition/WorkflowStepDefinition
// YAML shape, narrowed from its general DAG (depends_on per step) to the
// spec's simpler ordered-list-plus-parallel-group model.
package definition

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Step is one node of a Definition. Steps without AgentType are pure
// markers: phase transitions or plan gates consulted via the HITL Gate's
// pre_execution check.
type Step struct {
	StepID        string   `yaml:"step_id"`
	AgentType     string   `yaml:"agent_type,omitempty"`
	Creates       string   `yaml:"creates,omitempty"`
	Requires      []string `yaml:"requires,omitempty"`
	Condition     string   `yaml:"condition,omitempty"`
	Optional      bool     `yaml:"optional,omitempty"`
	Repeatable    bool     `yaml:"repeatable,omitempty"`
	ParallelGroup string   `yaml:"parallel_group,omitempty"`
	// Phase, if set, names the project phase entered when this step (a
	// marker with no AgentType) is reached; emits workflow.phase_changed.
	Phase string `yaml:"phase,omitempty"`
	// Instructions is the template handed to the agent executor; requires
	// resolve to ContextArtifact ids appended to the task as context_ids.
	Instructions string `yaml:"instructions,omitempty"`
}

// IsGate reports whether a step is a marker/gate rather than a task-producing
// step: it has no AgentType.
func (s Step) IsGate() bool { return s.AgentType == "" }

// Definition is a declarative workflow: an ordered list of Steps. It is
// loaded once from storage and never mutated at runtime; only a WorkflowRun
// mutates as execution proceeds.
type Definition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Parse decodes a YAML-encoded Definition and validates it.
func Parse(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("definition: parse yaml: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Validate enforces the structural invariants a loaded Definition must
// satisfy before any WorkflowRun can reference it: unique, non-empty
// step ids, and parallel_group membership limited to task-producing steps
// (a gate cannot meaningfully run concurrently with its siblings).
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("definition: id is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("definition: at least one step is required")
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		if s.StepID == "" {
			return fmt.Errorf("definition: step %d: step_id is required", i)
		}
		if _, dup := seen[s.StepID]; dup {
			return fmt.Errorf("definition: duplicate step_id %q", s.StepID)
		}
		seen[s.StepID] = struct{}{}
		if s.ParallelGroup != "" && s.IsGate() {
			return fmt.Errorf("definition: step %q: a gate cannot belong to a parallel_group", s.StepID)
		}
	}
	return nil
}

// StepByID looks up a step by id, or ok=false if not found.
func (d Definition) StepByID(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Groups partitions the ordered step list into execution units: a run of
// consecutive steps sharing the same non-empty ParallelGroup collapses into
// one Group with Parallel=true; every other step becomes its own
// single-member Group, preserving original order.
func (d Definition) Groups() []Group {
	var groups []Group
	i := 0
	for i < len(d.Steps) {
		s := d.Steps[i]
		if s.ParallelGroup == "" {
			groups = append(groups, Group{Steps: []Step{s}})
			i++
			continue
		}
		j := i
		var members []Step
		for j < len(d.Steps) && d.Steps[j].ParallelGroup == s.ParallelGroup {
			members = append(members, d.Steps[j])
			j++
		}
		groups = append(groups, Group{Steps: members, Parallel: true, ID: s.ParallelGroup})
		i = j
	}
	return groups
}

// Group is one unit of execution: either a single step or a set of steps
// sharing a parallel_group id that run concurrently and join before the
// run advances past them.
type Group struct {
	ID       string
	Parallel bool
	Steps    []Step
}
