package definition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geniusboywonder/bmad-core/workflow/definition"
)

const validYAML = `
id: greenfield
name: Greenfield Development
steps:
  - step_id: plan_gate
    phase: planning
  - step_id: design
    agent_type: architect
    creates: design_doc
    parallel_group: design_fanout
  - step_id: review
    agent_type: reviewer
    requires: [design_doc]
    parallel_group: design_fanout
  - step_id: build
    agent_type: coder
    requires: [design_doc]
    condition: has_artifact("design_doc")
`

func TestParseValid(t *testing.T) {
	def, err := definition.Parse([]byte(validYAML))
	require.NoError(t, err)
	require.Equal(t, "greenfield", def.ID)
	require.Len(t, def.Steps, 4)
}

func TestParseRejectsDuplicateStepIDs(t *testing.T) {
	_, err := definition.Parse([]byte(`
id: dup
steps:
  - step_id: a
  - step_id: a
`))
	require.Error(t, err)
}

func TestParseRejectsGateInParallelGroup(t *testing.T) {
	_, err := definition.Parse([]byte(`
id: bad
steps:
  - step_id: gate1
    parallel_group: g1
  - step_id: task1
    agent_type: coder
    parallel_group: g1
`))
	require.Error(t, err)
}

func TestParseRejectsEmptySteps(t *testing.T) {
	_, err := definition.Parse([]byte(`
id: empty
steps: []
`))
	require.Error(t, err)
}

func TestGroupsCollapsesParallelRun(t *testing.T) {
	def, err := definition.Parse([]byte(validYAML))
	require.NoError(t, err)

	groups := def.Groups()
	require.Len(t, groups, 3)
	require.False(t, groups[0].Parallel)
	require.Equal(t, "plan_gate", groups[0].Steps[0].StepID)
	require.True(t, groups[1].Parallel)
	require.Len(t, groups[1].Steps, 2)
	require.False(t, groups[2].Parallel)
	require.Equal(t, "build", groups[2].Steps[0].StepID)
}

func TestStepByID(t *testing.T) {
	def, err := definition.Parse([]byte(validYAML))
	require.NoError(t, err)

	step, ok := def.StepByID("design")
	require.True(t, ok)
	require.Equal(t, "architect", step.AgentType)

	_, ok = def.StepByID("nonexistent")
	require.False(t, ok)
}

func TestIsGate(t *testing.T) {
	def, err := definition.Parse([]byte(validYAML))
	require.NoError(t, err)

	gate, _ := def.StepByID("plan_gate")
	require.True(t, gate.IsGate())

	task, _ := def.StepByID("design")
	require.False(t, task.IsGate())
}
