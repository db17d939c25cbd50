package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateGetSetAndApplyUpdate(t *testing.T) {
	s := NewState(map[string]any{"x": 1})
	v, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	s.Set("y", "hello")
	v, ok = s.Get("y")
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	s.ApplyUpdate(map[string]any{"x": 2, "z": true})
	v, _ = s.Get("x")
	assert.Equal(t, 2, v)
	v, _ = s.Get("z")
	assert.Equal(t, true, v)
}

func TestStateEvaluate(t *testing.T) {
	s := NewState(map[string]any{"amount": 100, "name": "alice"})

	out, err := s.Evaluate("amount + 1")
	require.NoError(t, err)
	assert.Equal(t, 101, out)

	out, err = s.Evaluate(`upper(name)`)
	require.NoError(t, err)
	assert.Equal(t, "ALICE", out)
}

func TestStateEvaluateConditionRequiresBool(t *testing.T) {
	s := NewState(map[string]any{"amount": 500})

	ok, err := s.EvaluateCondition("amount > 100")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.EvaluateCondition("amount")
	assert.Error(t, err, "a non-bool result must fail rather than silently coerce")

	_, err = s.EvaluateCondition("missing_var")
	assert.Error(t, err, "an undefined identifier must fail rather than evaluate to false")
}

func TestStateInterpolateString(t *testing.T) {
	s := NewState(map[string]any{"name": "Bob", "amount": 42})

	out, err := s.InterpolateString("Hello ${name}, you owe ${amount}")
	require.NoError(t, err)
	assert.Equal(t, "Hello Bob, you owe 42", out)
}

func TestStateInterpolateObjectWalksNestedStructures(t *testing.T) {
	s := NewState(map[string]any{"name": "Bob"})

	out, err := s.InterpolateObject(map[string]any{
		"greeting": "Hi ${name}",
		"tags":     []any{"a", "${name}"},
		"count":    3,
	})
	require.NoError(t, err)
	obj := out.(map[string]any)
	assert.Equal(t, "Hi Bob", obj["greeting"])
	assert.Equal(t, []any{"a", "Bob"}, obj["tags"])
	assert.Equal(t, 3, obj["count"])
}

func TestStateCompletedAndSkippedNodes(t *testing.T) {
	s := NewState(nil)
	s.MarkCompleted("n1")
	s.MarkCompleted("n2")
	s.MarkSkipped("n3")

	assert.Equal(t, []string{"n1", "n2"}, s.CompletedNodes())
	assert.Equal(t, []string{"n3"}, s.SkippedNodes())
	assert.Equal(t, 2, s.NodeCount())
}

func TestStateLoopFrameLifecycle(t *testing.T) {
	s := NewState(nil)
	s.PushLoop("loop1", []any{"a", "b", "c"}, "item", "idx")

	s.SetLoopItem()
	v, _ := s.Get("item")
	assert.Equal(t, "a", v)
	v, _ = s.Get("idx")
	assert.Equal(t, 0, v)

	hasMore := s.AdvanceLoop()
	assert.True(t, hasMore)
	s.SetLoopItem()
	v, _ = s.Get("item")
	assert.Equal(t, "b", v)

	s.AdvanceLoop()
	hasMore = s.AdvanceLoop()
	assert.False(t, hasMore, "advancing past the last item reports no more items")

	s.PopLoop()
	_, ok := s.CurrentLoop()
	assert.False(t, ok)
}

func TestStateParallelFrameLifecycle(t *testing.T) {
	s := NewState(nil)
	s.StartParallel("p1", [][]string{{"a"}, {"b"}})
	assert.False(t, s.AllBranchesComplete("p1"))

	s.CompleteBranch("p1", 0, map[string]any{"a_result": 1})
	assert.False(t, s.AllBranchesComplete("p1"))

	s.CompleteBranch("p1", 1, map[string]any{"b_result": 2})
	assert.True(t, s.AllBranchesComplete("p1"))

	frame, ok := s.ParallelFrame("p1")
	require.True(t, ok)
	assert.Equal(t, 1, frame.Results["a_result"])
	assert.Equal(t, 2, frame.Results["b_result"])

	s.EndParallel("p1")
	_, ok = s.ParallelFrame("p1")
	assert.False(t, ok)
}

func TestStateForkIsIndependentOfParent(t *testing.T) {
	s := NewState(map[string]any{"x": 1})
	fork := s.Fork()
	fork.Set("x", 2)
	fork.Set("y", "only in fork")

	v, _ := s.Get("x")
	assert.Equal(t, 1, v, "mutating a fork must not affect the parent")
	_, ok := s.Get("y")
	assert.False(t, ok)
}
