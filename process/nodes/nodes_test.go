package nodes

import (
	"context"
	"strings"
	"testing"

	"github.com/ahamdihussein-star/processforge/pkg/llms"
	"github.com/ahamdihussein-star/processforge/process"
	"github.com/stretchr/testify/require"
)

func testNode(id string, typ process.NodeType, typeConfig map[string]any) *process.ProcessNode {
	return &process.ProcessNode{
		ID:     id,
		Type:   typ,
		Name:   id,
		Config: process.NodeConfig{Enabled: true, TypeConfig: typeConfig},
	}
}

func testExecCtx() *process.ExecutionContext {
	return &process.ExecutionContext{Context: context.Background()}
}

func TestSwitchExecutor_MatchesCaseOrFallsBackToDefault(t *testing.T) {
	node := testNode("SW", process.NodeSwitch, map[string]any{
		"expression": "status",
		"cases":      map[string]any{"open": "N1", "closed": "N2"},
		"default":    "N3",
	})

	exec := switchExecutor{}
	require.Nil(t, exec.Validate(node))

	state := process.NewState(map[string]any{"status": "closed"})
	result := exec.Execute(testExecCtx(), node, state)
	require.Equal(t, process.StatusCompleted, result.Status)
	require.Equal(t, "N2", result.NextNodeID)

	state2 := process.NewState(map[string]any{"status": "unmatched"})
	result2 := exec.Execute(testExecCtx(), node, state2)
	require.Equal(t, "N3", result2.NextNodeID)
}

func TestWhileExecutor_RunsThenExitsAndResetsCounter(t *testing.T) {
	node := testNode("WH", process.NodeWhile, map[string]any{
		"condition":    "count < 2",
		"body_node_id": "BODY",
	})
	exec := whileExecutor{}
	require.Nil(t, exec.Validate(node))

	state := process.NewState(map[string]any{"count": 0})
	r1 := exec.Execute(testExecCtx(), node, state)
	require.Equal(t, "BODY", r1.NextNodeID)
	state.ApplyUpdate(r1.VariablesUpdate)

	state.Set("count", 2)
	r2 := exec.Execute(testExecCtx(), node, state)
	require.Empty(t, r2.NextNodeID)
	require.Equal(t, 1, r2.Output.(map[string]any)["iterations"])
	state.ApplyUpdate(r2.VariablesUpdate)

	counter, _ := state.Get("__while_WH_iterations")
	require.Equal(t, 0, counter)
}

func TestMergeExecutor_ArrayAndConcatStrategies(t *testing.T) {
	state := process.NewState(nil)
	state.SetNodeOutput("A", []any{1, 2})
	state.SetNodeOutput("B", []any{3})

	arrayNode := testNode("M1", process.NodeMerge, map[string]any{
		"source_nodes": []any{"A", "B"},
		"strategy":     "array",
	})
	exec := mergeExecutor{}
	require.Nil(t, exec.Validate(arrayNode))
	arrResult := exec.Execute(testExecCtx(), arrayNode, state)
	require.Equal(t, []any{[]any{1, 2}, []any{3}}, arrResult.Output.(map[string]any)["values"])

	concatNode := testNode("M2", process.NodeMerge, map[string]any{
		"source_nodes": []any{"A", "B"},
		"strategy":     "concat",
	})
	concatResult := exec.Execute(testExecCtx(), concatNode, state)
	require.Equal(t, []any{1, 2, 3}, concatResult.Output.(map[string]any)["values"])
}

func TestMergeExecutor_MissingParallelFrameReturnsEmpty(t *testing.T) {
	state := process.NewState(nil)
	node := testNode("M3", process.NodeMerge, map[string]any{"parallel_node_id": "NEVER_STARTED"})
	exec := mergeExecutor{}
	result := exec.Execute(testExecCtx(), node, state)
	require.Equal(t, process.StatusCompleted, result.Status)
	require.Equal(t, map[string]any{}, result.Output)
}

func TestTransformExecutor_PickAndOmit(t *testing.T) {
	state := process.NewState(map[string]any{
		"record": map[string]any{"id": "1", "name": "x", "secret": "shh"},
	})

	pickNode := testNode("T1", process.NodeTransform, map[string]any{
		"operation": "pick",
		"source":    "record",
		"fields":    []any{"id", "name"},
	})
	exec := transformExecutor{}
	require.Nil(t, exec.Validate(pickNode))
	pickResult := exec.Execute(testExecCtx(), pickNode, state)
	require.Equal(t, map[string]any{"id": "1", "name": "x"}, pickResult.Output.(map[string]any)["result"])

	omitNode := testNode("T2", process.NodeTransform, map[string]any{
		"operation": "omit",
		"source":    "record",
		"fields":    []any{"secret"},
	})
	omitResult := exec.Execute(testExecCtx(), omitNode, state)
	require.Equal(t, map[string]any{"id": "1", "name": "x"}, omitResult.Output.(map[string]any)["result"])
}

func TestCheckJSONSchema_RequiredFieldsAndType(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"total"},
		"properties": map[string]any{
			"total": map[string]any{"type": "number"},
		},
	}

	ok, _ := checkJSONSchema(schema, map[string]any{"total": 42.0})
	require.True(t, ok)

	ok, reason := checkJSONSchema(schema, map[string]any{})
	require.False(t, ok)
	require.Contains(t, reason, "total")
}

func TestCheckHallucination_FlagsImplausibleMonetaryFieldAndGenericText(t *testing.T) {
	cfg := AntiHallucinationConfig{Enabled: true, NumericTolerance: 0.1, MinGenericFieldLength: 10}
	prompt := "invoice for 100 dollars due on the 5th"

	warnings := checkHallucination(prompt, map[string]any{
		"total":       999.0,
		"description": "various things",
	}, cfg)

	require.Len(t, warnings, 2)
}

func TestCheckHallucination_PlausibleValuesProduceNoWarnings(t *testing.T) {
	cfg := AntiHallucinationConfig{Enabled: true, NumericTolerance: 0.1, MinGenericFieldLength: 10}
	prompt := "invoice for 100 dollars due on the 5th"

	warnings := checkHallucination(prompt, map[string]any{
		"total":       100.0,
		"description": "itemized charges for consulting services rendered in June",
	}, cfg)

	require.Empty(t, warnings)
}

type stubChatClient struct {
	model   string
	content string
}

func (s stubChatClient) Model() string { return s.model }

func (s stubChatClient) Chat(_ context.Context, req llms.ChatRequest) (*llms.ChatResponse, error) {
	return &llms.ChatResponse{Content: s.content, TotalTokens: 1}, nil
}

func TestAITaskExecutor_MaxContextTokensDropsOldestMessages(t *testing.T) {
	node := testNode("AI1", process.NodeAITask, map[string]any{
		"prompt":             "what is the status of order 42?",
		"system_prompt":      strings.Repeat("long-winded house style instructions ", 50),
		"max_context_tokens": 5.0,
	})

	exec := aiTaskExecutor{}
	require.Nil(t, exec.Validate(node))

	execCtx := testExecCtx()
	execCtx.Deps = &process.Dependencies{LLM: stubChatClient{model: "gpt-4o-mini", content: "on track"}}

	result := exec.Execute(execCtx, node, process.NewState(nil))
	require.Equal(t, process.StatusCompleted, result.Status)
	require.Equal(t, "on track", result.Output)
	require.Len(t, result.Logs, 1)
	require.Contains(t, result.Logs[0], "max_context_tokens=5")
}

func TestAITaskExecutor_WithinBudgetKeepsAllMessagesAndNoWarning(t *testing.T) {
	node := testNode("AI2", process.NodeAITask, map[string]any{
		"prompt":             "short",
		"max_context_tokens": 1000.0,
	})

	exec := aiTaskExecutor{}
	execCtx := testExecCtx()
	execCtx.Deps = &process.Dependencies{LLM: stubChatClient{model: "gpt-4o-mini", content: "ok"}}

	result := exec.Execute(execCtx, node, process.NewState(nil))
	require.Equal(t, process.StatusCompleted, result.Status)
	require.Empty(t, result.Logs)
}
