package process_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ahamdihussein-star/processforge/pkg/checkpoint"
	"github.com/ahamdihussein-star/processforge/pkg/llms"
	"github.com/ahamdihussein-star/processforge/pkg/observability"
	"github.com/ahamdihussein-star/processforge/process"
	"github.com/ahamdihussein-star/processforge/process/nodes"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, recorder process.Recorder) *process.Engine {
	t.Helper()
	reg := process.NewExecutorRegistry()
	require.NoError(t, nodes.RegisterAll(reg, nodes.AntiHallucinationConfig{}))
	cfg := &checkpoint.Config{}
	cfg.SetDefaults()
	enabled := true
	cfg.Enabled = &enabled
	mgr := checkpoint.NewManager(cfg, checkpoint.NewInMemoryStore())
	if recorder == nil {
		recorder = process.NoopRecorder{}
	}
	obsMgr, err := observability.NewManager(context.Background(), &observability.Config{
		Tracing: observability.TracingConfig{Enabled: true, Exporter: "stdout"},
		Metrics: observability.MetricsConfig{Enabled: true, Namespace: "processforge_test"},
	})
	require.NoError(t, err)
	return process.NewEngine(reg, mgr, recorder, obsMgr)
}

// capturingRecorder keeps the last *process.State and *process.ProcessResult
// an execution reported, so tests can assert on completed/skipped node
// ordering that ProcessResult itself doesn't carry.
type capturingRecorder struct {
	lastState  *process.State
	lastResult *process.ProcessResult
}

func (c *capturingRecorder) NodeStarted(context.Context, string, *process.ProcessNode, int) {}
func (c *capturingRecorder) NodeFinished(context.Context, string, *process.ProcessNode, int, process.NodeResult) {
}
func (c *capturingRecorder) ExecutionUpdated(_ context.Context, _ string, result *process.ProcessResult, state *process.State) {
	c.lastState = state
	c.lastResult = result
}

func newNode(id string, typ process.NodeType, typeConfig map[string]any) *process.ProcessNode {
	return &process.ProcessNode{
		ID:   id,
		Type: typ,
		Name: id,
		Config: process.NodeConfig{
			Enabled:    true,
			TypeConfig: typeConfig,
		},
	}
}

func edge(from, to string) *process.ProcessEdge {
	return &process.ProcessEdge{ID: from + "->" + to, FromNodeID: from, ToNodeID: to}
}

func testSettings() process.Settings {
	s := process.DefaultSettings()
	s.MaxNodeExecutions = 200
	s.MaxExecutionTimeSeconds = 30
	return s
}

// stubLLM returns a fixed response regardless of the prompt it is given.
type stubLLM struct {
	content string
	tokens  int
}

func (s *stubLLM) Model() string { return "stub" }

func (s *stubLLM) Chat(_ context.Context, _ llms.ChatRequest) (*llms.ChatResponse, error) {
	return &llms.ChatResponse{Content: s.content, TotalTokens: s.tokens}, nil
}

// --- S1: happy-path linear flow --------------------------------------------

func TestEngine_S1_HappyPathLinearFlow(t *testing.T) {
	startNode := newNode("START", process.NodeStart, nil)
	aiNode := newNode("AI_TASK", process.NodeAITask, map[string]any{"prompt": "Say ${x}"})
	aiNode.OutputVariable = "y"
	endNode := newNode("END", process.NodeEnd, map[string]any{"output": "${y}"})

	defn, err := process.NewProcessDefinition("p1", "linear", "1",
		[]*process.ProcessNode{startNode, aiNode, endNode},
		[]*process.ProcessEdge{edge("START", "AI_TASK"), edge("AI_TASK", "END")},
		nil, nil, testSettings())
	require.NoError(t, err)

	rec := &capturingRecorder{}
	engine := newTestEngine(t, rec)
	deps := &process.Dependencies{LLM: &stubLLM{content: "hello world", tokens: 7}}

	result := engine.Run(context.Background(), "exec-1", defn, map[string]any{"x": "hello"}, deps)

	require.Equal(t, process.ExecutionCompleted, result.Status)
	require.Equal(t, "hello world", result.Output)
	require.Equal(t, []string{"START", "AI_TASK", "END"}, rec.lastState.CompletedNodes())
	require.Equal(t, 3, result.NodesExecuted)
}

// --- S2: conditional branch with missing upstream value ---------------------

func TestEngine_S2_ConditionMissingValueFails(t *testing.T) {
	cond := newNode("COND", process.NodeCondition, map[string]any{
		"expression": "parsedData.totalAmount > 100",
		"if_true":    "A",
		"if_false":   "B",
	})
	defn, err := process.NewProcessDefinition("p2", "cond", "1",
		[]*process.ProcessNode{
			newNode("START", process.NodeStart, nil),
			cond,
			newNode("A", process.NodeEnd, nil),
			newNode("B", process.NodeEnd, nil),
		},
		[]*process.ProcessEdge{edge("START", "COND")},
		nil, nil, testSettings())
	require.NoError(t, err)

	engine := newTestEngine(t, nil)
	result := engine.Run(context.Background(), "exec-2", defn, map[string]any{}, &process.Dependencies{})

	require.Equal(t, process.ExecutionFailed, result.Status)
	require.NotNil(t, result.Error)
	require.Equal(t, process.CodeConditionEvalFailed, result.Error.Code)
	require.False(t, result.Error.IsUserFixable)
	require.NotEmpty(t, result.Error.BusinessMessage)
	require.Equal(t, "COND", result.FailedNodeID)
}

// --- S3: approval pause/resume -----------------------------------------------

type fakeApprovalSink struct {
	requests map[string]process.ApprovalRequest
	status   map[string]string
	nextID   int
}

func newFakeApprovalSink() *fakeApprovalSink {
	return &fakeApprovalSink{requests: map[string]process.ApprovalRequest{}, status: map[string]string{}}
}

func (f *fakeApprovalSink) CreateApprovalRequest(_ context.Context, req process.ApprovalRequest) (string, error) {
	f.nextID++
	id := fmt.Sprintf("approval-%d", f.nextID)
	f.requests[id] = req
	f.status[id] = "pending"
	return id, nil
}

func TestEngine_S3_ApprovalPauseResume(t *testing.T) {
	approval := newNode("APPROVAL", process.NodeApproval, map[string]any{
		"title":        "Approve this",
		"assignee":     map[string]any{"user_ids": []any{"U1"}},
		"timeout_hours": 24,
	})
	defn, err := process.NewProcessDefinition("p3", "approval-flow", "1",
		[]*process.ProcessNode{
			newNode("START", process.NodeStart, nil),
			approval,
			newNode("END", process.NodeEnd, nil),
		},
		[]*process.ProcessEdge{edge("START", "APPROVAL"), edge("APPROVAL", "END")},
		nil, nil, testSettings())
	require.NoError(t, err)

	sink := newFakeApprovalSink()
	rec := &capturingRecorder{}
	engine := newTestEngine(t, rec)
	deps := &process.Dependencies{Approvals: sink}

	result := engine.Run(context.Background(), "exec-3", defn, map[string]any{}, deps)

	require.Equal(t, process.ExecutionWaiting, result.Status)
	require.Equal(t, process.WaitApproval, result.WaitingFor)
	require.Equal(t, "APPROVAL", result.ResumeNodeID)
	require.Len(t, sink.requests, 1)

	var reqID string
	for id := range sink.requests {
		reqID = id
	}
	sink.status[reqID] = "approved"

	snap := &checkpoint.Snapshot{
		ExecutionID:    "exec-3",
		Variables:      result.FinalVariables,
		CompletedNodes: rec.lastState.CompletedNodes(),
		SkippedNodes:   rec.lastState.SkippedNodes(),
		NodeOutputs:    map[string]any{},
		CurrentNodeID:  result.ResumeNodeID,
	}

	resumed := engine.Resume(context.Background(), "exec-3", defn, snap, map[string]any{
		"decision": "approved", "decided_by": "U1",
	}, deps)

	require.Equal(t, process.ExecutionCompleted, resumed.Status)
	require.Equal(t, "approved", sink.status[reqID])
}

// --- S4: parallel fan-out/join -----------------------------------------------

func TestEngine_S4_ParallelFanOutJoin(t *testing.T) {
	par := newNode("PAR", process.NodeParallel, map[string]any{
		"branches": []any{[]any{"X"}, []any{"Y"}},
	})
	x := newNode("X", process.NodeScript, map[string]any{"expression": "1"})
	x.OutputVariable = "a"
	y := newNode("Y", process.NodeScript, map[string]any{"expression": "2"})
	y.OutputVariable = "b"
	merge := newNode("MERGE", process.NodeMerge, map[string]any{"parallel_node_id": "PAR"})

	defn, err := process.NewProcessDefinition("p4", "parallel", "1",
		[]*process.ProcessNode{
			newNode("START", process.NodeStart, nil), par, x, y, merge,
			newNode("END", process.NodeEnd, nil),
		},
		[]*process.ProcessEdge{
			edge("START", "PAR"),
			edge("PAR", "MERGE"),
			edge("X", "MERGE"),
			edge("Y", "MERGE"),
			edge("MERGE", "END"),
		}, nil, nil, testSettings())
	require.NoError(t, err)

	engine := newTestEngine(t, nil)
	result := engine.Run(context.Background(), "exec-4", defn, map[string]any{}, &process.Dependencies{})

	require.Equal(t, process.ExecutionCompleted, result.Status)
	require.Equal(t, map[string]any{"result": 1}, result.FinalVariables["a"])
	require.Equal(t, map[string]any{"result": 2}, result.FinalVariables["b"])
}

func TestEngine_S4_ParallelFailFast(t *testing.T) {
	par := newNode("PAR", process.NodeParallel, map[string]any{
		"branches":  []any{[]any{"X"}, []any{"Y"}},
		"fail_fast": true,
	})
	x := newNode("X", process.NodeScript, map[string]any{"expression": "undefined_identifier_boom"})
	y := newNode("Y", process.NodeScript, map[string]any{"expression": "2"})
	merge := newNode("MERGE", process.NodeMerge, map[string]any{"parallel_node_id": "PAR"})

	defn, err := process.NewProcessDefinition("p4b", "parallel-fail", "1",
		[]*process.ProcessNode{
			newNode("START", process.NodeStart, nil), par, x, y, merge,
			newNode("END", process.NodeEnd, nil),
		},
		[]*process.ProcessEdge{
			edge("START", "PAR"),
			edge("PAR", "MERGE"),
			edge("X", "MERGE"),
			edge("Y", "MERGE"),
			edge("MERGE", "END"),
		}, nil, nil, testSettings())
	require.NoError(t, err)

	engine := newTestEngine(t, nil)
	result := engine.Run(context.Background(), "exec-4b", defn, map[string]any{}, &process.Dependencies{})

	require.Equal(t, process.ExecutionFailed, result.Status)
	require.Equal(t, "X", result.FailedNodeID)
}

// --- S5: loop with empty items -----------------------------------------------

func TestEngine_S5_LoopEmptyItemsShortCircuits(t *testing.T) {
	loop := newNode("LOOP", process.NodeLoop, map[string]any{
		"items_expression": "list",
		"body_node_id":     "BODY",
	})
	loop.OutputVariable = "loop_result"
	body := newNode("BODY", process.NodeScript, map[string]any{"expression": "1"})

	defn, err := process.NewProcessDefinition("p5", "loop", "1",
		[]*process.ProcessNode{
			newNode("START", process.NodeStart, nil), loop, body,
			newNode("END", process.NodeEnd, nil),
		},
		[]*process.ProcessEdge{
			edge("START", "LOOP"),
			edge("LOOP", "END"),
			edge("BODY", "LOOP"),
		}, nil, nil, testSettings())
	require.NoError(t, err)

	engine := newTestEngine(t, nil)
	result := engine.Run(context.Background(), "exec-5", defn, map[string]any{"list": []any{}}, &process.Dependencies{})

	require.Equal(t, process.ExecutionCompleted, result.Status)
	out, ok := result.FinalVariables["loop_result"].(map[string]any)
	require.True(t, ok)
	require.EqualValues(t, 0, out["iterations"])
	require.Equal(t, []any{}, out["results"])
}

// --- S6: HTTP retryable failure ----------------------------------------------

func TestEngine_S6_HTTPRetryableFailure(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	httpNode := newNode("HTTP", process.NodeHTTPRequest, map[string]any{"url": srv.URL, "method": "GET"})
	httpNode.Config.Retry = process.RetryConfig{
		Enabled: true, MaxAttempts: 3, DelaySeconds: 0.01, BackoffMultiplier: 2,
	}

	defn, err := process.NewProcessDefinition("p6", "http-retry", "1",
		[]*process.ProcessNode{
			newNode("START", process.NodeStart, nil), httpNode,
			newNode("END", process.NodeEnd, nil),
		},
		[]*process.ProcessEdge{edge("START", "HTTP"), edge("HTTP", "END")},
		nil, nil, testSettings())
	require.NoError(t, err)

	engine := newTestEngine(t, nil)
	result := engine.Run(context.Background(), "exec-6", defn, map[string]any{}, &process.Dependencies{})

	require.Equal(t, process.ExecutionFailed, result.Status)
	require.Equal(t, "HTTP", result.FailedNodeID)
	require.Equal(t, process.HTTPCode(503), result.Error.Code)
	require.True(t, result.Error.IsRetryable)
	require.Equal(t, 3, attempts)
}
