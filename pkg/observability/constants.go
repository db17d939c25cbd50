package observability

const (
	AttrServiceName      = "service.name"
	AttrServiceVersion   = "service.version"
	AttrProcessID        = "process.id"
	AttrExecutionID      = "process.execution_id"
	AttrNodeID           = "process.node_id"
	AttrNodeType         = "process.node_type"
	AttrToolName         = "tool.name"
	AttrLLMModel         = "llm.model"
	AttrLLMTokensInput   = "llm.tokens.input"
	AttrLLMTokensOutput  = "llm.tokens.output"
	AttrErrorType        = "error.type"
	AttrStatusCode       = "http.status_code"

	SpanProcessExecution = "process.execution"
	SpanNodeExecution    = "process.node_execution"
	SpanLLMRequest       = "process.llm_request"
	SpanToolExecution    = "process.tool_execution"
	SpanCheckpointWrite  = "process.checkpoint_write"

	DefaultServiceName   = "processforge"
	DefaultSamplingRate  = 1.0
	DefaultOTLPEndpoint  = "localhost:4317"
	DefaultMetricsPath   = "/metrics"
)
