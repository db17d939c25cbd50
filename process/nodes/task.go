package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ahamdihussein-star/processforge/pkg/llms"
	"github.com/ahamdihussein-star/processforge/pkg/tool"
	"github.com/ahamdihussein-star/processforge/pkg/utils"
	"github.com/ahamdihussein-star/processforge/process"
)

// AntiHallucinationConfig tunes the plausibility heuristics aiTaskExecutor
// runs over structured AI output. Zero value disables every check.
type AntiHallucinationConfig struct {
	Enabled               bool
	NumericTolerance      float64
	MinGenericFieldLength int
}

// aiTaskExecutor sends an interpolated prompt to the injected LLM client
// and, for structured output, flags responses that look hallucinated
// before they propagate downstream.
type aiTaskExecutor struct {
	AntiHallucination AntiHallucinationConfig
}

func (e aiTaskExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "prompt") == "" {
		return process.ValidationError(process.CodeValidationError, "AI_TASK node requires type_config.prompt")
	}
	return nil
}

func (e aiTaskExecutor) Execute(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	if ctx.Deps == nil || ctx.Deps.LLM == nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ConfigurationError(process.CodeNoLLM, "no LLM client configured")}
	}

	promptTemplate := process.GetConfigString(node, "prompt")
	prompt, err := state.InterpolateString(promptTemplate)
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}

	messages := []llms.Message{{Role: "user", Content: prompt}}
	if sys := process.GetConfigString(node, "system_prompt"); sys != "" {
		interpolatedSys, err := state.InterpolateString(sys)
		if err != nil {
			return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
		}
		messages = append([]llms.Message{{Role: "system", Content: interpolatedSys}}, messages...)
	}

	model := ctx.Deps.LLM.Model()

	var contextWarning string
	if maxTokens, ok := process.GetConfigFloat(node, "max_context_tokens"); ok && maxTokens > 0 {
		messages, contextWarning = fitMessagesWithinBudget(model, messages, int(maxTokens))
	}
	llmCtx, llmSpan := ctx.Obs.Tracer().StartLLMCall(ctx, model)
	llmStarted := time.Now()
	resp, callErr := ctx.Deps.LLM.Chat(llmCtx, llms.ChatRequest{Messages: messages})
	if callErr != nil {
		ctx.Obs.Metrics().RecordLLMError(model, "LLM_ERROR")
		ctx.Obs.Tracer().RecordError(llmSpan, callErr)
		llmSpan.End()
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeLLMError, "LLM call failed", callErr)}
	}
	ctx.Obs.Metrics().RecordLLMCall(model, time.Since(llmStarted))
	ctx.Obs.Metrics().RecordLLMTokens(model, resp.InputTokens, resp.OutputTokens)
	ctx.Obs.Tracer().AddLLMUsage(llmSpan, resp.InputTokens, resp.OutputTokens)
	llmSpan.End()

	// output_format selects what Output holds: "text" (the default) keeps
	// the raw assistant content as a plain string so it can flow straight
	// into output_variable/END interpolation; "json"/"structured" parse it
	// into a map and run the anti-hallucination pass below.
	var warnings []string
	if contextWarning != "" {
		warnings = append(warnings, contextWarning)
	}

	outputFormat := process.GetConfigStringDefault(node, "output_format", "text")
	if outputFormat != "json" && outputFormat != "structured" {
		return process.NodeResult{
			Status:     process.StatusCompleted,
			Output:     resp.Content,
			TokensUsed: resp.TotalTokens,
			Logs:       warnings,
		}
	}

	var parsed map[string]any
	if jsonErr := json.Unmarshal([]byte(resp.Content), &parsed); jsonErr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeInvalidJSON, "AI response was not valid JSON", jsonErr).Retryable(0)}
	}

	if outputFormat == "structured" {
		if schema, ok := rawMap(node, "output_schema"); ok {
			if ok, reason := checkJSONSchema(schema, parsed); !ok {
				return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryBusinessLogic, process.CodeValidationFailed, fmt.Sprintf("AI response did not match output_schema: %s", reason), nil), Output: parsed}
			}
		}
	}

	if e.AntiHallucination.Enabled {
		warnings = append(warnings, checkHallucination(prompt, parsed, e.AntiHallucination)...)
	}

	return process.NodeResult{
		Status:     process.StatusCompleted,
		Output:     parsed,
		TokensUsed: resp.TotalTokens,
		Logs:       warnings,
	}
}

// fitMessagesWithinBudget trims messages to fit maxTokens, keeping the
// longest run of newest messages that fits (any role, the system prompt
// included) and dropping everything before it, using tiktoken-accurate
// counts for model.
// Returns the (possibly unchanged) messages and a warning string (empty
// when nothing was dropped) describing what was cut.
func fitMessagesWithinBudget(model string, messages []llms.Message, maxTokens int) ([]llms.Message, string) {
	counter, err := utils.NewTokenCounter(model)
	if err != nil {
		return messages, ""
	}

	counted := make([]utils.Message, len(messages))
	for i, m := range messages {
		counted[i] = utils.Message{Role: m.Role, Content: m.Content}
	}

	fitted := counter.FitWithinLimit(counted, maxTokens)
	if len(fitted) == len(messages) {
		return messages, ""
	}

	dropped := len(messages) - len(fitted)
	out := make([]llms.Message, len(fitted))
	for i, m := range fitted {
		out[i] = llms.Message{Role: m.Role, Content: m.Content}
	}
	return out, fmt.Sprintf("dropped %d oldest message(s) to fit max_context_tokens=%d", dropped, maxTokens)
}

var positiveNumberPattern = regexp.MustCompile(`\b\d+(\.\d+)?\b`)

var monetaryKeys = map[string]bool{
	"total": true, "amount": true, "grandtotal": true, "sum": true, "net": true, "gross": true,
}

var genericKeys = map[string]bool{
	"details": true, "summary": true, "description": true, "notes": true,
}

var genericPhrasingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(n/?a|tbd|todo|none|unknown|placeholder)$`),
	regexp.MustCompile(`(?i)^(various|multiple|several) (items|things|details)$`),
	regexp.MustCompile(`(?i)^(see above|as mentioned|as noted)$`),
}

// checkHallucination flags structured AI output whose monetary fields
// don't correspond to any number the prompt actually supplied, or whose
// narrative fields read as generic filler rather than generated content.
// These are heuristic plausibility checks, not validation failures: they
// attach warning logs to the node result rather than failing the node.
func checkHallucination(prompt string, output map[string]any, cfg AntiHallucinationConfig) []string {
	promptNumbers := extractNumbers(prompt)
	var warnings []string

	for key, val := range output {
		lowerKey := strings.ToLower(key)

		if monetaryKeys[lowerKey] {
			n, ok := toFloat(val)
			if !ok {
				continue
			}
			if !numberIsPlausible(n, promptNumbers, cfg.NumericTolerance) {
				warnings = append(warnings, fmt.Sprintf("possible hallucination: field %q value %v does not correspond to any amount present in the prompt", key, val))
			}
		}

		if genericKeys[lowerKey] {
			s, ok := val.(string)
			if !ok {
				continue
			}
			if looksGeneric(s, cfg.MinGenericFieldLength) {
				warnings = append(warnings, fmt.Sprintf("possible hallucination: field %q looks like generic placeholder text: %q", key, s))
			}
		}
	}
	return warnings
}

func extractNumbers(s string) []float64 {
	matches := positiveNumberPattern.FindAllString(s, -1)
	nums := make([]float64, 0, len(matches))
	for _, m := range matches {
		if n, err := strconv.ParseFloat(m, 64); err == nil {
			nums = append(nums, n)
		}
	}
	return nums
}

func numberIsPlausible(n float64, candidates []float64, tolerance float64) bool {
	if len(candidates) == 0 {
		return true
	}
	sum := 0.0
	for _, c := range candidates {
		if within(n, c, tolerance) {
			return true
		}
		sum += c
	}
	return within(n, sum, tolerance)
}

func within(a, b, tolerance float64) bool {
	if b == 0 {
		return a == 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff/b <= tolerance
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func looksGeneric(s string, minLen int) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < minLen {
		return true
	}
	for _, pattern := range genericPhrasingPatterns {
		if pattern.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// toolCallExecutor invokes a named tool through the injected tool registry,
// enforcing allow/deny lists and pausing for approval when the tool
// requires it.
type toolCallExecutor struct{}

func (toolCallExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "tool_name") == "" {
		return process.ValidationError(process.CodeValidationError, "TOOL_CALL node requires type_config.tool_name")
	}
	return nil
}

func (toolCallExecutor) Execute(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	name := process.GetConfigString(node, "tool_name")

	if denied, _ := rawStringSlice(node, "deny_list"); contains(denied, name) {
		return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryAuthZ, process.CodeToolAccessDenied, fmt.Sprintf("tool %q is denied for this process", name), nil)}
	}
	if allowed, ok := rawStringSlice(node, "allow_list"); ok && len(allowed) > 0 && !contains(allowed, name) {
		return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryAuthZ, process.CodeToolAccessDenied, fmt.Sprintf("tool %q is not in the allow_list for this process", name), nil)}
	}

	if ctx.Deps == nil || ctx.Deps.Tools == nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ConfigurationError(process.CodeToolNotAvailable, "no tool registry configured")}
	}
	t, ok := ctx.Deps.Tools.Get(name)
	if !ok {
		return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryResource, process.CodeToolNotFound, fmt.Sprintf("tool %q not found", name), nil)}
	}

	if t.RequiresApproval() && !process.GetConfigBool(node, "approved") {
		return process.NodeResult{
			Status:          process.StatusWaiting,
			WaitingFor:      process.WaitApproval,
			WaitingMetadata: map[string]any{"tool_name": name},
		}
	}

	callable, ok := t.(tool.CallableTool)
	if !ok {
		return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryConfiguration, process.CodeToolNotAvailable, fmt.Sprintf("tool %q is not callable", name), nil)}
	}

	args, err := process.Interpolate(node, state)
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}

	spanCtx, toolSpan := ctx.Obs.Tracer().StartToolExecution(ctx, name)
	toolCtx := toolExecutionContext{Context: spanCtx, executionID: ctx.ExecutionID, nodeID: node.ID}
	toolStarted := time.Now()
	data, callErr := callable.Call(toolCtx, args)
	if callErr != nil {
		ctx.Obs.Metrics().RecordToolError(name, "TOOL_ERROR")
		ctx.Obs.Tracer().RecordError(toolSpan, callErr)
		toolSpan.End()
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeToolError, fmt.Sprintf("tool %q failed", name), callErr)}
	}
	ctx.Obs.Metrics().RecordToolCall(name, time.Since(toolStarted))
	toolSpan.End()
	return process.NodeResult{Status: process.StatusCompleted, Output: data}
}

type toolExecutionContext struct {
	context.Context
	executionID string
	nodeID      string
}

func (t toolExecutionContext) ExecutionID() string { return t.executionID }
func (t toolExecutionContext) NodeID() string      { return t.nodeID }

func rawStringSlice(node *process.ProcessNode, key string) ([]string, bool) {
	raw, ok := node.Config.TypeConfig[key]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// scriptExecutor runs a single expression against a restricted set of
// named state inputs, publishing its value as the "result" variable. The
// sandbox is expr-lang/expr's VM itself: it has no filesystem, network, or
// process-environment access, so there is no separate denylist to
// maintain beyond the whitelist of helper functions State.Evaluate exposes.
type scriptExecutor struct{}

func (scriptExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "expression") == "" {
		return process.ValidationError(process.CodeValidationError, "SCRIPT node requires type_config.expression")
	}
	return nil
}

func (scriptExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	result, err := state.Evaluate(process.GetConfigString(node, "expression"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}
	return process.NodeResult{
		Status:          process.StatusCompleted,
		Output:          map[string]any{"result": result},
		VariablesUpdate: map[string]any{"result": result},
	}
}

// RegisterTask adds AI_TASK, TOOL_CALL, and SCRIPT to reg.
func RegisterTask(reg *process.ExecutorRegistry, antiHallucination AntiHallucinationConfig) error {
	if err := reg.Register(process.NodeAITask, func() process.Executor { return aiTaskExecutor{AntiHallucination: antiHallucination} }); err != nil {
		return err
	}
	if err := reg.Register(process.NodeToolCall, func() process.Executor { return toolCallExecutor{} }); err != nil {
		return err
	}
	return reg.Register(process.NodeScript, func() process.Executor { return scriptExecutor{} })
}
