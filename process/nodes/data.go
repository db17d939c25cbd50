package nodes

import (
	"fmt"
	"regexp"

	"github.com/ahamdihussein-star/processforge/process"
)

// transformExecutor reshapes a value via one of several named operations:
// map, rename, pick, omit, flatten, merge, or a free-form script expression.
type transformExecutor struct{}

func (transformExecutor) Validate(node *process.ProcessNode) *process.Error {
	switch process.GetConfigString(node, "operation") {
	case "map", "rename", "pick", "omit", "flatten", "merge", "script":
		return nil
	default:
		return process.ValidationError(process.CodeValidationError, "TRANSFORM node requires a known type_config.operation")
	}
}

func (transformExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	source, err := state.Evaluate(process.GetConfigString(node, "source"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}

	var result any
	switch process.GetConfigString(node, "operation") {
	case "rename":
		result = renameFields(source, node)
	case "pick":
		result = pickFields(source, node)
	case "omit":
		result = omitFields(source, node)
	case "flatten":
		result = flattenValue(source)
	case "merge":
		result = mergeValue(source, node)
	case "script":
		scripted, serr := state.Evaluate(process.GetConfigString(node, "expression"))
		if serr != nil {
			return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(serr)}
		}
		result = scripted
	default: // map
		result = mapFields(source, node, state)
	}

	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"result": result}, VariablesUpdate: map[string]any{"result": result}}
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func renameFields(source any, node *process.ProcessNode) any {
	obj, ok := asObject(source)
	if !ok {
		return source
	}
	mapping, _ := rawMap(node, "fields")
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if newKey, ok := mapping[k].(string); ok {
			out[newKey] = v
		} else {
			out[k] = v
		}
	}
	return out
}

func pickFields(source any, node *process.ProcessNode) any {
	obj, ok := asObject(source)
	if !ok {
		return source
	}
	fields, _ := rawStringSlice(node, "fields")
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := obj[f]; ok {
			out[f] = v
		}
	}
	return out
}

func omitFields(source any, node *process.ProcessNode) any {
	obj, ok := asObject(source)
	if !ok {
		return source
	}
	fields, _ := rawStringSlice(node, "fields")
	omit := make(map[string]bool, len(fields))
	for _, f := range fields {
		omit[f] = true
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if !omit[k] {
			out[k] = v
		}
	}
	return out
}

func flattenValue(source any) any {
	arr, ok := source.([]any)
	if !ok {
		return source
	}
	var out []any
	var rec func([]any)
	rec = func(items []any) {
		for _, item := range items {
			if sub, ok := item.([]any); ok {
				rec(sub)
			} else {
				out = append(out, item)
			}
		}
	}
	rec(arr)
	return out
}

func mergeValue(source any, node *process.ProcessNode) any {
	obj, ok := asObject(source)
	if !ok {
		return source
	}
	overlay, _ := rawMap(node, "with")
	out := make(map[string]any, len(obj)+len(overlay))
	for k, v := range obj {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func mapFields(source any, node *process.ProcessNode, state *process.State) any {
	mapping, _ := rawMap(node, "fields")
	out := make(map[string]any, len(mapping))
	for target, expr := range mapping {
		exprStr, ok := expr.(string)
		if !ok {
			continue
		}
		val, err := state.Evaluate(exprStr)
		if err != nil {
			continue
		}
		out[target] = val
	}
	if len(out) == 0 {
		return source
	}
	return out
}

// validateExecutor checks a value against rules, an expression, or a JSON
// schema, optionally failing the node when validation does not pass.
type validateExecutor struct{}

func (validateExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "expression") != "" {
		return nil
	}
	if _, ok := rawMap(node, "rules"); ok {
		return nil
	}
	if _, ok := rawMap(node, "schema"); ok {
		return nil
	}
	return process.ValidationError(process.CodeValidationError, "VALIDATE node requires type_config.expression, type_config.rules, or type_config.schema")
}

func (validateExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	valid := true
	var reason string

	if expression := process.GetConfigString(node, "expression"); expression != "" {
		ok, err := state.EvaluateCondition(expression)
		if err != nil {
			return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
		}
		valid = ok
		if !valid {
			reason = fmt.Sprintf("expression %q evaluated to false", expression)
		}
	}

	if valid {
		if rules, ok := rawMap(node, "rules"); ok {
			for field, rule := range rules {
				ruleStr, ok := rule.(string)
				if !ok {
					continue
				}
				v, _ := state.Get(field)
				if ruleStr == "required" && (v == nil || v == "") {
					valid = false
					reason = fmt.Sprintf("field %q is required", field)
					break
				}
			}
		}
	}

	if valid {
		if schema, ok := rawMap(node, "schema"); ok {
			var target any
			if source := process.GetConfigString(node, "source"); source != "" {
				var evalErr error
				target, evalErr = state.Evaluate(source)
				if evalErr != nil {
					return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(evalErr)}
				}
			}
			if ok, failReason := checkJSONSchema(schema, target); !ok {
				valid = false
				reason = failReason
			}
		}
	}

	output := map[string]any{"valid": valid}
	if reason != "" {
		output["reason"] = reason
	}

	if !valid && process.GetConfigBool(node, "fail_on_invalid") {
		return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryBusinessLogic, process.CodeValidationFailed, reason, nil), Output: output}
	}
	return process.NodeResult{Status: process.StatusCompleted, Output: output}
}

// filterExecutor evaluates a predicate per item of a source list, exposing
// item/index to the predicate expression and returning the matching subset.
type filterExecutor struct{}

func (filterExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "source") == "" {
		return process.ValidationError(process.CodeValidationError, "FILTER node requires type_config.source")
	}
	if process.GetConfigString(node, "predicate") == "" {
		return process.ValidationError(process.CodeValidationError, "FILTER node requires type_config.predicate")
	}
	return nil
}

func (filterExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	source, err := state.Evaluate(process.GetConfigString(node, "source"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}
	items, ok := source.([]any)
	if !ok {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ValidationError(process.CodeValidationError, "FILTER node's source did not evaluate to a list")}
	}

	predicate := process.GetConfigString(node, "predicate")
	itemVar := process.GetConfigStringDefault(node, "item_var", "item")
	indexVar := process.GetConfigStringDefault(node, "index_var", "index")

	out := make([]any, 0, len(items))
	for i, item := range items {
		state.Set(itemVar, item)
		state.Set(indexVar, i)
		ok, perr := state.EvaluateCondition(predicate)
		if perr != nil {
			return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(perr)}
		}
		if ok {
			out = append(out, item)
		}
	}
	state.Set(itemVar, nil)
	state.Set(indexVar, nil)

	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"result": out, "count": len(out)}, VariablesUpdate: map[string]any{"result": out}}
}

// mapExecutor is FILTER's sibling: it evaluates a per-item field mapping
// rather than a predicate, producing a transformed list the same size as
// its source.
type mapExecutor struct{}

func (mapExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "source") == "" {
		return process.ValidationError(process.CodeValidationError, "MAP node requires type_config.source")
	}
	return nil
}

func (mapExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	source, err := state.Evaluate(process.GetConfigString(node, "source"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}
	items, ok := source.([]any)
	if !ok {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ValidationError(process.CodeValidationError, "MAP node's source did not evaluate to a list")}
	}

	itemVar := process.GetConfigStringDefault(node, "item_var", "item")
	mapping, hasMapping := rawMap(node, "fields")

	out := make([]any, 0, len(items))
	for _, item := range items {
		state.Set(itemVar, item)
		if !hasMapping {
			out = append(out, item)
			continue
		}
		mapped := make(map[string]any, len(mapping))
		for target, expr := range mapping {
			exprStr, ok := expr.(string)
			if !ok {
				continue
			}
			val, merr := state.Evaluate(exprStr)
			if merr != nil {
				return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(merr)}
			}
			mapped[target] = val
		}
		out = append(out, mapped)
	}
	state.Set(itemVar, nil)

	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"result": out}, VariablesUpdate: map[string]any{"result": out}}
}

// aggregateExecutor reduces a list to a single value via a named function.
type aggregateExecutor struct{}

func (aggregateExecutor) Validate(node *process.ProcessNode) *process.Error {
	switch process.GetConfigString(node, "function") {
	case "count", "sum", "avg", "min", "max", "first", "last", "group_by":
		return nil
	default:
		return process.ValidationError(process.CodeValidationError, "AGGREGATE node requires a known type_config.function")
	}
}

func (aggregateExecutor) Execute(_ *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	source, err := state.Evaluate(process.GetConfigString(node, "source"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}
	items, ok := source.([]any)
	if !ok {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ValidationError(process.CodeValidationError, "AGGREGATE node's source did not evaluate to a list")}
	}

	field := process.GetConfigString(node, "field")
	values := make([]float64, 0, len(items))
	if field != "" {
		for _, item := range items {
			obj, ok := asObject(item)
			if !ok {
				continue
			}
			if f, ok := toFloat(obj[field]); ok {
				values = append(values, f)
			}
		}
	}

	var result any
	switch process.GetConfigString(node, "function") {
	case "count":
		result = len(items)
	case "sum":
		result = sumFloats(values)
	case "avg":
		if len(values) == 0 {
			result = 0.0
		} else {
			result = sumFloats(values) / float64(len(values))
		}
	case "min":
		result = minFloat(values)
	case "max":
		result = maxFloat(values)
	case "first":
		if len(items) > 0 {
			result = items[0]
		}
	case "last":
		if len(items) > 0 {
			result = items[len(items)-1]
		}
	case "group_by":
		result = groupBy(items, field)
	}

	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"result": result}, VariablesUpdate: map[string]any{"result": result}}
}

func sumFloats(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

func minFloat(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxFloat(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func groupBy(items []any, field string) map[string][]any {
	groups := make(map[string][]any)
	for _, item := range items {
		obj, ok := asObject(item)
		if !ok {
			continue
		}
		key := fmt.Sprintf("%v", obj[field])
		groups[key] = append(groups[key], item)
	}
	return groups
}

// checkJSONSchema validates value against a JSON Schema document expressed
// as a plain map (the same shape invopop/jsonschema produces when
// reflecting a Go struct, or one written by hand in a process definition).
// It covers the subset process definitions actually need: type, enum,
// required/properties for objects, items for arrays, and the common
// string/number constraints. An unrecognized keyword is ignored rather
// than rejected, matching JSON Schema's own "unknown keywords are
// annotations" behavior.
func checkJSONSchema(schema map[string]any, value any) (bool, string) {
	if enum, ok := schema["enum"].([]any); ok {
		if !enumContains(enum, value) {
			return false, fmt.Sprintf("value %v is not one of %v", value, enum)
		}
	}

	if schemaType, ok := schema["type"].(string); ok {
		if !valueMatchesType(value, schemaType) {
			return false, fmt.Sprintf("value %v is not of type %q", value, schemaType)
		}
	}

	switch v := value.(type) {
	case map[string]any:
		for _, field := range requiredFields(schema) {
			if _, present := v[field]; !present {
				return false, fmt.Sprintf("field %q is required", field)
			}
		}
		if props, ok := schema["properties"].(map[string]any); ok {
			for field, raw := range v {
				sub, ok := props[field].(map[string]any)
				if !ok {
					continue
				}
				if ok, reason := checkJSONSchema(sub, raw); !ok {
					return false, fmt.Sprintf("field %q: %s", field, reason)
				}
			}
		}
	case []any:
		if itemSchema, ok := schema["items"].(map[string]any); ok {
			for i, item := range v {
				if ok, reason := checkJSONSchema(itemSchema, item); !ok {
					return false, fmt.Sprintf("item %d: %s", i, reason)
				}
			}
		}
	case string:
		if min, ok := toFloat(schema["minLength"]); ok && float64(len(v)) < min {
			return false, fmt.Sprintf("string shorter than minLength %v", min)
		}
		if max, ok := toFloat(schema["maxLength"]); ok && float64(len(v)) > max {
			return false, fmt.Sprintf("string longer than maxLength %v", max)
		}
		if pattern, ok := schema["pattern"].(string); ok {
			re, err := regexp.Compile(pattern)
			if err == nil && !re.MatchString(v) {
				return false, fmt.Sprintf("string does not match pattern %q", pattern)
			}
		}
	default:
		if n, ok := toFloat(value); ok {
			if min, ok := toFloat(schema["minimum"]); ok && n < min {
				return false, fmt.Sprintf("value %v is below minimum %v", n, min)
			}
			if max, ok := toFloat(schema["maximum"]); ok && n > max {
				return false, fmt.Sprintf("value %v exceeds maximum %v", n, max)
			}
		}
	}

	return true, ""
}

func requiredFields(schema map[string]any) []string {
	raw, ok := schema["required"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if fmt.Sprintf("%v", candidate) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}

func valueMatchesType(value any, schemaType string) bool {
	switch schemaType {
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		n, ok := toFloat(value)
		return ok && n == float64(int64(n))
	case "number":
		_, ok := toFloat(value)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

// RegisterData adds TRANSFORM, VALIDATE, FILTER, MAP, and AGGREGATE to reg.
func RegisterData(reg *process.ExecutorRegistry) error {
	registrations := []struct {
		t    process.NodeType
		ctor process.Constructor
	}{
		{process.NodeTransform, func() process.Executor { return transformExecutor{} }},
		{process.NodeValidate, func() process.Executor { return validateExecutor{} }},
		{process.NodeFilter, func() process.Executor { return filterExecutor{} }},
		{process.NodeMap, func() process.Executor { return mapExecutor{} }},
		{process.NodeAggregate, func() process.Executor { return aggregateExecutor{} }},
	}
	for _, r := range registrations {
		if err := reg.Register(r.t, r.ctor); err != nil {
			return err
		}
	}
	return nil
}
