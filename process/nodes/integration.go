package nodes

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ahamdihussein-star/processforge/pkg/httpclient"
	"github.com/ahamdihussein-star/processforge/process"
)

// httpRequestExecutor performs an HTTP call with the engine's own retry
// envelope driving retries; the underlying httpclient.Client is configured
// with retries disabled so a retryable HTTP_REQUEST failure is retried
// exactly once per node-level retry attempt, not twice.
type httpRequestExecutor struct{}

func (httpRequestExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "url") == "" {
		return process.ValidationError(process.CodeValidationError, "HTTP_REQUEST node requires type_config.url")
	}
	return nil
}

func (httpRequestExecutor) Execute(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	url, err := state.InterpolateString(process.GetConfigString(node, "url"))
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}
	method := process.GetConfigStringDefault(node, "method", "GET")

	var bodyReader io.Reader
	if bodyCfg, ok := node.Config.TypeConfig["body"]; ok {
		interpolated, err := state.InterpolateObject(bodyCfg)
		if err != nil {
			return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
		}
		data, jerr := json.Marshal(interpolated)
		if jerr != nil {
			return process.NodeResult{Status: process.StatusFailed, Error: process.InternalError(jerr)}
		}
		bodyReader = bytes.NewReader(data)
	}

	req, rerr := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if rerr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ValidationError(process.CodeValidationError, rerr.Error())}
	}
	if headers, ok := rawMap(node, "headers"); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := applyAuth(req, node, state); err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}

	client := httpclient.New(httpclient.WithMaxRetries(0))
	requestStarted := time.Now()
	resp, herr := client.Do(req)
	if herr != nil {
		if retryable, ok := herr.(*httpclient.RetryableError); ok {
			ctx.Obs.Metrics().RecordHTTPRequest(method, retryable.StatusCode, time.Since(requestStarted))
			return process.NodeResult{Status: process.StatusFailed, Error: process.NewError(process.CategoryExternal, process.HTTPCode(retryable.StatusCode), retryable.Message, retryable).Retryable(float64(retryable.RetryAfter))}
		}
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeConnectionError, "HTTP request failed", herr)}
	}
	defer resp.Body.Close()
	ctx.Obs.Metrics().RecordHTTPRequest(method, resp.StatusCode, time.Since(requestStarted))

	data, _ := io.ReadAll(resp.Body)
	output := map[string]any{"status_code": resp.StatusCode, "headers": flattenHeaders(resp.Header)}

	switch process.GetConfigStringDefault(node, "response_type", "json") {
	case "text":
		output["body"] = string(data)
	case "binary":
		output["body"] = data
	default:
		var parsed any
		if len(data) > 0 {
			if jerr := json.Unmarshal(data, &parsed); jerr == nil {
				output["body"] = parsed
			} else {
				output["body"] = string(data)
			}
		}
	}

	if !isSuccessCode(node, resp.StatusCode) {
		code := process.HTTPCode(resp.StatusCode)
		retryable := resp.StatusCode == 408 || resp.StatusCode == 429 || resp.StatusCode >= 500
		e := process.NewError(process.CategoryExternal, code, fmt.Sprintf("HTTP request returned status %d", resp.StatusCode), nil)
		if retryable {
			e.Retryable(1)
		}
		e.Details = output
		return process.NodeResult{Status: process.StatusFailed, Error: e}
	}

	return process.NodeResult{Status: process.StatusCompleted, Output: output}
}

func applyAuth(req *http.Request, node *process.ProcessNode, state *process.State) error {
	authType := process.GetConfigStringDefault(node, "auth", "none")
	switch authType {
	case "none", "":
		return nil
	case "bearer":
		token, err := state.InterpolateString(process.GetConfigString(node, "auth_token"))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "basic":
		user, err := state.InterpolateString(process.GetConfigString(node, "auth_username"))
		if err != nil {
			return err
		}
		pass, err := state.InterpolateString(process.GetConfigString(node, "auth_password"))
		if err != nil {
			return err
		}
		req.SetBasicAuth(user, pass)
	case "api_key":
		key, err := state.InterpolateString(process.GetConfigString(node, "auth_key"))
		if err != nil {
			return err
		}
		header := process.GetConfigStringDefault(node, "auth_header", "X-API-Key")
		req.Header.Set(header, key)
	default:
		return process.ConfigurationError(process.CodeAuthConfigError, fmt.Sprintf("unsupported auth type %q", authType))
	}
	return nil
}

func isSuccessCode(node *process.ProcessNode, status int) bool {
	codes, ok := rawIntSlice(node, "success_codes")
	if !ok || len(codes) == 0 {
		return status >= 200 && status < 300
	}
	for _, c := range codes {
		if c == status {
			return true
		}
	}
	return false
}

func rawIntSlice(node *process.ProcessNode, key string) ([]int, bool) {
	raw, ok := node.Config.TypeConfig[key]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(list))
	for _, v := range list {
		if f, ok := toFloat(v); ok {
			out = append(out, int(f))
		}
	}
	return out, true
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// databaseQueryExecutor runs a query against a connection resolved by
// connection_id from Dependencies.DBConnections. ${...} references in the
// query text are interpolated before it is sent; no bind arguments are passed.
type databaseQueryExecutor struct{}

func (databaseQueryExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "connection_id") == "" {
		return process.ValidationError(process.CodeValidationError, "DATABASE_QUERY node requires type_config.connection_id")
	}
	if process.GetConfigString(node, "query") == "" {
		return process.ValidationError(process.CodeValidationError, "DATABASE_QUERY node requires type_config.query")
	}
	return nil
}

func (databaseQueryExecutor) Execute(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	connID := process.GetConfigString(node, "connection_id")
	if ctx.Deps == nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ConfigurationError(process.CodeUnsupportedStorage, "no database connections configured")}
	}
	conn, ok := ctx.Deps.DBConnections[connID]
	if !ok {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ConfigurationError(process.CodeUnsupportedStorage, fmt.Sprintf("unknown database connection_id %q", connID))}
	}

	driver, uerr := dbDriver(conn.Type)
	if uerr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: uerr}
	}

	db, derr := sql.Open(driver, conn.URL)
	if derr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeDBError, "failed to open database connection", derr)}
	}
	defer db.Close()

	query, ierr := state.InterpolateString(process.GetConfigString(node, "query"))
	if ierr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(ierr)}
	}

	operation := process.GetConfigStringDefault(node, "operation", "query")
	if operation != "query" {
		result, execErr := db.ExecContext(ctx, query)
		if execErr != nil {
			return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeDBError, "query execution failed", execErr)}
		}
		affected, _ := result.RowsAffected()
		return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"rows_affected": affected}}
	}

	maxRows := 1000
	if v, ok := process.GetConfigFloat(node, "max_rows"); ok {
		maxRows = int(v)
	}

	rows, qerr := db.QueryContext(ctx, query)
	if qerr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeDBError, "query execution failed", qerr)}
	}
	defer rows.Close()

	cols, _ := rows.Columns()
	results := make([]map[string]any, 0)
	for rows.Next() && len(results) < maxRows {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if serr := rows.Scan(ptrs...); serr != nil {
			return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeDBError, "failed to scan row", serr)}
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		results = append(results, row)
	}

	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"rows": results, "row_count": len(results)}}
}

func dbDriver(dialect string) (string, *process.Error) {
	switch dialect {
	case "postgres":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite":
		return "sqlite3", nil
	default:
		return "", process.ConfigurationError(process.CodeUnsupportedStorage, fmt.Sprintf("unsupported database dialect %q", dialect))
	}
}

// messageQueueExecutor publishes a payload to an external broker through
// the injected QueuePublisher.
type messageQueueExecutor struct{}

func (messageQueueExecutor) Validate(node *process.ProcessNode) *process.Error {
	if process.GetConfigString(node, "queue_type") == "" {
		return process.ValidationError(process.CodeValidationError, "MESSAGE_QUEUE node requires type_config.queue_type")
	}
	return nil
}

func (messageQueueExecutor) Execute(ctx *process.ExecutionContext, node *process.ProcessNode, state *process.State) process.NodeResult {
	if ctx.Deps == nil || ctx.Deps.Queue == nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ConfigurationError(process.CodeUnsupportedQueue, "no queue publisher configured")}
	}

	payload, err := process.Interpolate(node, state)
	if err != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.AsError(err)}
	}

	queueType := process.GetConfigString(node, "queue_type")
	target := process.GetConfigString(node, "target")
	if perr := ctx.Deps.Queue.Publish(ctx, queueType, target, payload); perr != nil {
		return process.NodeResult{Status: process.StatusFailed, Error: process.ExternalError(process.CodeInternalError, "failed to publish message", perr)}
	}
	return process.NodeResult{Status: process.StatusCompleted, Output: map[string]any{"published": true}}
}

// RegisterIntegration adds HTTP_REQUEST, DATABASE_QUERY, and MESSAGE_QUEUE
// to reg. FILE_OPERATION is registered separately (see file.go) since it
// carries its own, larger MIME-family dispatch.
func RegisterIntegration(reg *process.ExecutorRegistry) error {
	registrations := []struct {
		t    process.NodeType
		ctor process.Constructor
	}{
		{process.NodeHTTPRequest, func() process.Executor { return httpRequestExecutor{} }},
		{process.NodeDatabaseQuery, func() process.Executor { return databaseQueryExecutor{} }},
		{process.NodeMessageQueue, func() process.Executor { return messageQueueExecutor{} }},
	}
	for _, r := range registrations {
		if err := reg.Register(r.t, r.ctor); err != nil {
			return err
		}
	}
	return nil
}
