// Package dispatch serves the pipeline over a JSON-RPC style request/response
// protocol with a fixed method table.
package dispatch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nldbquery/nldbquery/internal/auth"
)

const Version = "2.0"

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeHandlerError   = -32000
	CodeUnauthorized   = auth.CodeUnauthorized
)

const (
	MethodInitialize          = "initialize"
	MethodQuery               = "query"
	MethodSchemaDiscovery     = "schema/discovery"
	MethodExplainQuery        = "query/explain"
	MethodValidateQuery       = "query/validate"
	MethodExecuteQuery        = "query/execute"
	MethodSchemaTables        = "schema/tables"
	MethodSchemaRelationships = "schema/relationships"
	MethodSystemMetrics       = "system/metrics"
	MethodDatabaseInfo        = "database/info"
)

type Request struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  map[string]any  `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// DecodeRequest parses one request envelope. The returned Error carries
// CodeParseError for malformed JSON and CodeInvalidRequest for a missing method
// or non-object params.
func DecodeRequest(body []byte) (Request, *Error) {
	var envelope struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  *string         `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Request{}, &Error{Code: CodeParseError, Message: "Parse error", Data: err.Error()}
	}
	req := Request{JSONRPC: envelope.JSONRPC, ID: envelope.ID}
	if envelope.Method == nil || strings.TrimSpace(*envelope.Method) == "" {
		return req, &Error{Code: CodeInvalidRequest, Message: "Invalid Request", Data: "method is required"}
	}
	req.Method = *envelope.Method
	if len(envelope.Params) > 0 && string(envelope.Params) != "null" {
		if err := json.Unmarshal(envelope.Params, &req.Params); err != nil {
			return req, &Error{Code: CodeInvalidRequest, Message: "Invalid Request", Data: "params must be an object"}
		}
	}
	return req, nil
}

func stringParam(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s parameter must be a string", key)
	}
	return strings.TrimSpace(value), nil
}

func requiredString(params map[string]any, key string) (string, error) {
	value, err := stringParam(params, key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("%s parameter is required", key)
	}
	return value, nil
}

func boolParam(params map[string]any, key string, fallback bool) (bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s parameter must be a boolean", key)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("%s parameter must be a boolean", key)
	}
}

func mapParam(params map[string]any, key string) (map[string]any, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	value, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s parameter must be an object", key)
	}
	return value, nil
}
