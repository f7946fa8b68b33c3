package nldbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

type rpcClient struct {
	baseURL  string
	apiKey   string
	database string
	timeout  time.Duration
	http     *http.Client
	nextID   atomic.Int64
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type queryOutcome struct {
	Success bool `json:"success"`
	Result  struct {
		FormattedResponse string `json:"formatted_response"`
	} `json:"result"`
	Error struct {
		Kind        string   `json:"error_type"`
		Message     string   `json:"error_message"`
		SQL         string   `json:"sql_query"`
		Suggestions []string `json:"suggestions"`
	} `json:"error"`
	raw json.RawMessage
}

func (o *queryOutcome) UnmarshalJSON(data []byte) error {
	type plain queryOutcome
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*o = queryOutcome(decoded)
	o.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (o queryOutcome) failure() error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", o.Error.Kind, o.Error.Message)
	if o.Error.SQL != "" {
		fmt.Fprintf(&b, "\n  sql: %s", o.Error.SQL)
	}
	for _, suggestion := range o.Error.Suggestions {
		fmt.Fprintf(&b, "\n  - %s", suggestion)
	}
	return errors.New(b.String())
}

// params adds the --database flag to extra when set.
func (c *rpcClient) params(extra map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+1)
	for key, value := range extra {
		out[key] = value
	}
	if database := strings.TrimSpace(c.database); database != "" {
		out["database"] = database
	}
	return out
}

func (c *rpcClient) callAndPrint(ctx context.Context, stdout io.Writer, method string, params map[string]any) error {
	var result json.RawMessage
	if err := c.call(ctx, method, params, &result); err != nil {
		return err
	}
	return printJSON(stdout, result)
}

func (c *rpcClient) call(ctx context.Context, method string, params map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}
	body, err := c.do(ctx, http.MethodPost, "/mcp", payload)
	if err != nil {
		return err
	}
	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return json.Unmarshal(resp.Result, out)
}

func (c *rpcClient) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *rpcClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func printJSON(w io.Writer, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var formatted bytes.Buffer
	if err := json.Indent(&formatted, raw, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	_, err := fmt.Fprintln(w, formatted.String())
	return err
}
