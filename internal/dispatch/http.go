package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nldbquery/nldbquery/internal/observability"
)

const maxRequestBytes = 1 << 20

// ServeHTTP answers one request envelope per POST body. Protocol failures are
// reported inside the envelope with HTTP 200.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := Response{JSONRPC: Version, ID: nil}
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.ErrorContext(r.Context(), "rpc transport failure",
				slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
				slog.Any("panic", rec),
			)
			resp.Result = nil
			resp.Error = &Error{Code: CodeInternalError, Message: "Internal error", Data: fmt.Sprint(rec)}
			writeResponse(w, resp)
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		resp.Error = &Error{Code: CodeParseError, Message: "Parse error", Data: err.Error()}
		writeResponse(w, resp)
		return
	}
	req, rpcErr := DecodeRequest(body)
	resp.ID = req.ID
	if rpcErr != nil {
		resp.Error = rpcErr
		writeResponse(w, resp)
		return
	}
	resp = d.Dispatch(r.Context(), req)
	writeResponse(w, resp)
}

// writeResponse encodes before writing so an unencodable result still yields
// an internal error envelope.
func writeResponse(w http.ResponseWriter, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		payload, _ = json.Marshal(Response{
			JSONRPC: Version,
			ID:      resp.ID,
			Error:   &Error{Code: CodeInternalError, Message: "Internal error", Data: err.Error()},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(payload, '\n'))
}
