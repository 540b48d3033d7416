package httpapi

import (
	"encoding/json"
	"net/http"

	"sessiondb/internal/dberr"
	"sessiondb/pkg/logger"
)

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	SubCode string `json:"sub_code,omitempty"`
	Message string `json:"message"`
}

const codeBadRequest = "BAD_REQUEST"

func statusFor(err error) int {
	switch {
	case dberr.KindOf(err) == dberr.KindConfiguration:
		return http.StatusBadRequest
	case dberr.IsConnNotInit(err),
		dberr.HasCode(err, dberr.CodeNoActiveTx),
		dberr.HasCode(err, dberr.CodeTxAlreadyActive),
		dberr.IsTransactionAborted(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Code: string(dberr.CodeDB), Message: err.Error()}
	if e, ok := dberr.As(err); ok {
		resp.Code = string(e.Code)
		resp.SubCode = string(e.SubCode)
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Z().Warn().Err(err).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: codeBadRequest, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Z().Error().Err(err).Msg("failed to encode response")
	}
}
