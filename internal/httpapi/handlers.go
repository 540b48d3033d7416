package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"sessiondb/internal/config"
	"sessiondb/internal/dberr"
	"sessiondb/internal/query"
	"sessiondb/internal/session"
	"sessiondb/internal/txn"
)

// Service is the database boundary the API drives. *database.DB implements it.
type Service interface {
	AcquireConnection(ctx context.Context, sc session.SessionContext) error
	Query(ctx context.Context, sc session.SessionContext, req query.Request, opts query.Options) (query.Outcome, error)
	BeginTransaction(sc session.SessionContext) (*txn.Controller, error)
	ReleaseConnection(ctx context.Context, sc session.SessionContext) error
	Sessions() []session.Info
	CloseSession(ctx context.Context, recordID string) error
	ClearHistory(recordID string) error
}

// queryRequest accepts "sql" as a string or a list of strings. For a string,
// "params" is one argument list; for a list, one argument list per statement.
type queryRequest struct {
	SQL         json.RawMessage `json:"sql"`
	Params      json.RawMessage `json:"params"`
	Parallel    bool            `json:"parallel"`
	ReferenceNo string          `json:"reference_no"`
}

type queryResponse struct {
	Result query.Outcome `json:"result"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func decodeQuery(r *http.Request) (query.Request, query.Options, error) {
	var body queryRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return query.Request{}, query.Options{}, fmt.Errorf("invalid JSON: %w", err)
	}
	opts := query.Options{Parallel: body.Parallel, ReferenceNo: body.ReferenceNo}
	raw := bytes.TrimSpace(body.SQL)
	if len(raw) == 0 {
		return query.Request{}, opts, fmt.Errorf("sql required")
	}
	hasParams := len(bytes.TrimSpace(body.Params)) > 0 && !bytes.Equal(bytes.TrimSpace(body.Params), []byte("null"))

	if raw[0] == '[' {
		var sqls []string
		if err := json.Unmarshal(raw, &sqls); err != nil {
			return query.Request{}, opts, fmt.Errorf("sql must be a string or a list of strings")
		}
		var params [][]any
		if hasParams {
			if err := unmarshalNumbers(body.Params, &params); err != nil {
				return query.Request{}, opts, fmt.Errorf("params must be a list of lists for a batch")
			}
		}
		return query.Batch(sqls, params...), opts, nil
	}

	var sql string
	if err := json.Unmarshal(raw, &sql); err != nil {
		return query.Request{}, opts, fmt.Errorf("sql must be a string or a list of strings")
	}
	var args []any
	if hasParams {
		if err := unmarshalNumbers(body.Params, &args); err != nil {
			return query.Request{}, opts, fmt.Errorf("params must be a list")
		}
	}
	return query.Single(sql, normalizeArgs(args)...), opts, nil
}

func unmarshalNumbers(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if lists, ok := v.(*[][]any); ok {
		for i := range *lists {
			(*lists)[i] = normalizeArgs((*lists)[i])
		}
	}
	return nil
}

// normalizeArgs turns json.Number into int64 or float64 so drivers can bind them.
func normalizeArgs(args []any) []any {
	for i, a := range args {
		n, ok := a.(json.Number)
		if !ok {
			continue
		}
		if v, err := n.Int64(); err == nil {
			args[i] = v
		} else if f, err := n.Float64(); err == nil {
			args[i] = f
		} else {
			args[i] = n.String()
		}
	}
	return args
}

func (a *API) handleAcquire(w http.ResponseWriter, r *http.Request) {
	sc := a.sessions.Resolve(w, r)
	if err := a.svc.AcquireConnection(r.Context(), sc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "acquired"})
}

func (a *API) handleRelease(w http.ResponseWriter, r *http.Request) {
	sc, ok := a.sessions.Peek(r)
	if ok {
		if err := a.svc.ReleaseConnection(r.Context(), sc); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "released"})
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, opts, err := decodeQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	sc := a.sessions.Resolve(w, r)
	out, err := a.svc.Query(r.Context(), sc, req, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Result: out})
}

// controller binds a transaction controller to the caller's session.
func (a *API) controller(w http.ResponseWriter, r *http.Request) (*txn.Controller, error) {
	return a.svc.BeginTransaction(a.sessions.Resolve(w, r))
}

func (a *API) handleTxInit(w http.ResponseWriter, r *http.Request) {
	tx, err := a.controller(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := tx.Init(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx.Retrieve())
}

func (a *API) handleTxQuery(w http.ResponseWriter, r *http.Request) {
	req, opts, err := decodeQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	tx, err := a.controller(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := tx.Query(r.Context(), req, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	snap := tx.Retrieve()
	writeJSON(w, http.StatusOK, struct {
		queryResponse
		txn.Snapshot
	}{queryResponse{Result: out}, snap})
}

func (a *API) handleTxCommit(w http.ResponseWriter, r *http.Request) {
	tx, err := a.controller(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx.Retrieve())
}

// handleTxRollback succeeds when the session has no connection.
func (a *API) handleTxRollback(w http.ResponseWriter, r *http.Request) {
	sc, ok := a.sessions.Peek(r)
	if !ok {
		writeJSON(w, http.StatusOK, txn.Snapshot{})
		return
	}
	tx, err := a.svc.BeginTransaction(sc)
	if err != nil {
		if dberr.IsConnNotInit(err) {
			writeJSON(w, http.StatusOK, txn.Snapshot{})
			return
		}
		writeError(w, err)
		return
	}
	if err := tx.Rollback(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx.Retrieve())
}

func (a *API) handleTxRetrieve(w http.ResponseWriter, r *http.Request) {
	sc, ok := a.sessions.Peek(r)
	if !ok {
		writeJSON(w, http.StatusOK, txn.Snapshot{})
		return
	}
	tx, err := a.svc.BeginTransaction(sc)
	if err != nil {
		writeJSON(w, http.StatusOK, txn.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, tx.Retrieve())
}

func (a *API) handleRefNo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"reference_no": a.refNo()})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	list := a.svc.Sessions()
	if list == nil {
		list = []session.Info{}
	}
	writeJSON(w, http.StatusOK, list)
}

// recordID reads "id" from a JSON body, the query string or a form.
func recordID(r *http.Request) (string, error) {
	if ct := r.Header.Get("Content-Type"); strings.Contains(ct, "application/json") {
		var body struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("invalid JSON")
		}
		if body.ID == "" {
			return "", fmt.Errorf("id required")
		}
		return body.ID, nil
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		id = r.FormValue("id")
	}
	if id == "" {
		return "", fmt.Errorf("id required")
	}
	return id, nil
}

func (a *API) handleSessionsClose(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := a.svc.CloseSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "closed"})
}

func (a *API) handleSessionsClearHistory(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := a.svc.ClearHistory(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "cleared"})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := a.svc.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// ConfigResponse is returned by GET /api/config with secrets masked.
type ConfigResponse struct {
	ConfigPath string         `json:"config_path"`
	Config     *config.Config `json:"config"`
}

func handleConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg, ok := config.GetCfgIfSet()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Code: string(dberr.CodeDatabaseInit), Message: "config not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{
		ConfigPath: config.GetConfigPath(),
		Config:     config.ConfigForAPI(cfg),
	})
}
