package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/dcawatch/internal/audit"
	"github.com/ppiankov/dcawatch/internal/contract"
	"github.com/ppiankov/dcawatch/internal/governance"
	"github.com/ppiankov/dcawatch/internal/model"
)

// Error codes returned in {"code", "message"} bodies.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnknownAgency = "UNKNOWN_AGENCY"
	CodeForbidden     = "FORBIDDEN"
	CodeInvalidStatus = "INVALID_STATUS"
	CodeInvalidCase   = "INVALID_CASE"
	CodePrediction    = "PREDICTION_FAILED"
	CodeInternal      = "INTERNAL"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type assessRequest struct {
	Cases []model.Case `json:"cases"`
}

type actionRequest struct {
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Case      model.Case     `json:"case"`
	NewStatus string         `json:"new_status,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type actionResponse struct {
	Hash   string                  `json:"hash"`
	Result *model.EvaluationResult `json:"result,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	repo := s.contracts.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"agencies":      repo.Len(),
		"contract_hash": repo.Hash(),
	})
}

// checkCase matches POST /v1/cases/check
func (s *Server) checkCase(w http.ResponseWriter, r *http.Request) {
	var c model.Case
	if err := decodeBody(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if err := c.Validate(); err != nil {
		s.writeFacadeError(w, err)
		return
	}
	res, err := s.facade.CheckCase(c)
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// assessCases matches POST /v1/cases/assess
func (s *Server) assessCases(w http.ResponseWriter, r *http.Request) {
	var req assessRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	for _, c := range req.Cases {
		if err := c.Validate(); err != nil {
			s.writeFacadeError(w, err)
			return
		}
	}
	out, err := s.facade.Assess(r.Context(), req.Cases)
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// recordAction matches POST /v1/actions. VALIDATE and STATUS_UPDATE are
// routed to their dedicated flows; anything else is recorded as given.
func (s *Server) recordAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Actor) == "" || strings.TrimSpace(req.Action) == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "actor and action are required")
		return
	}
	if err := req.Case.Validate(); err != nil {
		s.writeFacadeError(w, err)
		return
	}

	var (
		resp actionResponse
		err  error
	)
	switch req.Action {
	case governance.ActionValidate:
		var res model.EvaluationResult
		res, resp.Hash, err = s.facade.ValidateCase(req.Actor, req.Case)
		if err == nil {
			resp.Result = &res
		}
	case governance.ActionStatusUpdate:
		resp.Hash, err = s.facade.UpdateStatus(req.Actor, req.Case, req.NewStatus)
	default:
		resp.Hash, err = s.facade.RecordAction(req.Actor, req.Action, req.Case, req.Metadata)
	}
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ledgerEntries matches GET /v1/ledger?case_id=&actor=&action=&from=&to=
func (s *Server) ledgerEntries(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	out, err := s.facade.AuditTrail(r.Header.Get(ActorHeader), q)
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// verifyLedger matches GET /v1/ledger/verify. A broken chain is a
// successful request whose body reports valid=false.
func (s *Server) verifyLedger(w http.ResponseWriter, r *http.Request) {
	res, err := s.facade.VerifyLedger()
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	if !res.Valid {
		s.logger.Warn("ledger verification failed", "index", res.Index, "kind", res.Kind)
	}
	writeJSON(w, http.StatusOK, res)
}

func parseQuery(r *http.Request) (audit.Query, error) {
	v := r.URL.Query()
	q := audit.Query{Actor: v.Get("actor"), Action: v.Get("action")}
	if raw := v.Get("case_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("invalid case_id %q", raw)
		}
		q.CaseID = &id
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("invalid %s %q: want RFC 3339", p.name, raw)
		}
		*p.dst = ts
	}
	return q, nil
}

func (s *Server) writeFacadeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contract.ErrUnknownAgency):
		writeError(w, http.StatusUnprocessableEntity, CodeUnknownAgency, err.Error())
	case errors.Is(err, governance.ErrForbidden):
		writeError(w, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.Is(err, model.ErrInvalidCase):
		writeError(w, http.StatusBadRequest, CodeInvalidCase, err.Error())
	case errors.Is(err, audit.ErrInvalidEntry):
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
	case errors.Is(err, governance.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, CodeInvalidStatus, err.Error())
	case errors.Is(err, governance.ErrPrediction):
		s.logger.Error("prediction failed", "error", err)
		writeError(w, http.StatusBadGateway, CodePrediction, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
