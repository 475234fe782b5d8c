package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"practicedesk.io/internal/auth"
	"practicedesk.io/internal/document"
	"practicedesk.io/internal/finalise"
	"practicedesk.io/internal/obs"
	"practicedesk.io/internal/policy"
)

type createRequest struct {
	ClientID   string `json:"client_id"`
	BusinessID string `json:"business_id"`
}

// transitionRequest covers every action body; unused fields are ignored per action.
type transitionRequest struct {
	Note         string `json:"note"`
	Reason       string `json:"reason"`
	NotifyClient bool   `json:"notify_client"`
}

type listResponse struct {
	Items []document.Entity `json:"items"`
	AsOf  time.Time         `json:"as_of"`
}

// kindFromPath returns the document type named by the second path segment.
func kindFromPath(path string) (document.Type, string, bool) {
	rest := strings.TrimPrefix(path, "/v1/")
	kind, tail, _ := strings.Cut(rest, "/")
	t, err := document.ParseType(kind)
	if err != nil || !strings.HasSuffix(kind, "s") {
		return "", "", false
	}
	return t, tail, true
}

func (a *API) handleCollection(w http.ResponseWriter, r *http.Request) {
	t, _, ok := kindFromPath(r.URL.Path)
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.listDocuments(w, r, t)
	case http.MethodPost:
		a.createDocument(w, r, t)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleResource(w http.ResponseWriter, r *http.Request) {
	t, tail, ok := kindFromPath(r.URL.Path)
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	tail = strings.TrimSuffix(tail, "/")
	if tail == "" {
		a.handleCollection(w, r)
		return
	}
	id, actionName, hasAction := strings.Cut(tail, "/")
	if id == "" || strings.Contains(actionName, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	ref := document.Ref{Type: t, ID: id}

	if !hasAction {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getDocument(w, r, ref)
		return
	}

	action, err := document.ParseAction(actionName)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.transition(w, r, ref, action)
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request, t document.Type) {
	p, err := principalFrom(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	items, err := a.machine.List(r.Context(), p, t, r.URL.Query().Get("client_id"))
	if err != nil {
		handleMachineError(w, r, err)
		return
	}
	if items == nil {
		items = []document.Entity{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) createDocument(w http.ResponseWriter, r *http.Request, t document.Type) {
	p, err := principalFrom(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req createRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	e, err := a.machine.Create(r.Context(), p, t, strings.TrimSpace(req.ClientID), strings.TrimSpace(req.BusinessID))
	if err != nil {
		handleMachineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) getDocument(w http.ResponseWriter, r *http.Request, ref document.Ref) {
	p, err := principalFrom(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	e, err := a.machine.View(r.Context(), p, ref)
	if err != nil {
		handleMachineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, ref document.Ref, action document.Action) {
	p, err := principalFrom(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req transitionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	var e document.Entity
	switch action {
	case document.ActionSubmit:
		e, err = a.machine.Submit(ctx, p, ref, strings.TrimSpace(req.Note))
	case document.ActionFinalise:
		e, err = a.machine.Finalise(ctx, p, ref, strings.TrimSpace(req.Note))
	case document.ActionShare:
		e, err = a.machine.Share(ctx, p, ref, req.NotifyClient)
	case document.ActionRevoke:
		e, err = a.machine.Revoke(ctx, p, ref, strings.TrimSpace(req.Reason))
	case document.ActionArchive:
		e, err = a.machine.Archive(ctx, p, ref, strings.TrimSpace(req.Note))
	}
	if err != nil {
		handleMachineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// decodeJSON reads a single JSON object. When optional is set an empty body is accepted.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleMachineError maps workflow errors onto HTTP. NotAuthorized is 403, or
// 404 when the caller may not view the document either; every other rejection
// is 409 with its reason as code.
func handleMachineError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *finalise.Rejection
	switch {
	case errors.As(err, &rej) && rej.Hidden:
		writeError(w, r, http.StatusNotFound, "document not found")
	case errors.As(err, &rej):
		payload := map[string]any{"error": rej.Error(), "code": rej.Reason}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		if rej.Reason == finalise.ReasonNotAuthorized {
			payload["error"] = "not authorized"
			writeJSON(w, http.StatusForbidden, payload)
			return
		}
		payload["status"] = rej.Status
		writeJSON(w, http.StatusConflict, payload)
	case errors.Is(err, document.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "document not found")
	case errors.Is(err, document.ErrExists):
		writeError(w, r, http.StatusConflict, "document already exists")
	case errors.Is(err, finalise.ErrInvalidInput), errors.Is(err, policy.ErrInvalidScope), errors.Is(err, document.ErrInvalidEntity):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	default:
		obs.Error("request failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"err":        err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
