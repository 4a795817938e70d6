package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"vartasetu-backend/internal/bus"
	"vartasetu-backend/internal/storage"
)

func (api *v1API) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}
	api.handleCreateCall(w, r)
}

func (api *v1API) handleCallSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/calls/")
	parts := splitPath(rest)

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		api.handleGetCall(w, r, parts[0])
	case len(parts) == 2:
		callID := parts[0]
		switch parts[1] {
		case "answer":
			api.requirePost(w, r, func(w http.ResponseWriter, r *http.Request) {
				api.handleAnswerCall(w, r, callID)
			})
		case "decline":
			api.requirePost(w, r, func(w http.ResponseWriter, r *http.Request) {
				api.handleDeclineCall(w, r, callID)
			})
		case "end":
			api.requirePost(w, r, func(w http.ResponseWriter, r *http.Request) {
				api.handleEndCall(w, r, callID)
			})
		case "candidates":
			switch r.Method {
			case http.MethodGet:
				api.handleListCandidates(w, r, callID)
			case http.MethodPost:
				api.handleAppendCandidate(w, r, callID)
			default:
				writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			}
		default:
			writeAPIError(w, ErrCodeNotFound, "not found")
		}
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

func (api *v1API) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		ReceiverID string `json:"receiverId"`
		Type       string `json:"type"`
		Offer      string `json:"offer"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ReceiverID) == "" || strings.TrimSpace(req.Offer) == "" {
		writeAPIError(w, ErrCodeValidation, "receiverId and offer are required")
		return
	}

	call, err := api.store.CreateCall(r.Context(), userID, req.ReceiverID, req.Type, req.Offer, nowMs())
	switch {
	case errors.Is(err, storage.ErrSelfReference):
		writeAPIError(w, ErrCodeSelfReference, "cannot call yourself")
		return
	case errors.Is(err, storage.ErrInvalidState):
		writeAPIError(w, ErrCodeValidation, "type must be audio or video")
		return
	case err != nil:
		api.logger.Error("create call failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.events.Publish(bus.New(bus.KindCallIncoming, toCallItem(call), call.ReceiverID))
	api.logger.Info("call created", "call_id", call.ID, "type", call.Type)

	writeJSON(w, http.StatusCreated, map[string]callItem{"call": toCallItem(call)})
}

func (api *v1API) handleGetCall(w http.ResponseWriter, r *http.Request, callID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	call, err := api.store.GetCallByID(r.Context(), callID)
	if errors.Is(err, storage.ErrNotFound) {
		writeAPIError(w, ErrCodeCallNotFound, "call not found")
		return
	}
	if err != nil {
		api.logger.Error("get call failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}
	if call.CallerID != userID && call.ReceiverID != userID {
		writeAPIError(w, ErrCodeForbidden, "not a participant of this call")
		return
	}

	writeJSON(w, http.StatusOK, map[string]callItem{"call": toCallItem(call)})
}

func (api *v1API) writeCallTransition(w http.ResponseWriter, call storage.CallRow, err error, action string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeCallNotFound, "call not found")
	case errors.Is(err, storage.ErrAccessDenied):
		writeAPIError(w, ErrCodeForbidden, "not allowed for this call")
	case errors.Is(err, storage.ErrInvalidState):
		writeAPIError(w, ErrCodeCallInvalidState, "call is not in a state that allows this")
	case err != nil:
		api.logger.Error(action+" failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
	default:
		api.events.Publish(bus.New(bus.KindCallState, toCallItem(call), call.CallerID, call.ReceiverID))
		writeJSON(w, http.StatusOK, map[string]callItem{"call": toCallItem(call)})
	}
}

func (api *v1API) handleAnswerCall(w http.ResponseWriter, r *http.Request, callID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		Answer string `json:"answer"`
	}
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Answer) == "" {
		writeAPIError(w, ErrCodeValidation, "answer is required")
		return
	}

	call, err := api.store.AnswerCall(r.Context(), callID, userID, req.Answer, nowMs())
	api.writeCallTransition(w, call, err, "answer call")
}

func (api *v1API) handleDeclineCall(w http.ResponseWriter, r *http.Request, callID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	call, err := api.store.DeclineCall(r.Context(), callID, userID, nowMs())
	api.writeCallTransition(w, call, err, "decline call")
}

func (api *v1API) handleEndCall(w http.ResponseWriter, r *http.Request, callID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	call, err := api.store.EndCall(r.Context(), callID, userID, nowMs())
	api.writeCallTransition(w, call, err, "end call")
}

func (api *v1API) handleAppendCandidate(w http.ResponseWriter, r *http.Request, callID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		Candidate string `json:"candidate"`
	}
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Candidate) == "" {
		writeAPIError(w, ErrCodeValidation, "candidate is required")
		return
	}

	candidate, err := api.store.AppendIceCandidate(r.Context(), callID, userID, req.Candidate, nowMs())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeCallNotFound, "call not found")
		return
	case errors.Is(err, storage.ErrAccessDenied):
		writeAPIError(w, ErrCodeForbidden, "not a participant of this call")
		return
	case errors.Is(err, storage.ErrInvalidState):
		writeAPIError(w, ErrCodeCallInvalidState, "call is no longer active")
		return
	case err != nil:
		api.logger.Error("append candidate failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]candidateItem{"candidate": toCandidateItem(candidate)})
}

type listCandidatesResponse struct {
	Candidates []candidateItem `json:"candidates"`
}

func (api *v1API) handleListCandidates(w http.ResponseWriter, r *http.Request, callID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	var afterSeq int64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeAPIError(w, ErrCodeValidation, "after must be a non-negative integer")
			return
		}
		afterSeq = parsed
	}

	candidates, err := api.store.ListIceCandidatesAfter(r.Context(), callID, afterSeq, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeCallNotFound, "call not found")
		return
	case errors.Is(err, storage.ErrAccessDenied):
		writeAPIError(w, ErrCodeForbidden, "not a participant of this call")
		return
	case err != nil:
		api.logger.Error("list candidates failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]candidateItem, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, toCandidateItem(c))
	}
	writeJSON(w, http.StatusOK, listCandidatesResponse{Candidates: items})
}
