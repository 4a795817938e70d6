package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"vartasetu-backend/internal/bus"
	"vartasetu-backend/internal/storage"
)

func (api *v1API) handleContacts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		api.handleListContacts(w, r)
	case http.MethodPost:
		api.handleSendContactRequest(w, r)
	default:
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
	}
}

func (api *v1API) handleContactSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/contacts/")
	parts := splitPath(rest)

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		api.handleDeleteContact(w, r, parts[0])
	case len(parts) == 2 && r.Method == http.MethodPost:
		contactID := parts[0]
		switch parts[1] {
		case "accept":
			api.handleAcceptContact(w, r, contactID)
		case "reject", "cancel":
			api.handleRemoveContactPair(w, r, contactID)
		case "block":
			api.handleBlockContact(w, r, contactID)
		case "unblock":
			api.handleUnblockContact(w, r, contactID)
		default:
			writeAPIError(w, ErrCodeNotFound, "not found")
		}
	default:
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
	}
}

type listContactsResponse struct {
	Contacts []contactItem `json:"contacts"`
}

func (api *v1API) handleListContacts(w http.ResponseWriter, r *http.Request) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	switch status {
	case "", storage.ContactStatusSent, storage.ContactStatusPending,
		storage.ContactStatusAccepted, storage.ContactStatusBlocked:
	default:
		writeAPIError(w, ErrCodeValidation, "invalid status filter")
		return
	}

	contacts, err := api.store.ListContacts(r.Context(), userID, status)
	if err != nil {
		api.logger.Error("list contacts failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]contactItem, 0, len(contacts))
	for _, c := range contacts {
		peer, err := api.store.GetUserByID(r.Context(), c.ContactID)
		if err != nil {
			items = append(items, toContactItem(c, nil))
			continue
		}
		items = append(items, toContactItem(c, &peer))
	}

	writeJSON(w, http.StatusOK, listContactsResponse{Contacts: items})
}

func (api *v1API) handleSendContactRequest(w http.ResponseWriter, r *http.Request) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		writeAPIError(w, ErrCodeValidation, "email is required")
		return
	}

	sentEdge, pendingEdge, err := api.store.SendContactRequest(r.Context(), userID, req.Email, nowMs())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeUserNotFound, "no user with that email")
		return
	case errors.Is(err, storage.ErrSelfReference):
		writeAPIError(w, ErrCodeSelfReference, "cannot add yourself")
		return
	case errors.Is(err, storage.ErrContactExists):
		writeAPIError(w, ErrCodeContactExists, "a relationship with this user already exists")
		return
	case err != nil:
		api.logger.Error("send contact request failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.events.Publish(bus.New(bus.KindContactRequested, toContactItem(pendingEdge, nil), pendingEdge.UserID))
	api.logger.Info("contact request sent", "from", userID, "to", sentEdge.ContactID)

	writeJSON(w, http.StatusCreated, map[string]contactItem{"contact": toContactItem(sentEdge, nil)})
}

// respondWithEdge reloads the caller's edge after a transition and notifies
// both sides.
func (api *v1API) respondWithEdge(w http.ResponseWriter, r *http.Request, userID, contactID string) {
	edge, err := api.store.GetContact(r.Context(), userID, contactID)
	if err != nil {
		api.logger.Error("get contact failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.events.Publish(bus.New(bus.KindContactUpdated, toContactItem(edge, nil), userID, contactID))
	writeJSON(w, http.StatusOK, map[string]contactItem{"contact": toContactItem(edge, nil)})
}

func (api *v1API) handleAcceptContact(w http.ResponseWriter, r *http.Request, contactID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	err := api.store.AcceptContact(r.Context(), userID, contactID, nowMs())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeContactNotFound, "contact not found")
		return
	case errors.Is(err, storage.ErrInvalidState):
		writeAPIError(w, ErrCodeContactState, "no pending request to accept")
		return
	case err != nil:
		api.logger.Error("accept contact failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.respondWithEdge(w, r, userID, contactID)
}

func (api *v1API) handleRemoveContactPair(w http.ResponseWriter, r *http.Request, contactID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	err := api.store.RemoveContactPair(r.Context(), userID, contactID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeContactNotFound, "contact not found")
		return
	case err != nil:
		api.logger.Error("remove contact pair failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.events.Publish(bus.New(bus.KindContactUpdated, map[string]string{
		"userId":    userID,
		"contactId": contactID,
		"status":    "removed",
	}, userID, contactID))

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (api *v1API) handleBlockContact(w http.ResponseWriter, r *http.Request, contactID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	err := api.store.BlockContact(r.Context(), userID, contactID, nowMs())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeContactNotFound, "contact not found")
		return
	case err != nil:
		api.logger.Error("block contact failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.respondWithEdge(w, r, userID, contactID)
}

func (api *v1API) handleUnblockContact(w http.ResponseWriter, r *http.Request, contactID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	err := api.store.UnblockContact(r.Context(), userID, contactID, nowMs())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeContactNotFound, "contact not found")
		return
	case errors.Is(err, storage.ErrInvalidState):
		writeAPIError(w, ErrCodeContactState, "contact is not blocked")
		return
	case err != nil:
		api.logger.Error("unblock contact failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.respondWithEdge(w, r, userID, contactID)
}

func (api *v1API) handleDeleteContact(w http.ResponseWriter, r *http.Request, contactID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	err := api.store.DeleteContact(r.Context(), userID, contactID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeContactNotFound, "contact not found")
		return
	case err != nil:
		api.logger.Error("delete contact failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
