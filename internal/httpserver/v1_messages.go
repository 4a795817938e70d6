package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"vartasetu-backend/internal/bus"
	"vartasetu-backend/internal/storage"
)

func (api *v1API) handleConversationSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/conversations/")
	parts := splitPath(rest)

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		api.handleDeleteConversation(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		api.handleListConversation(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "read" && r.Method == http.MethodPost:
		api.handleMarkRead(w, r, parts[0])
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

func (api *v1API) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}
	api.handleSendMessage(w, r)
}

func (api *v1API) handleMessageSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/messages/")
	parts := splitPath(rest)

	switch {
	case len(parts) == 1 && r.Method == http.MethodPut:
		api.handleEditMessage(w, r, parts[0])
	case len(parts) == 1 && r.Method == http.MethodDelete:
		api.handleDeleteMessage(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "reactions" && r.Method == http.MethodPost:
		api.handleToggleReaction(w, r, parts[0])
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

type listConversationResponse struct {
	Messages []messageItem `json:"messages"`
}

func (api *v1API) handleListConversation(w http.ResponseWriter, r *http.Request, peerID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	messages, err := api.store.ListConversation(r.Context(), userID, peerID)
	if err != nil {
		api.logger.Error("list conversation failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}
	reactions, err := api.store.ReactionsForConversation(r.Context(), userID, peerID)
	if err != nil {
		api.logger.Error("list reactions failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	byMessage := make(map[string][]reactionItem, len(reactions))
	for _, reaction := range reactions {
		byMessage[reaction.MessageID] = append(byMessage[reaction.MessageID],
			reactionItem{UserID: reaction.UserID, Emoji: reaction.Emoji})
	}

	items := make([]messageItem, 0, len(messages))
	for _, m := range messages {
		item := toMessageItem(m)
		item.Reactions = byMessage[m.ID]
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, listConversationResponse{Messages: items})
}

func (api *v1API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		ReceiverID string    `json:"receiverId"`
		Type       string    `json:"type"`
		Text       string    `json:"text"`
		File       *fileItem `json:"file"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ReceiverID) == "" {
		writeAPIError(w, ErrCodeValidation, "receiverId is required")
		return
	}
	if req.Type == "" {
		req.Type = storage.MessageTypeText
	}
	if req.Type == storage.MessageTypeText && strings.TrimSpace(req.Text) == "" {
		writeAPIError(w, ErrCodeValidation, "text is required")
		return
	}
	if req.Type != storage.MessageTypeText && req.File == nil {
		writeAPIError(w, ErrCodeValidation, "file is required for media messages")
		return
	}

	row := storage.MessageRow{
		SenderID:    userID,
		ReceiverID:  req.ReceiverID,
		Type:        req.Type,
		Text:        req.Text,
		CreatedAtMs: nowMs(),
	}
	if req.File != nil {
		row.File = &storage.FileMeta{URL: req.File.URL, Name: req.File.Name, Size: req.File.Size, Mime: req.File.Mime}
	}

	msg, err := api.store.CreateMessage(r.Context(), row)
	switch {
	case errors.Is(err, storage.ErrSelfReference):
		writeAPIError(w, ErrCodeSelfReference, "cannot message yourself")
		return
	case err != nil:
		api.logger.Error("create message failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.events.Publish(bus.New(bus.KindMessageSent, toMessageItem(msg), msg.SenderID, msg.ReceiverID))
	writeJSON(w, http.StatusCreated, map[string]messageItem{"message": toMessageItem(msg)})
}

func (api *v1API) handleEditMessage(w http.ResponseWriter, r *http.Request, messageID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeAPIError(w, ErrCodeValidation, "text is required")
		return
	}

	msg, err := api.store.EditMessage(r.Context(), messageID, userID, req.Text, nowMs())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeMessageNotFound, "message not found")
		return
	case errors.Is(err, storage.ErrAccessDenied):
		writeAPIError(w, ErrCodeForbidden, "only the sender can edit a message")
		return
	case err != nil:
		api.logger.Error("edit message failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.events.Publish(bus.New(bus.KindMessageUpdated, toMessageItem(msg), msg.SenderID, msg.ReceiverID))
	writeJSON(w, http.StatusOK, map[string]messageItem{"message": toMessageItem(msg)})
}

func (api *v1API) handleDeleteMessage(w http.ResponseWriter, r *http.Request, messageID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	msg, err := api.store.DeleteMessage(r.Context(), messageID, userID, nowMs())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeMessageNotFound, "message not found")
		return
	case errors.Is(err, storage.ErrAccessDenied):
		writeAPIError(w, ErrCodeForbidden, "not a participant of this conversation")
		return
	case err != nil:
		api.logger.Error("delete message failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.events.Publish(bus.New(bus.KindMessageUpdated, map[string]string{
		"id":             msg.ID,
		"conversationId": msg.ConversationID,
		"state":          "deleted",
	}, msg.SenderID, msg.ReceiverID))

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (api *v1API) handleDeleteConversation(w http.ResponseWriter, r *http.Request, peerID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	if err := api.store.DeleteConversation(r.Context(), userID, peerID, nowMs()); err != nil {
		api.logger.Error("delete conversation failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.events.Publish(bus.New(bus.KindMessageUpdated, map[string]string{
		"conversationId": storage.ConversationID(userID, peerID),
		"state":          "cleared",
	}, userID, peerID))

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (api *v1API) handleMarkRead(w http.ResponseWriter, r *http.Request, peerID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	affected, err := api.store.MarkConversationRead(r.Context(), userID, peerID, nowMs())
	if err != nil {
		api.logger.Error("mark read failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	if affected > 0 {
		// The sender learns their messages were read.
		api.events.Publish(bus.New(bus.KindMessageUpdated, map[string]any{
			"conversationId": storage.ConversationID(userID, peerID),
			"state":          "read",
			"readBy":         userID,
		}, peerID))
	}

	writeJSON(w, http.StatusOK, map[string]int64{"marked": affected})
}

func (api *v1API) handleToggleReaction(w http.ResponseWriter, r *http.Request, messageID string) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Emoji) == "" {
		writeAPIError(w, ErrCodeValidation, "emoji is required")
		return
	}

	present, err := api.store.ToggleReaction(r.Context(), messageID, userID, req.Emoji, nowMs())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeMessageNotFound, "message not found")
		return
	case errors.Is(err, storage.ErrAccessDenied):
		writeAPIError(w, ErrCodeForbidden, "not a participant of this conversation")
		return
	case err != nil:
		api.logger.Error("toggle reaction failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	msg, err := api.store.GetMessageByID(r.Context(), messageID)
	if err == nil {
		api.events.Publish(bus.New(bus.KindMessageUpdated, map[string]any{
			"id":      msg.ID,
			"state":   "reaction",
			"userId":  userID,
			"emoji":   req.Emoji,
			"reacted": present,
		}, msg.SenderID, msg.ReceiverID))
	}

	writeJSON(w, http.StatusOK, map[string]bool{"reacted": present})
}
