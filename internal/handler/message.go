package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dialogs/internal/middleware"
	"github.com/dialogs/internal/service"
)

type MessageHandler struct {
	mailbox *service.Mailbox
}

func NewMessageHandler(mailbox *service.Mailbox) *MessageHandler {
	return &MessageHandler{mailbox: mailbox}
}

type sendRequest struct {
	RecipientID    string `json:"recipient_id"`
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	ImageURL       string `json:"image_url"`
	TrackID        string `json:"track_id"`
	ReplyToUUID    string `json:"reply_to_uuid"`
}

// Send accepts a message for an existing conversation or, with
// recipient_id, finds or creates the pair conversation first. Returns the
// sender's own copy.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := h.mailbox.Send(r.Context(), service.SendInput{
		SenderID:       userID,
		RecipientID:    req.RecipientID,
		ConversationID: req.ConversationID,
		Text:           req.Text,
		ImageURL:       req.ImageURL,
		TrackID:        req.TrackID,
		ReplyToUUID:    req.ReplyToUUID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type editRequest struct {
	Text string `json:"text"`
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req editRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.mailbox.Edit(r.Context(), chi.URLParam(r, "id"), req.Text, userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

// React toggles the caller's reaction on a message.
func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req reactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.mailbox.React(r.Context(), chi.URLParam(r, "id"), req.Emoji, userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deleteRequest struct {
	MessageIDs  []string `json:"message_ids"`
	ForEveryone bool     `json:"for_everyone"`
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req deleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.mailbox.Delete(r.Context(), req.MessageIDs, req.ForEveryone, userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type forwardRequest struct {
	MessageIDs      []string `json:"message_ids"`
	ConversationIDs []string `json:"conversation_ids"`
}

// Forward re-sends messages into other conversations under fresh uuids.
func (h *MessageHandler) Forward(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req forwardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msgs, err := h.mailbox.Forward(r.Context(), req.MessageIDs, req.ConversationIDs, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msgs)
}
