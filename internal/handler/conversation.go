package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialogs/internal/middleware"
	"github.com/dialogs/internal/model"
	"github.com/dialogs/internal/service"
)

type ConversationHandler struct {
	convs   *service.Conversations
	views   *service.Views
	mailbox *service.Mailbox
}

func NewConversationHandler(convs *service.Conversations, views *service.Views, mailbox *service.Mailbox) *ConversationHandler {
	return &ConversationHandler{convs: convs, views: views, mailbox: mailbox}
}

// List returns the viewer's conversation list, ordered pinned-first.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	views, err := h.views.ConversationList(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type openRequest struct {
	RecipientID string `json:"recipient_id"`
}

// Open finds or creates the 1:1 conversation with the recipient and
// returns the viewer-scoped entry.
func (h *ConversationHandler) Open(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req openRequest
	if !decodeBody(w, r, &req) {
		return
	}
	conv, err := h.convs.Open(r.Context(), userID, req.RecipientID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	view, err := h.views.Conversation(r.Context(), conv.ID, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	view, err := h.views.Conversation(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Delete removes the conversation for the caller, or for everyone with
// ?for_everyone=true. ?block=true additionally blacklists the peer.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	err := h.convs.Delete(r.Context(), chi.URLParam(r, "id"), userID, queryBool(r, "for_everyone"), queryBool(r, "block"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ConversationHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.convs.ClearHistory(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ConversationHandler) ToggleMute(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	muted, err := h.convs.ToggleMute(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"muted": muted})
}

func (h *ConversationHandler) ToggleArchive(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	archived, err := h.convs.ToggleArchive(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"archived": archived})
}

func (h *ConversationHandler) ToggleListPin(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	pinned, err := h.convs.ToggleListPin(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"pinned": pinned})
}

func (h *ConversationHandler) MarkUnread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.convs.MarkUnread(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.mailbox.MarkRead(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Typing relays a transient typing signal; clients normally send it over
// the WebSocket, this is the HTTP fallback.
func (h *ConversationHandler) Typing(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.convs.Typing(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type wallpaperRequest struct {
	Wallpaper    *model.Wallpaper `json:"wallpaper"`
	ApplyForBoth bool             `json:"apply_for_both"`
}

// SetWallpaper sets or resets (null wallpaper) the conversation background.
func (h *ConversationHandler) SetWallpaper(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req wallpaperRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.convs.SetWallpaper(r.Context(), chi.URLParam(r, "id"), userID, req.Wallpaper, req.ApplyForBoth)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Messages returns one page of the viewer's mailbox, chronological within
// the page; ?page=1 is the newest.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	page := queryInt(r, "page", 1)
	msgs, err := h.views.MessagePage(r.Context(), chi.URLParam(r, "id"), userID, page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"page": page, "messages": msgs})
}

// LocatePage answers which page holds a message (?uuid=) or a date
// (?date=2006-01-02). Used for jump-to-message.
func (h *ConversationHandler) LocatePage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID := chi.URLParam(r, "id")

	if msgUUID := r.URL.Query().Get("uuid"); msgUUID != "" {
		page, err := h.views.PageForUUID(r.Context(), convID, msgUUID, userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"page": page})
		return
	}
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}
		page, err := h.views.PageForDate(r.Context(), convID, userID, date)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"page": page})
		return
	}
	writeError(w, http.StatusBadRequest, "uuid or date required")
}

func (h *ConversationHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	msgs, err := h.views.Search(r.Context(), chi.URLParam(r, "id"), userID, r.URL.Query().Get("q"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ConversationHandler) Attachments(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	kind := r.URL.Query().Get("kind")
	page := queryInt(r, "page", 1)
	msgs, err := h.views.Attachments(r.Context(), chi.URLParam(r, "id"), userID, kind, page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ConversationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	stats, err := h.views.Stats(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *ConversationHandler) PinMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	err := h.convs.PinMessage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "messageId"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ConversationHandler) UnpinMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	err := h.convs.UnpinMessage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "messageId"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Pinned returns the viewer's copies of the conversation's pinned messages.
func (h *ConversationHandler) Pinned(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	view, err := h.views.Conversation(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view.PinnedMessages)
}
