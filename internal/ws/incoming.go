package ws

import (
	"context"

	"github.com/dialogs/internal/event"
	"github.com/dialogs/internal/logger"
	"github.com/dialogs/internal/model"
	"github.com/dialogs/internal/service"
)

// MailboxService is the slice of the mailbox service the hub dispatches to.
type MailboxService interface {
	Send(ctx context.Context, in service.SendInput) (*model.Message, error)
	Edit(ctx context.Context, messageID, newText, actorID string) error
	React(ctx context.Context, messageID, emoji, actorID string) error
	Delete(ctx context.Context, messageIDs []string, forEveryone bool, actorID string) error
	MarkRead(ctx context.Context, conversationID, actorID string) error
}

// ConversationService is the slice of the conversation service the hub
// dispatches to.
type ConversationService interface {
	Typing(ctx context.Context, convID, actorID string) error
}

// Frame types accepted from clients. Everything else arrives over HTTP.
const (
	FrameNewMessage     = "new_message"
	FrameTyping         = "typing"
	FrameMessagesRead   = "messages_read"
	FrameEditMessage    = "edit_message"
	FrameDeleteMessages = "delete_messages"
	FrameReactMessage   = "react_message"
)

// IncomingFrame is one client-to-server message. Fields are a union over
// the frame types; unused ones stay empty.
type IncomingFrame struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id,omitempty"`
	RecipientID    string   `json:"recipient_id,omitempty"`
	Text           string   `json:"text,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`
	TrackID        string   `json:"track_id,omitempty"`
	ReplyToUUID    string   `json:"reply_to_uuid,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
	MessageIDs     []string `json:"message_ids,omitempty"`
	Emoji          string   `json:"emoji,omitempty"`
	ForEveryone    bool     `json:"for_everyone,omitempty"`
}

// HandleFrame dispatches one client frame. Service errors go back to the
// sending client as an error envelope; they never tear the connection down.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, frame IncomingFrame) {
	var err error
	switch frame.Type {
	case FrameNewMessage:
		_, err = h.mailbox.Send(ctx, service.SendInput{
			SenderID:       c.userID,
			RecipientID:    frame.RecipientID,
			ConversationID: frame.ConversationID,
			Text:           frame.Text,
			ImageURL:       frame.ImageURL,
			TrackID:        frame.TrackID,
			ReplyToUUID:    frame.ReplyToUUID,
		})
	case FrameTyping:
		err = h.convs.Typing(ctx, frame.ConversationID, c.userID)
	case FrameMessagesRead:
		err = h.mailbox.MarkRead(ctx, frame.ConversationID, c.userID)
	case FrameEditMessage:
		err = h.mailbox.Edit(ctx, frame.MessageID, frame.Text, c.userID)
	case FrameDeleteMessages:
		ids := frame.MessageIDs
		if len(ids) == 0 && frame.MessageID != "" {
			ids = []string{frame.MessageID}
		}
		err = h.mailbox.Delete(ctx, ids, frame.ForEveryone, c.userID)
	case FrameReactMessage:
		err = h.mailbox.React(ctx, frame.MessageID, frame.Emoji, c.userID)
	default:
		logger.Errorf("ws unknown frame type %q user=%s", frame.Type, c.userID)
		h.sendError(c, "unknown frame type")
		return
	}

	if err != nil {
		logger.Errorf("ws %s user=%s: %v", frame.Type, c.userID, err)
		h.sendError(c, err.Error())
	}
}

func (h *Hub) sendError(c *Client, msg string) {
	select {
	case <-c.done:
	case c.send <- event.Envelope{Type: event.TypeError, Payload: event.ErrorPayload{Message: msg}}:
	default:
	}
}
