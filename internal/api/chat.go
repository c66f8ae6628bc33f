package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/salesql/salesql/internal/auth"
	"github.com/salesql/salesql/internal/chat"
	"github.com/salesql/salesql/internal/observability"
)

const maxChatBodyBytes = 4 << 20

type chatRequest struct {
	ID       string           `json:"id,omitempty"`
	Messages []chat.UIMessage `json:"messages"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat dependencies are not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleChatUser); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	history, err := chat.ConvertUIMessages(request.Messages)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MESSAGES", err.Error(), false, nil)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream := newUIStreamWriter(w)
	stream.writeHeaders()
	events := deps.Chat.Stream(ctx, history)
	for event := range events {
		if err := stream.write(event); err != nil {
			if deps.Logger != nil && !errors.Is(err, context.Canceled) {
				observability.LoggerWithTrace(r.Context(), deps.Logger).Warn("chat stream write failed", "error", err)
			}
			cancel()
			for range events {
			}
			return
		}
	}
	_ = stream.done()
}
