package routes

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kataras/iris/v12"

	"propertyline-server/services"
	"propertyline-server/utils"
)

// Tuning knobs for the live stream; package-level so tests can shrink them.
var (
	streamPollInterval = 1500 * time.Millisecond
	streamIdleTimeout  = 5 * time.Minute
	streamMaxLifetime  = 30 * time.Minute
	authenticateStream = utils.LookupSession
)

// StreamMessages handles GET /api/messages/stream: a Server-Sent-Events
// tail of one conversation. The client supplies its high-water mark in
// last_message_id and auth as a token query param (EventSource cannot set
// headers). Each newly visible message is emitted exactly once as a
// new_message event; the mark is the sole dedup mechanism, so a reconnect
// with the same mark resumes without duplicates.
func StreamMessages(ctx iris.Context) {
	ctx.ContentType("text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")

	session, ok := authenticateStream(ctx.Request().Context(), ctx.URLParam("token"))
	if !ok {
		writeSSE(ctx, "error", `{"message":"invalid or missing auth token"}`)
		return
	}

	propertyID := ctx.URLParamIntDefault("property_id", 0)
	if propertyID <= 0 {
		writeSSE(ctx, "error", `{"message":"property_id is required"}`)
		return
	}
	mark, _ := ctx.URLParamInt64("last_message_id")
	if mark < 0 {
		mark = 0
	}

	convID, ok := resolveConversation(ctx, session.UserID, uint(propertyID))
	if !ok {
		writeSSE(ctx, "error", `{"message":"conversation could not be resolved"}`)
		return
	}

	reqCtx := ctx.Request().Context()
	wake, unsubscribe := notifier.Subscribe(reqCtx, convID)
	defer unsubscribe()

	// Stream events carry the same decorated shape as GET; resolved
	// identities are memoized for the life of the connection.
	identities := map[uint]services.Identity{}
	resolve := func(id uint) services.Identity {
		if cached, ok := identities[id]; ok {
			return cached
		}
		identity := directory.ResolveUser(reqCtx, id)
		identities[id] = identity
		return identity
	}

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(streamMaxLifetime)
	lastActivity := time.Now()

	for {
		msgs, err := messageStore.FetchRange(reqCtx, convID, mark)
		if err != nil {
			writeSSE(ctx, "error", `{"message":"message store unavailable"}`)
			return
		}
		for _, m := range msgs {
			// Only messages the authenticated participant is a party to.
			if m.SenderID != session.UserID && m.ReceiverID != session.UserID {
				continue
			}
			sender, receiver := resolve(m.SenderID), resolve(m.ReceiverID)
			data, err := json.Marshal(decoratedMessage{
				Message:       m,
				SenderName:    sender.Name,
				SenderImage:   sender.AvatarURL,
				ReceiverName:  receiver.Name,
				ReceiverImage: receiver.AvatarURL,
			})
			if err != nil {
				continue
			}
			if err := writeSSE(ctx, "new_message", string(data)); err != nil {
				// Failed write means the client is gone; stop polling.
				return
			}
			mark = m.ID
			lastActivity = time.Now()
		}

		if time.Now().After(deadline) || time.Since(lastActivity) > streamIdleTimeout {
			return
		}

		select {
		case <-reqCtx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// writeSSE emits one event frame and flushes it to the client.
func writeSSE(ctx iris.Context, event, data string) error {
	if _, err := fmt.Fprintf(ctx.ResponseWriter(), "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	ctx.ResponseWriter().Flush()
	return nil
}
