package routes

import (
	"log"
	"strconv"

	"github.com/kataras/iris/v12"

	"propertyline-server/chat"
	"propertyline-server/services"
	"propertyline-server/utils"
)

// decoratedMessage is a stored message plus resolved display info.
type decoratedMessage struct {
	chat.Message
	SenderName    string `json:"sender_name"`
	SenderImage   string `json:"sender_image"`
	ReceiverName  string `json:"receiver_name"`
	ReceiverImage string `json:"receiver_image"`
}

// conversationView is one row of the caller's conversation list.
type conversationView struct {
	ConversationID string `json:"conversation_id"`
	PropertyID     uint   `json:"property_id"`
	PropertyName   string `json:"property_name"`
	OtherUserID    uint   `json:"other_user_id"`
	OtherUserName  string `json:"other_user_name"`
	OtherUserImage string `json:"other_user_image"`
	LastMessage    string `json:"last_message"`
	UnreadCount    int    `json:"unread_count"`
}

// GetMessages serves both shapes of GET /api/messages: without property_id
// it lists the caller's conversations; with property_id it returns the full
// thread and implicitly marks the caller's side read.
func GetMessages(ctx iris.Context) {
	userID := utils.AuthenticatedUserID(ctx)
	propertyID := ctx.URLParamIntDefault("property_id", 0)
	if propertyID <= 0 {
		listConversations(ctx, userID)
		return
	}

	convID, ok := resolveConversation(ctx, userID, uint(propertyID))
	if !ok {
		// Unknown property or unresolvable counterpart: conversations are
		// implicit, so this is an empty thread, not a 404.
		ctx.JSON(iris.Map{"messages": []decoratedMessage{}})
		return
	}

	msgs, err := messageStore.FetchRange(ctx.Request().Context(), convID, 0)
	if err != nil {
		log.Printf("routes: fetch %s failed: %v", convID, err)
		utils.CreateInternalServerError(ctx)
		return
	}

	identities := map[uint]services.Identity{}
	resolve := func(id uint) services.Identity {
		if cached, ok := identities[id]; ok {
			return cached
		}
		identity := directory.ResolveUser(ctx.Request().Context(), id)
		identities[id] = identity
		return identity
	}

	decorated := make([]decoratedMessage, 0, len(msgs))
	for _, m := range msgs {
		sender, receiver := resolve(m.SenderID), resolve(m.ReceiverID)
		decorated = append(decorated, decoratedMessage{
			Message:       m,
			SenderName:    sender.Name,
			SenderImage:   sender.AvatarURL,
			ReceiverName:  receiver.Name,
			ReceiverImage: receiver.AvatarURL,
		})
	}

	// Viewing the thread marks the caller's side read. Best-effort.
	if err := messageStore.MarkRead(ctx.Request().Context(), convID, userID); err != nil {
		log.Printf("routes: implicit mark-read for %s failed: %v", convID, err)
	}

	ctx.JSON(iris.Map{"messages": decorated})
}

func listConversations(ctx iris.Context, userID uint) {
	entries, err := messageStore.ListForParticipant(ctx.Request().Context(), userID)
	if err != nil {
		log.Printf("routes: list conversations for %d failed: %v", userID, err)
		utils.CreateInternalServerError(ctx)
		return
	}

	views := make([]conversationView, 0, len(entries))
	for _, entry := range entries {
		other := directory.ResolveUser(ctx.Request().Context(), entry.OtherUserID)
		propertyName := ""
		if info, ok := directory.ResolveProperty(ctx.Request().Context(), entry.PropertyID); ok {
			propertyName = info.Name
		}
		views = append(views, conversationView{
			ConversationID: entry.ConversationID,
			PropertyID:     entry.PropertyID,
			PropertyName:   propertyName,
			OtherUserID:    entry.OtherUserID,
			OtherUserName:  other.Name,
			OtherUserImage: other.AvatarURL,
			LastMessage:    entry.LastMessage,
			UnreadCount:    entry.Unread,
		})
	}
	ctx.JSON(iris.Map{"conversations": views})
}

// resolveConversation derives the conversation key for the caller on a
// property. The counterpart is the explicit receiver_id param when present,
// otherwise the property's landlord. ok is false when no counterpart can be
// resolved (soft not-found).
func resolveConversation(ctx iris.Context, userID, propertyID uint) (string, bool) {
	other := uint(ctx.URLParamIntDefault("receiver_id", 0))
	if other == 0 {
		info, ok := directory.ResolveProperty(ctx.Request().Context(), propertyID)
		if !ok {
			return "", false
		}
		other = info.LandlordID
	}
	if other == 0 || other == userID {
		return "", false
	}
	return chat.DeriveConversationID(propertyID, userID, other), true
}

type createMessageInput struct {
	PropertyID  uint   `json:"property_id" validate:"required"`
	ReceiverID  uint   `json:"receiver_id" validate:"required"`
	Message     string `json:"message" validate:"required,lt=5000"`
	MessageType string `json:"message_type" validate:"omitempty,oneof=text image document system_maintenance system_payment"`
}

// CreateMessage handles POST /api/messages.
func CreateMessage(ctx iris.Context) {
	var req createMessageInput
	if err := ctx.ReadJSON(&req); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	userID := utils.AuthenticatedUserID(ctx)
	convID := chat.DeriveConversationID(req.PropertyID, userID, req.ReceiverID)

	msg, err := messageStore.Append(ctx.Request().Context(), convID, userID, req.ReceiverID, req.Message, req.MessageType, "")
	if err != nil {
		log.Printf("routes: append to %s failed: %v", convID, err)
		utils.CreateInternalServerError(ctx)
		return
	}
	notifier.Publish(ctx.Request().Context(), convID)

	// message_id is stringified everywhere on the wire; as a JSON number it
	// would not survive a float64 parse.
	ctx.JSON(iris.Map{"success": true, "message_id": strconv.FormatInt(msg.ID, 10)})
}

type markReadInput struct {
	PropertyID uint `json:"property_id" validate:"required"`
	ReceiverID uint `json:"receiver_id" validate:"required"`
}

// MarkMessagesRead handles PUT /api/messages.
func MarkMessagesRead(ctx iris.Context) {
	var req markReadInput
	if err := ctx.ReadJSON(&req); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	userID := utils.AuthenticatedUserID(ctx)
	convID := chat.DeriveConversationID(req.PropertyID, userID, req.ReceiverID)

	if err := messageStore.MarkRead(ctx.Request().Context(), convID, userID); err != nil {
		log.Printf("routes: mark-read for %s failed: %v", convID, err)
		utils.CreateInternalServerError(ctx)
		return
	}
	ctx.JSON(iris.Map{"success": true})
}
