package routes

import (
	"context"

	"propertyline-server/chat"
	"propertyline-server/services"
)

// MessageStore is the slice of the chat store the handlers use.
type MessageStore interface {
	Append(ctx context.Context, conversationID string, senderID, receiverID uint, body, msgType, attachmentKey string) (chat.Message, error)
	FetchRange(ctx context.Context, conversationID string, sinceExclusive int64) ([]chat.Message, error)
	ListForParticipant(ctx context.Context, userID uint) ([]chat.IndexEntry, error)
	MarkRead(ctx context.Context, conversationID string, readerID uint) error
}

// IdentityDirectory decorates ids with display info.
type IdentityDirectory interface {
	ResolveUser(ctx context.Context, userID uint) services.Identity
	ResolveProperty(ctx context.Context, propertyID uint) (services.PropertyInfo, bool)
}

// AttachmentStore validates and persists uploads, with a compensating
// delete for failed message appends.
type AttachmentStore interface {
	Upload(ctx context.Context, data []byte, mimeType, originalName string) (key, msgType string, err error)
	Delete(ctx context.Context, key string) error
}

// WakeNotifier signals live streams about fresh appends.
type WakeNotifier interface {
	Publish(ctx context.Context, conversationID string)
	Subscribe(ctx context.Context, conversationID string) (<-chan struct{}, func())
}

var (
	messageStore MessageStore
	directory    IdentityDirectory
	attachments  AttachmentStore
	notifier     WakeNotifier
)

// InitMessaging wires the handlers' dependencies. Called once from main;
// tests install fakes instead.
func InitMessaging(store MessageStore, dir IdentityDirectory, atts AttachmentStore, notify WakeNotifier) {
	messageStore = store
	directory = dir
	attachments = atts
	notifier = notify
}
