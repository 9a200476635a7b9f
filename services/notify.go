package services

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"
)

const convChannelPrefix = "chat:conv:"

// Notifier fans out "new message" wakes per conversation over Redis pub/sub
// so live streams push instead of waiting out their poll interval. Delivery
// is best-effort: the stream's high-water-mark polling remains the catch-up
// mechanism, a missed wake only delays delivery by one poll.
type Notifier struct {
	rdb *redis.Client
}

func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Publish signals subscribers of the conversation that something was
// appended. Fire-and-forget.
func (n *Notifier) Publish(ctx context.Context, conversationID string) {
	if n.rdb == nil {
		return
	}
	if err := n.rdb.Publish(ctx, convChannelPrefix+conversationID, "1").Err(); err != nil {
		log.Printf("notify: publish for %s failed: %v", conversationID, err)
	}
}

// Subscribe returns a wake channel for the conversation and a cancel func
// that must be called when the stream closes. The channel coalesces bursts:
// a pending wake is enough, the poll picks up everything after the mark.
func (n *Notifier) Subscribe(ctx context.Context, conversationID string) (<-chan struct{}, func()) {
	wake := make(chan struct{}, 1)
	if n.rdb == nil {
		return wake, func() {}
	}

	sub := n.rdb.Subscribe(ctx, convChannelPrefix+conversationID)
	go func() {
		for range sub.Channel() {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, func() { sub.Close() }
}
