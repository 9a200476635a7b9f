// Package chat holds the conversation key derivation and the DynamoDB-backed
// message store. A conversation is never created or deleted: it is the
// deterministic key of a (property, user pair) and exists once a message
// under that key exists. Exactly two participants per property-scoped
// conversation; group conversations are not representable.
package chat

import (
	"fmt"
	"strconv"
	"strings"
)

// DeriveConversationID returns the canonical conversation key for a property
// and an unordered pair of participants. Commutative in (userA, userB): both
// sides of a conversation must land on the same key or the thread silently
// splits in two.
func DeriveConversationID(propertyID, userA, userB uint) string {
	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("property_%d_%d_%d", propertyID, lo, hi)
}

// ParseConversationID is the inverse of DeriveConversationID. ok is false
// for anything that is not a well-formed conversation key.
func ParseConversationID(id string) (propertyID, userLow, userHigh uint, ok bool) {
	parts := strings.Split(id, "_")
	if len(parts) != 4 || parts[0] != "property" {
		return 0, 0, 0, false
	}
	nums := make([]uint64, 3)
	for i, p := range parts[1:] {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return 0, 0, 0, false
		}
		nums[i] = n
	}
	if nums[1] > nums[2] {
		return 0, 0, 0, false
	}
	return uint(nums[0]), uint(nums[1]), uint(nums[2]), true
}

// OtherParticipant returns the counterpart of userID inside a conversation
// key, or false when userID is not one of the pair.
func OtherParticipant(conversationID string, userID uint) (uint, bool) {
	_, lo, hi, ok := ParseConversationID(conversationID)
	if !ok {
		return 0, false
	}
	switch userID {
	case lo:
		return hi, true
	case hi:
		return lo, true
	}
	return 0, false
}
