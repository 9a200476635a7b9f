package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkConvPrefix = "CONV#"
	pkUserPrefix = "USER#"
	skMsgPrefix  = "MSG#"
	skIdxPrefix  = "CONV#"

	// How many times Append bumps the timestamp on a sort-key collision
	// before giving up. Collisions need two appends in the same nanosecond.
	appendRetries = 5
)

// Valid message types. System messages are written by out-of-band product
// surfaces (maintenance tickets, rent payments) through the same store.
const (
	TypeText              = "text"
	TypeImage             = "image"
	TypeDocument          = "document"
	TypeSystemMaintenance = "system_maintenance"
	TypeSystemPayment     = "system_payment"
)

// dynamoAPI is the minimal DynamoDB surface the store needs. Defined here
// for testability.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Message is one immutable item of a conversation's append-only log. Only
// IsRead ever changes after the write. The id is a unix-nanosecond value
// above 2^53, so it crosses the wire as a decimal string; a JSON number
// would lose precision in clients that parse into float64.
type Message struct {
	ID             int64  `json:"message_id,string"`
	ConversationID string `json:"-"`
	PropertyID     uint   `json:"property_id"`
	SenderID       uint   `json:"sender_id"`
	ReceiverID     uint   `json:"receiver_id"`
	Body           string `json:"message"`
	Type           string `json:"message_type"`
	AttachmentPath string `json:"attachment_path"`
	IsRead         bool   `json:"is_read"`
	CreatedAt      string `json:"created_at"`
}

// IndexEntry is the denormalized per-participant summary of one
// conversation, maintained best-effort on every append so that listing a
// user's conversations is a single query.
type IndexEntry struct {
	ConversationID string
	PropertyID     uint
	OtherUserID    uint
	LastMessage    string
	LastMessageAt  int64
	Unread         int
}

// Store is an append-only per-conversation message log on a single DynamoDB
// table. Message items live under (CONV#<id>, MSG#<padded nanos>); index
// items live under (USER#<uid>, CONV#<id>).
type Store struct {
	api   dynamoAPI
	table string
}

func NewStore(api dynamoAPI, table string) (*Store, error) {
	if api == nil {
		return nil, errors.New("chat: dynamo api must not be nil")
	}
	if table == "" {
		return nil, errors.New("chat: table name must not be empty")
	}
	return &Store{api: api, table: table}, nil
}

func convPK(conversationID string) string { return pkConvPrefix + conversationID }
func userPK(userID uint) string           { return fmt.Sprintf("%s%d", pkUserPrefix, userID) }

// msgSK zero-pads the nanosecond id so lexicographic sort-key order matches
// numeric order.
func msgSK(id int64) string { return fmt.Sprintf("%s%020d", skMsgPrefix, id) }

// Append writes one message item, then best-effort updates both
// participants' index entries. The message item is the source of truth: an
// index update failure is logged and the append still succeeds, because
// index entries are derivable by re-scanning the conversation (RebuildIndex).
func (s *Store) Append(ctx context.Context, conversationID string, senderID, receiverID uint, body, msgType, attachmentKey string) (Message, error) {
	propertyID, _, _, ok := ParseConversationID(conversationID)
	if !ok {
		return Message{}, fmt.Errorf("chat: Append: malformed conversation id %q", conversationID)
	}
	if msgType == "" {
		msgType = TypeText
	}

	msg := Message{
		ConversationID: conversationID,
		PropertyID:     propertyID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		Type:           msgType,
		AttachmentPath: attachmentKey,
	}

	id := time.Now().UTC().UnixNano()
	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		msg.ID = id
		msg.CreatedAt = time.Unix(0, id).UTC().Format(time.RFC3339Nano)
		_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.table),
			Item:                messageItem(msg),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		})
		if err == nil {
			break
		}
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return Message{}, fmt.Errorf("chat: Append put message: %w", err)
		}
		// Same-nanosecond collision: bump and retry so created_at stays
		// monotonic within the conversation.
		id++
	}
	if err != nil {
		return Message{}, fmt.Errorf("chat: Append: sort key still colliding after %d attempts: %w", appendRetries, err)
	}

	s.touchIndex(ctx, msg, senderID, receiverID, false)
	s.touchIndex(ctx, msg, receiverID, senderID, true)
	return msg, nil
}

// touchIndex refreshes owner's index entry for msg's conversation,
// incrementing the cached unread counter when the owner is the receiver.
// Best-effort: failures are logged, never returned.
func (s *Store) touchIndex(ctx context.Context, msg Message, owner, other uint, incrementUnread bool) {
	expr := "SET property_id = :pid, other_user_id = :other, last_message = :body, last_message_at = :at"
	values := map[string]types.AttributeValue{
		":pid":   numAttr(int64(msg.PropertyID)),
		":other": numAttr(int64(other)),
		":body":  &types.AttributeValueMemberS{Value: indexPreview(msg)},
		":at":    numAttr(msg.ID),
	}
	if incrementUnread {
		expr += " ADD unread :one"
		values[":one"] = numAttr(1)
	}
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(owner)},
			"SK": &types.AttributeValueMemberS{Value: skIdxPrefix + msg.ConversationID},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		log.Printf("chat: index update for user %d conversation %s failed (recoverable via RebuildIndex): %v", owner, msg.ConversationID, err)
	}
}

// indexPreview is the last-message snapshot shown in conversation lists.
func indexPreview(msg Message) string {
	if msg.Body != "" {
		return msg.Body
	}
	switch msg.Type {
	case TypeImage:
		return "[image]"
	case TypeDocument:
		return "[document]"
	}
	return msg.Body
}

// queryPages runs the query and follows LastEvaluatedKey so partitions
// larger than one response page are read in full.
func (s *Store) queryPages(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, int32, error) {
	var items []map[string]types.AttributeValue
	var count int32
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, out.Items...)
		count += out.Count
		if len(out.LastEvaluatedKey) == 0 {
			return items, count, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// FetchRange returns the conversation's messages strictly after
// sinceExclusive, ascending by created_at. The caller holds the cursor;
// passing the id of the last message seen resumes exactly after it.
func (s *Store) FetchRange(ctx context.Context, conversationID string, sinceExclusive int64) ([]Message, error) {
	items, _, err := s.queryPages(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND SK > :since"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":since": &types.AttributeValueMemberS{Value: msgSK(sinceExclusive)},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("chat: FetchRange query: %w", err)
	}

	msgs := make([]Message, 0, len(items))
	for _, item := range items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("chat: FetchRange unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// ListForParticipant returns the user's conversation index entries, most
// recent first. The unread value is recomputed with a count query per entry;
// the cached counter on the index item is never trusted (it can drift under
// concurrent sends).
func (s *Store) ListForParticipant(ctx context.Context, userID uint) ([]IndexEntry, error) {
	items, _, err := s.queryPages(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skIdxPrefix},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat: ListForParticipant query: %w", err)
	}

	entries := make([]IndexEntry, 0, len(items))
	for _, item := range items {
		entry, err := itemToIndexEntry(item)
		if err != nil {
			return nil, fmt.Errorf("chat: ListForParticipant unmarshal: %w", err)
		}
		unread, err := s.countUnread(ctx, entry.ConversationID, userID)
		if err != nil {
			return nil, fmt.Errorf("chat: ListForParticipant: %w", err)
		}
		entry.Unread = unread
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LastMessageAt > entries[j].LastMessageAt })
	return entries, nil
}

// countUnread is the authoritative unread count: messages in the
// conversation addressed to userID with is_read still false.
func (s *Store) countUnread(ctx context.Context, conversationID string, userID uint) (int, error) {
	_, count, err := s.queryPages(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:       aws.String("receiver_id = :me AND is_read = :unread"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skMsgPrefix},
			":me":     numAttr(int64(userID)),
			":unread": &types.AttributeValueMemberBOOL{Value: false},
		},
		Select: types.SelectCount,
	})
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return int(count), nil
}

// MarkRead flips is_read on every message in the conversation addressed to
// readerID and zeroes the reader's cached index counter. Idempotent: a
// second call finds nothing unread and succeeds.
func (s *Store) MarkRead(ctx context.Context, conversationID string, readerID uint) error {
	items, _, err := s.queryPages(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		FilterExpression:       aws.String("receiver_id = :me AND is_read = :unread"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skMsgPrefix},
			":me":     numAttr(int64(readerID)),
			":unread": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		return fmt.Errorf("chat: MarkRead query unread: %w", err)
	}

	for _, item := range items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return fmt.Errorf("chat: MarkRead: %w", err)
		}
		_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(s.table),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
				"SK": &types.AttributeValueMemberS{Value: sk},
			},
			UpdateExpression: aws.String("SET is_read = :read"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":read": &types.AttributeValueMemberBOOL{Value: true},
			},
		})
		if err != nil {
			return fmt.Errorf("chat: MarkRead update message: %w", err)
		}
	}

	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(readerID)},
			"SK": &types.AttributeValueMemberS{Value: skIdxPrefix + conversationID},
		},
		UpdateExpression: aws.String("SET unread = :zero"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": numAttr(0),
		},
	})
	if err != nil {
		return fmt.Errorf("chat: MarkRead reset index counter: %w", err)
	}
	return nil
}

// RebuildIndex is the repair path for the append saga: recompute both
// participants' index entries from the message log itself.
func (s *Store) RebuildIndex(ctx context.Context, conversationID string) error {
	_, lo, hi, ok := ParseConversationID(conversationID)
	if !ok {
		return fmt.Errorf("chat: RebuildIndex: malformed conversation id %q", conversationID)
	}
	msgs, err := s.FetchRange(ctx, conversationID, 0)
	if err != nil {
		return fmt.Errorf("chat: RebuildIndex: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]

	for _, pair := range [2][2]uint{{lo, hi}, {hi, lo}} {
		owner, other := pair[0], pair[1]
		unread := 0
		for _, m := range msgs {
			if m.ReceiverID == owner && !m.IsRead {
				unread++
			}
		}
		_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(s.table),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: userPK(owner)},
				"SK": &types.AttributeValueMemberS{Value: skIdxPrefix + conversationID},
			},
			UpdateExpression: aws.String("SET property_id = :pid, other_user_id = :other, last_message = :body, last_message_at = :at, unread = :unread"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pid":    numAttr(int64(last.PropertyID)),
				":other":  numAttr(int64(other)),
				":body":   &types.AttributeValueMemberS{Value: indexPreview(last)},
				":at":     numAttr(last.ID),
				":unread": numAttr(int64(unread)),
			},
		})
		if err != nil {
			return fmt.Errorf("chat: RebuildIndex update for user %d: %w", owner, err)
		}
	}
	return nil
}

func messageItem(msg Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
		"SK":              &types.AttributeValueMemberS{Value: msgSK(msg.ID)},
		"conversation_id": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"message_id":      numAttr(msg.ID),
		"property_id":     numAttr(int64(msg.PropertyID)),
		"sender_id":       numAttr(int64(msg.SenderID)),
		"receiver_id":     numAttr(int64(msg.ReceiverID)),
		"body":            &types.AttributeValueMemberS{Value: msg.Body},
		"message_type":    &types.AttributeValueMemberS{Value: msg.Type},
		"is_read":         &types.AttributeValueMemberBOOL{Value: msg.IsRead},
		"created_at":      &types.AttributeValueMemberS{Value: msg.CreatedAt},
	}
	if msg.AttachmentPath != "" {
		item["attachment_path"] = &types.AttributeValueMemberS{Value: msg.AttachmentPath}
	}
	return item
}

func itemToMessage(item map[string]types.AttributeValue) (Message, error) {
	convID, err := strAttr(item, "conversation_id")
	if err != nil {
		return Message{}, err
	}
	id, err := intAttr(item, "message_id")
	if err != nil {
		return Message{}, err
	}
	sender, err := intAttr(item, "sender_id")
	if err != nil {
		return Message{}, err
	}
	receiver, err := intAttr(item, "receiver_id")
	if err != nil {
		return Message{}, err
	}
	body, err := strAttr(item, "body")
	if err != nil {
		return Message{}, err
	}
	propertyID, _ := intAttr(item, "property_id") // derivable from conversation_id
	msgType, _ := strAttr(item, "message_type")
	createdAt, _ := strAttr(item, "created_at")
	attachment, _ := strAttr(item, "attachment_path") // absent on plain text

	return Message{
		ID:             id,
		ConversationID: convID,
		PropertyID:     uint(propertyID),
		SenderID:       uint(sender),
		ReceiverID:     uint(receiver),
		Body:           body,
		Type:           msgType,
		AttachmentPath: attachment,
		IsRead:         boolAttr(item, "is_read"),
		CreatedAt:      createdAt,
	}, nil
}

func itemToIndexEntry(item map[string]types.AttributeValue) (IndexEntry, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return IndexEntry{}, err
	}
	convID := sk[len(skIdxPrefix):]
	propertyID, err := intAttr(item, "property_id")
	if err != nil {
		return IndexEntry{}, err
	}
	other, err := intAttr(item, "other_user_id")
	if err != nil {
		return IndexEntry{}, err
	}
	lastAt, err := intAttr(item, "last_message_at")
	if err != nil {
		return IndexEntry{}, err
	}
	lastMsg, _ := strAttr(item, "last_message")

	return IndexEntry{
		ConversationID: convID,
		PropertyID:     uint(propertyID),
		OtherUserID:    uint(other),
		LastMessage:    lastMsg,
		LastMessageAt:  lastAt,
	}, nil
}

func numAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	if v, ok := item[key].(*types.AttributeValueMemberBOOL); ok {
		return v.Value
	}
	return false
}
