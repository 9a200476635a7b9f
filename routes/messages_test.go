package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/kataras/iris/v12"

	"propertyline-server/chat"
	"propertyline-server/services"
)

type appendCall struct {
	conversationID string
	senderID       uint
	receiverID     uint
	body           string
	msgType        string
	attachmentKey  string
}

type fakeStore struct {
	nextID    int64
	appends   []appendCall
	appendErr error

	msgs     []chat.Message
	fetchErr error

	entries []chat.IndexEntry
	listErr error

	markReads []string
	markErr   error
}

func (f *fakeStore) Append(_ context.Context, conversationID string, senderID, receiverID uint, body, msgType, attachmentKey string) (chat.Message, error) {
	if f.appendErr != nil {
		return chat.Message{}, f.appendErr
	}
	f.nextID++
	call := appendCall{conversationID, senderID, receiverID, body, msgType, attachmentKey}
	f.appends = append(f.appends, call)
	pid, _, _, _ := chat.ParseConversationID(conversationID)
	msg := chat.Message{
		ID:             f.nextID,
		ConversationID: conversationID,
		PropertyID:     pid,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		Type:           msgType,
		AttachmentPath: attachmentKey,
	}
	f.msgs = append(f.msgs, msg)
	return msg, nil
}

func (f *fakeStore) FetchRange(_ context.Context, conversationID string, sinceExclusive int64) ([]chat.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []chat.Message
	for _, m := range f.msgs {
		if m.ConversationID == conversationID && m.ID > sinceExclusive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) ListForParticipant(_ context.Context, _ uint) ([]chat.IndexEntry, error) {
	return f.entries, f.listErr
}

func (f *fakeStore) MarkRead(_ context.Context, conversationID string, _ uint) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.markReads = append(f.markReads, conversationID)
	return nil
}

type fakeDirectory struct {
	users      map[uint]services.Identity
	properties map[uint]services.PropertyInfo
}

func (f *fakeDirectory) ResolveUser(_ context.Context, userID uint) services.Identity {
	if identity, ok := f.users[userID]; ok {
		return identity
	}
	return services.Identity{Name: services.FallbackDisplayName}
}

func (f *fakeDirectory) ResolveProperty(_ context.Context, propertyID uint) (services.PropertyInfo, bool) {
	info, ok := f.properties[propertyID]
	return info, ok
}

type fakeAttachments struct {
	key       string
	msgType   string
	uploadErr error
	deleted   []string
}

func (f *fakeAttachments) Upload(_ context.Context, _ []byte, _, _ string) (string, string, error) {
	if f.uploadErr != nil {
		return "", "", f.uploadErr
	}
	return f.key, f.msgType, nil
}

func (f *fakeAttachments) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeNotifier struct {
	published []string
}

func (f *fakeNotifier) Publish(_ context.Context, conversationID string) {
	f.published = append(f.published, conversationID)
}

func (f *fakeNotifier) Subscribe(_ context.Context, _ string) (<-chan struct{}, func()) {
	return make(chan struct{}), func() {}
}

// mockSessionMiddleware stands in for utils.SessionAuthMiddleware.
func mockSessionMiddleware(userID uint) iris.Handler {
	return func(ctx iris.Context) {
		ctx.Values().Set("userID", userID)
		ctx.Values().Set("userRole", "tenant")
		ctx.Next()
	}
}

func buildTestApp(userID uint) *iris.Application {
	app := iris.New()
	app.Validator = validator.New()

	auth := mockSessionMiddleware(userID)
	messages := app.Party("/api/messages")
	{
		messages.Get("/stream", StreamMessages)
		messages.Get("/", auth, GetMessages)
		messages.Post("/", auth, CreateMessage)
		messages.Put("/", auth, MarkMessagesRead)
		messages.Post("/upload", auth, UploadMessageAttachment)
	}
	if err := app.Build(); err != nil {
		panic(err)
	}
	return app
}

func testDeps() (*fakeStore, *fakeDirectory, *fakeAttachments, *fakeNotifier) {
	store := &fakeStore{}
	dir := &fakeDirectory{
		users: map[uint]services.Identity{
			7: {Name: "Aisha Rahman", AvatarURL: "https://cdn.example.com/aisha.png"},
			3: {Name: "Omar Tan", AvatarURL: "https://cdn.example.com/omar.png"},
		},
		properties: map[uint]services.PropertyInfo{
			42: {Name: "Maple Court 12A", LandlordID: 3},
		},
	}
	atts := &fakeAttachments{key: "messages/abc123.jpg", msgType: chat.TypeImage}
	notify := &fakeNotifier{}
	InitMessaging(store, dir, atts, notify)
	return store, dir, atts, notify
}

func doJSON(t *testing.T, app *iris.Application, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	app.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", resp.Body.String(), err)
	}
	return body
}

func TestCreateMessageValidatesRequiredFields(t *testing.T) {
	testDeps()
	app := buildTestApp(7)

	resp := doJSON(t, app, http.MethodPost, "/api/messages", map[string]any{
		"property_id": 42,
		"receiver_id": 3,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing message, got %d", resp.Code)
	}
}

func TestCreateMessageDerivesConversationAndAppends(t *testing.T) {
	store, _, _, notify := testDeps()
	app := buildTestApp(7)

	resp := doJSON(t, app, http.MethodPost, "/api/messages", map[string]any{
		"property_id": 42,
		"receiver_id": 3,
		"message":     "leak in bathroom",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	body := decodeBody(t, resp)
	if body["success"] != true {
		t.Fatalf("expected success, got %v", body)
	}
	// message_id is a decimal string on the wire, never a JSON number.
	if body["message_id"] != "1" {
		t.Fatalf("expected message_id %q, got %v", "1", body["message_id"])
	}

	if len(store.appends) != 1 {
		t.Fatalf("expected one append, got %d", len(store.appends))
	}
	call := store.appends[0]
	if call.conversationID != "property_42_3_7" {
		t.Fatalf("wrong conversation id %q", call.conversationID)
	}
	if call.senderID != 7 || call.receiverID != 3 {
		t.Fatalf("wrong participants: sender %d receiver %d", call.senderID, call.receiverID)
	}
	if len(notify.published) != 1 || notify.published[0] != "property_42_3_7" {
		t.Fatalf("expected a wake publish for the conversation, got %v", notify.published)
	}
}

func TestCreateMessageStoreFailureIs500(t *testing.T) {
	store, _, _, _ := testDeps()
	store.appendErr = errors.New("ServiceUnavailable")
	app := buildTestApp(7)

	resp := doJSON(t, app, http.MethodPost, "/api/messages", map[string]any{
		"property_id": 42,
		"receiver_id": 3,
		"message":     "hello",
	})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	body := decodeBody(t, resp)
	if body["success"] != false {
		t.Fatalf("expected success:false, got %v", body)
	}
}

func TestGetMessagesListsConversations(t *testing.T) {
	store, _, _, _ := testDeps()
	store.entries = []chat.IndexEntry{
		{
			ConversationID: "property_42_3_7",
			PropertyID:     42,
			OtherUserID:    7,
			LastMessage:    "leak in bathroom",
			LastMessageAt:  101,
			Unread:         2,
		},
	}
	app := buildTestApp(3)

	resp := doJSON(t, app, http.MethodGet, "/api/messages", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := decodeBody(t, resp)
	conversations, ok := body["conversations"].([]any)
	if !ok || len(conversations) != 1 {
		t.Fatalf("expected one conversation, got %v", body)
	}
	conv := conversations[0].(map[string]any)
	if conv["other_user_name"] != "Aisha Rahman" {
		t.Fatalf("other user not resolved: %v", conv)
	}
	if conv["property_name"] != "Maple Court 12A" {
		t.Fatalf("property not resolved: %v", conv)
	}
	if conv["unread_count"] != float64(2) {
		t.Fatalf("unread count not carried: %v", conv)
	}
}

// The end-to-end shape: tenant 7 sends on property 42, landlord 3 fetches
// with only property_id and receiver defaulting rules, sender display info
// resolved from the tenant profile.
func TestGetMessagesThreadResolvesSenderAndMarksRead(t *testing.T) {
	store, _, _, _ := testDeps()
	app := buildTestApp(7)

	resp := doJSON(t, app, http.MethodPost, "/api/messages", map[string]any{
		"property_id": 42,
		"receiver_id": 3,
		"message":     "leak in bathroom",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("send failed: %d", resp.Code)
	}

	// Tenant's GET resolves the landlord from the property row.
	resp = doJSON(t, app, http.MethodGet, "/api/messages?property_id=42", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := decodeBody(t, resp)
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected one message, got %v", body)
	}
	msg := msgs[0].(map[string]any)
	if msg["sender_name"] != "Aisha Rahman" {
		t.Fatalf("sender not resolved: %v", msg)
	}
	if msg["receiver_name"] != "Omar Tan" {
		t.Fatalf("receiver not resolved: %v", msg)
	}
	if msg["message"] != "leak in bathroom" {
		t.Fatalf("body lost: %v", msg)
	}
	if id, ok := msg["message_id"].(string); !ok || id == "" {
		t.Fatalf("message_id not a string: %v", msg["message_id"])
	}
	// attachment_path stays in the payload even for plain text.
	if _, ok := msg["attachment_path"]; !ok {
		t.Fatalf("attachment_path missing from message payload: %v", msg)
	}

	if len(store.markReads) != 1 || store.markReads[0] != "property_42_3_7" {
		t.Fatalf("expected implicit mark-read, got %v", store.markReads)
	}
}

func TestGetMessagesUnknownPropertyIsEmptyNot404(t *testing.T) {
	testDeps()
	app := buildTestApp(7)

	resp := doJSON(t, app, http.MethodGet, "/api/messages?property_id=9999", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := decodeBody(t, resp)
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 0 {
		t.Fatalf("expected empty messages, got %v", body)
	}
}

func TestMarkMessagesRead(t *testing.T) {
	store, _, _, _ := testDeps()
	app := buildTestApp(7)

	resp := doJSON(t, app, http.MethodPut, "/api/messages", map[string]any{
		"property_id": 42,
		"receiver_id": 3,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if len(store.markReads) != 1 || store.markReads[0] != "property_42_3_7" {
		t.Fatalf("expected mark-read on property_42_3_7, got %v", store.markReads)
	}

	// Second call is idempotent at the API level too.
	resp = doJSON(t, app, http.MethodPut, "/api/messages", map[string]any{
		"property_id": 42,
		"receiver_id": 3,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", resp.Code)
	}
}

func TestMarkMessagesReadValidates(t *testing.T) {
	testDeps()
	app := buildTestApp(7)

	resp := doJSON(t, app, http.MethodPut, "/api/messages", map[string]any{"property_id": 42})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
