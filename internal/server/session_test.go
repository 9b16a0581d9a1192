package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const socketReadTimeout = 2 * time.Second

func dialSocket(t *testing.T, server *httptest.Server, documentID string) *websocket.Conn {
	t.Helper()
	socketURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/documents/" + documentID
	conn, _, err := websocket.DefaultDialer.Dial(socketURL, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", socketURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(socketReadTimeout)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("failed to decode frame %s: %v", data, err)
	}
	return frame
}

func frameKind(t *testing.T, frame map[string]json.RawMessage) string {
	t.Helper()
	var kind string
	if err := json.Unmarshal(frame["type"], &kind); err != nil {
		t.Fatalf("frame missing type: %v", err)
	}
	return kind
}

// expectNoFrame asserts the connection stays silent. The expired read deadline
// poisons the connection, so this must be the last operation on it.
func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no frame, received %s", data)
	}
}

func sendMessage(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("failed to write message: %v", err)
	}
}

func TestSocketPushesDocumentStateOnJoin(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()
	record := env.createDocument(t, "Lease", "# Lease")

	conn := dialSocket(t, server, record.Document.ID)

	frame := readFrame(t, conn)
	if kind := frameKind(t, frame); kind != "document_state" {
		t.Fatalf("expected document_state frame, got %q", kind)
	}
	var payload documentPayload
	if err := json.Unmarshal(frame["document"], &payload); err != nil {
		t.Fatalf("failed to decode document payload: %v", err)
	}
	if payload.ID != record.Document.ID {
		t.Fatalf("unexpected document id %q", payload.ID)
	}
	if len(payload.Versions) != 1 || payload.Versions[0].Content != "# Lease" {
		t.Fatalf("unexpected versions %#v", payload.Versions)
	}
}

func TestSocketUndefinedDocumentSkipsStatePush(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	conn := dialSocket(t, server, "undefined")

	// First frame after share must be the confirmation, not document state.
	sendMessage(t, conn, `{"type":"share_document","title":"Shared","content":"# Shared"}`)
	frame := readFrame(t, conn)
	if kind := frameKind(t, frame); kind != "share_success" {
		t.Fatalf("expected share_success frame, got %q", kind)
	}

	var documentID string
	if err := json.Unmarshal(frame["document_id"], &documentID); err != nil {
		t.Fatalf("failed to decode document id: %v", err)
	}
	record, err := env.documents.GetByID(context.Background(), documentID)
	if err != nil {
		t.Fatalf("expected shared document to persist: %v", err)
	}
	if len(record.Versions) != 1 || record.Versions[0].VersionNumber != 0 {
		t.Fatalf("expected single version 0, got %#v", record.Versions)
	}
}

func TestShareSuccessGoesToSenderOnly(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	sender := dialSocket(t, server, "undefined")
	observer := dialSocket(t, server, "undefined")

	sendMessage(t, sender, `{"type":"share_document","title":"Shared","content":"# Shared"}`)
	frame := readFrame(t, sender)
	if kind := frameKind(t, frame); kind != "share_success" {
		t.Fatalf("expected share_success frame, got %q", kind)
	}

	expectNoFrame(t, observer)
}

func TestUpdateDocumentBroadcastExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()
	record := env.createDocument(t, "Lease", "v0")

	editor := dialSocket(t, server, record.Document.ID)
	observer := dialSocket(t, server, record.Document.ID)
	readFrame(t, editor)   // document_state
	readFrame(t, observer) // document_state

	sendMessage(t, editor, `{"type":"update_document","content":"v1","user":"alice"}`)

	frame := readFrame(t, observer)
	if kind := frameKind(t, frame); kind != "document_update" {
		t.Fatalf("expected document_update frame, got %q", kind)
	}
	var content string
	if err := json.Unmarshal(frame["content"], &content); err != nil {
		t.Fatalf("failed to decode content: %v", err)
	}
	if content != "v1" {
		t.Fatalf("unexpected content %q", content)
	}

	updated, err := env.documents.GetByID(context.Background(), record.Document.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if len(updated.Versions) != 2 || updated.Versions[1].Content != "v1" {
		t.Fatalf("expected appended version, got %#v", updated.Versions)
	}

	expectNoFrame(t, editor)
}

func TestCommentBroadcastIncludesSender(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()
	record := env.createDocument(t, "Lease", "v0")

	author := dialSocket(t, server, record.Document.ID)
	observer := dialSocket(t, server, record.Document.ID)
	readFrame(t, author)
	readFrame(t, observer)

	sendMessage(t, author, `{"type":"comment","user":"alice","content":"needs review","position":{"line":3}}`)

	for _, conn := range []*websocket.Conn{author, observer} {
		frame := readFrame(t, conn)
		if kind := frameKind(t, frame); kind != "comment" {
			t.Fatalf("expected comment frame, got %q", kind)
		}
		var payload commentPayload
		if err := json.Unmarshal(frame["comment"], &payload); err != nil {
			t.Fatalf("failed to decode comment payload: %v", err)
		}
		if payload.User != "alice" || payload.Content != "needs review" {
			t.Fatalf("unexpected comment payload %#v", payload)
		}
		if payload.ID == "" {
			t.Fatalf("expected persisted comment id")
		}
	}

	persisted, err := env.comments.List(context.Background(), record.Document.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(persisted) != 1 {
		t.Fatalf("expected one persisted comment, got %d", len(persisted))
	}
}

func TestSuggestionIsRelayedNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()
	record := env.createDocument(t, "Lease", "v0")

	conn := dialSocket(t, server, record.Document.ID)
	readFrame(t, conn)

	sendMessage(t, conn, `{"type":"suggestion","user":"alice","content":"tighten clause 4"}`)

	frame := readFrame(t, conn)
	if kind := frameKind(t, frame); kind != "suggestion" {
		t.Fatalf("expected suggestion frame, got %q", kind)
	}
	var payload suggestionPayload
	if err := json.Unmarshal(frame["suggestion"], &payload); err != nil {
		t.Fatalf("failed to decode suggestion payload: %v", err)
	}
	if payload.User != "alice" || payload.Content != "tighten clause 4" {
		t.Fatalf("unexpected suggestion payload %#v", payload)
	}
	if string(payload.Position) != "{}" {
		t.Fatalf("expected empty position object, got %s", payload.Position)
	}

	persisted, err := env.comments.List(context.Background(), record.Document.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(persisted) != 0 {
		t.Fatalf("suggestions must not persist, found %d comments", len(persisted))
	}

	versions, err := env.documents.GetByID(context.Background(), record.Document.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if len(versions.Versions) != 1 {
		t.Fatalf("suggestions must not append versions, found %d", len(versions.Versions))
	}
}

func TestMalformedJSONKeepsSessionOpen(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()
	record := env.createDocument(t, "Lease", "v0")

	conn := dialSocket(t, server, record.Document.ID)
	readFrame(t, conn)

	sendMessage(t, conn, `{not json`)

	frame := readFrame(t, conn)
	if kind := frameKind(t, frame); kind != "error" {
		t.Fatalf("expected error frame, got %q", kind)
	}
	var errorMessage string
	if err := json.Unmarshal(frame["message"], &errorMessage); err != nil {
		t.Fatalf("failed to decode error message: %v", err)
	}
	if errorMessage != invalidJSONMessage {
		t.Fatalf("unexpected error message %q", errorMessage)
	}

	// The session survives the bad payload.
	sendMessage(t, conn, `{"type":"comment","user":"alice","content":"still here"}`)
	frame = readFrame(t, conn)
	if kind := frameKind(t, frame); kind != "comment" {
		t.Fatalf("expected comment frame after error, got %q", kind)
	}
}

func TestUnknownParentCommentReportsErrorFrame(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()
	record := env.createDocument(t, "Lease", "v0")

	conn := dialSocket(t, server, record.Document.ID)
	readFrame(t, conn)

	sendMessage(t, conn, `{"type":"comment","user":"alice","content":"reply","parent_comment_id":"missing"}`)

	frame := readFrame(t, conn)
	if kind := frameKind(t, frame); kind != "error" {
		t.Fatalf("expected error frame, got %q", kind)
	}

	persisted, err := env.comments.List(context.Background(), record.Document.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(persisted) != 0 {
		t.Fatalf("expected no persisted comment, got %d", len(persisted))
	}
}

func TestUnknownMessageKindIsDropped(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.handler)
	defer server.Close()
	record := env.createDocument(t, "Lease", "v0")

	conn := dialSocket(t, server, record.Document.ID)
	readFrame(t, conn)

	sendMessage(t, conn, `{"type":"ping"}`)
	expectNoFrame(t, conn)
}
