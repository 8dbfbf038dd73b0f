package chat

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	s, err := NewHistoryStore(filepath.Join(t.TempDir(), "chat_histories.json"))
	if err != nil {
		t.Fatalf("NewHistoryStore: %v", err)
	}
	clock := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("conv-%d", n)
	}
	return s
}

func TestGenerateTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  hello  ", "hello"},
		{strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{strings.Repeat("b", 31), strings.Repeat("b", 30) + "..."},
		{strings.Repeat("é", 40), strings.Repeat("é", 30) + "..."},
	}
	for _, tt := range tests {
		if got := GenerateTitle(tt.in); got != tt.want {
			t.Errorf("GenerateTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreateConversation(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateConversation("u1")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if got := s.CurrentConversation("u1"); got != id {
		t.Errorf("CurrentConversation = %q, want %q", got, id)
	}
	c, err := s.Conversation("u1", id)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if c.Title != "New Chat" {
		t.Errorf("Title = %q, want %q", c.Title, "New Chat")
	}
	if len(c.Messages) != 0 || c.DocumentFile != "" {
		t.Errorf("new conversation not empty: %+v", c)
	}
}

func TestEnsureConversation(t *testing.T) {
	s := newTestStore(t)

	if got := s.CurrentConversation("u1"); got != "" {
		t.Errorf("CurrentConversation for new user = %q, want empty", got)
	}
	a, err := s.EnsureConversation("u1")
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	b, _ := s.EnsureConversation("u1")
	if a != b {
		t.Errorf("EnsureConversation created twice: %q then %q", a, b)
	}
}

func TestAddMessage(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddMessage("u1", "  What is in the report?  ", "A summary.", false, "")
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := s.AddMessage("u1", "Second question", "Second answer", true, "report.pdf"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	c, _ := s.Conversation("u1", id)
	if c.Title != "What is in the report?" {
		t.Errorf("Title = %q, want first message", c.Title)
	}
	if c.DocumentFile != "report.pdf" {
		t.Errorf("DocumentFile = %q, want report.pdf", c.DocumentFile)
	}
	msgs := s.Messages("u1", "")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Timestamp != "09:31" {
		t.Errorf("Timestamp = %q, want 09:31", msgs[0].Timestamp)
	}
	if msgs[0].HasDocument || !msgs[1].HasDocument {
		t.Errorf("HasDocument flags = %v, %v", msgs[0].HasDocument, msgs[1].HasDocument)
	}
}

func TestAddMessageWithoutDocumentKeepsFile(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateConversation("u1")
	s.SetDocument("u1", id, "notes.docx")

	s.AddMessage("u1", "hi", "hello", false, "")

	c, _ := s.Conversation("u1", id)
	if c.DocumentFile != "notes.docx" {
		t.Errorf("DocumentFile = %q, want notes.docx", c.DocumentFile)
	}
}

func TestMessagesUnknown(t *testing.T) {
	s := newTestStore(t)
	if got := s.Messages("nobody", ""); got == nil || len(got) != 0 {
		t.Errorf("Messages for unknown user = %v, want empty slice", got)
	}
	s.CreateConversation("u1")
	if got := s.Messages("u1", "missing"); len(got) != 0 {
		t.Errorf("Messages for unknown conversation = %v, want empty", got)
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	first, _ := s.CreateConversation("u1")
	s.AddMessage("u1", "one", "1", false, "")
	second, _ := s.CreateConversation("u1")
	third, _ := s.CreateConversation("u1")
	s.SetDocument("u1", third, "x.pdf")

	list := s.ListConversations("u1")
	if len(list) != 3 {
		t.Fatalf("got %d conversations, want 3", len(list))
	}
	wantOrder := []string{third, second, first}
	for i, id := range wantOrder {
		if list[i].ID != id {
			t.Errorf("list[%d].ID = %q, want %q", i, list[i].ID, id)
		}
	}
	if list[2].MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", list[2].MessageCount)
	}
	if list[0].DocumentFile != "x.pdf" {
		t.Errorf("DocumentFile = %q, want x.pdf", list[0].DocumentFile)
	}
	if got := s.ListConversations("other"); len(got) != 0 {
		t.Errorf("other user sees %d conversations", len(got))
	}
}

func TestSwitch(t *testing.T) {
	s := newTestStore(t)
	first, _ := s.CreateConversation("u1")
	s.AddMessage("u1", "hello", "hi", true, "a.pdf")
	s.CreateConversation("u1")

	c, err := s.Switch("u1", first)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if c.DocumentFile != "a.pdf" || len(c.Messages) != 1 {
		t.Errorf("Switch returned %+v", c)
	}
	if got := s.CurrentConversation("u1"); got != first {
		t.Errorf("CurrentConversation = %q, want %q", got, first)
	}

	if _, err := s.Switch("u1", "missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Switch(missing) err = %v, want ErrConversationNotFound", err)
	}
	if _, err := s.Switch("u2", first); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Switch by other user err = %v, want ErrConversationNotFound", err)
	}
}

func TestDeleteCurrentCreatesNew(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateConversation("u1")

	wasCurrent, err := s.Delete("u1", id)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !wasCurrent {
		t.Error("wasCurrent = false, want true")
	}
	cur := s.CurrentConversation("u1")
	if cur == "" || cur == id {
		t.Errorf("CurrentConversation after delete = %q", cur)
	}
	if _, err := s.Conversation("u1", id); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("deleted conversation still present: %v", err)
	}
}

func TestDeleteOther(t *testing.T) {
	s := newTestStore(t)
	old, _ := s.CreateConversation("u1")
	cur, _ := s.CreateConversation("u1")

	wasCurrent, err := s.Delete("u1", old)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if wasCurrent {
		t.Error("wasCurrent = true, want false")
	}
	if got := s.CurrentConversation("u1"); got != cur {
		t.Errorf("CurrentConversation = %q, want %q", got, cur)
	}
	if _, err := s.Delete("u1", old); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("second Delete err = %v, want ErrConversationNotFound", err)
	}
}

func TestSetDocumentMissing(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetDocument("u1", "nope", "a.pdf"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("SetDocument err = %v, want ErrConversationNotFound", err)
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "chat_histories.json")
	s, err := NewHistoryStore(path)
	if err != nil {
		t.Fatalf("NewHistoryStore: %v", err)
	}
	id, _ := s.AddMessage("u1", "persist me", "ok", true, "doc.pdf")

	reloaded, err := NewHistoryStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.CurrentConversation("u1"); got != id {
		t.Errorf("CurrentConversation after reload = %q, want %q", got, id)
	}
	msgs := reloaded.Messages("u1", id)
	if len(msgs) != 1 || msgs[0].Response != "ok" {
		t.Errorf("Messages after reload = %+v", msgs)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestCorruptFileLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_histories.json")
	os.WriteFile(path, []byte("{not json"), 0644)

	s, err := NewHistoryStore(path)
	if err != nil {
		t.Fatalf("NewHistoryStore: %v", err)
	}
	if got := s.ListConversations("u1"); len(got) != 0 {
		t.Errorf("corrupt file produced %d conversations", len(got))
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("corrupt copy not kept: %v", err)
	}
}

func TestLoadsPythonIsoformatHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_histories.json")
	data := `{
  "user_sessions": {
    "u1": {
      "conversations": {
        "old": {
          "title": "First question",
          "created_at": "2025-03-01T10:15:30.123456",
          "messages": [
            {"timestamp": "10:15", "message": "First question", "response": "First answer", "has_document": false}
          ],
          "document_file": null
        },
        "new": {
          "title": "Second",
          "created_at": "2025-03-02T08:00:00",
          "messages": [],
          "document_file": "report.pdf"
        }
      },
      "current_conversation": "old"
    }
  }
}`
	os.WriteFile(path, []byte(data), 0644)

	s, err := NewHistoryStore(path)
	if err != nil {
		t.Fatalf("NewHistoryStore: %v", err)
	}
	if _, err := os.Stat(path + ".corrupt"); !os.IsNotExist(err) {
		t.Errorf("history file was treated as corrupt: %v", err)
	}
	msgs := s.Messages("u1", "")
	if len(msgs) != 1 || msgs[0].Response != "First answer" {
		t.Fatalf("Messages = %+v, want the stored turn", msgs)
	}

	list := s.ListConversations("u1")
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		t.Fatalf("ListConversations = %+v, want new before old", list)
	}
	if list[1].DocumentFile != "" {
		t.Errorf("null document_file = %q, want empty", list[1].DocumentFile)
	}
	want := time.Date(2025, 3, 1, 10, 15, 30, 123456000, time.Local)
	if !list[1].CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", list[1].CreatedAt.Time, want)
	}
}

func TestTimestampRoundTripsAsRFC3339(t *testing.T) {
	in := Timestamp{time.Date(2024, 5, 1, 9, 31, 0, 0, time.UTC)}
	data, err := in.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(data) != `"2024-05-01T09:31:00Z"` {
		t.Errorf("MarshalJSON = %s", data)
	}
	var out Timestamp
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if !out.Equal(in.Time) {
		t.Errorf("round trip = %v, want %v", out.Time, in.Time)
	}
	if err := out.UnmarshalJSON([]byte(`"yesterday"`)); err == nil {
		t.Error("expected an error for an unrecognized time")
	}
}

func TestReturnedMessagesAreCopies(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AddMessage("u1", "q", "a", false, "")

	msgs := s.Messages("u1", id)
	msgs[0].Response = "changed"

	if got := s.Messages("u1", id)[0].Response; got != "a" {
		t.Errorf("store mutated through returned slice: %q", got)
	}
}
