package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"docchat/internal/assistant"
	"docchat/internal/chat"
)

type fakePort struct {
	file     string
	asked    []string
	loadErr  error
	newChats int
}

func (p *fakePort) Ask(q string) (*assistant.Reply, error) {
	p.asked = append(p.asked, q)
	return &assistant.Reply{Response: "answer to " + q, HasDocument: p.file != "", CurrentFile: p.file}, nil
}

func (p *fakePort) Load(path string) (*assistant.UploadResult, error) {
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	p.file = path
	return &assistant.UploadResult{Filename: path, Pages: 2, Chunks: 3}, nil
}

func (p *fakePort) NewChat() error {
	p.newChats++
	p.file = ""
	return nil
}

func (p *fakePort) Status() assistant.Status {
	return assistant.Status{HasDocument: p.file != "", CurrentFile: p.file}
}

func (p *fakePort) History() []chat.Message {
	return []chat.Message{{Message: "earlier", Response: "before"}}
}

func sized(t *testing.T, port ChatPort) Model {
	t.Helper()
	next, _ := New(port).Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return next.(Model)
}

// enter types line and presses Enter, running any returned command.
func enter(t *testing.T, m Model, line string) Model {
	t.Helper()
	m.input.SetValue(line)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if cmd != nil {
		if msg := cmd(); msg != nil {
			next, _ = m.Update(msg)
			m = next.(Model)
		}
	}
	return m
}

func TestNewShowsHistory(t *testing.T) {
	m := sized(t, &fakePort{})
	out := m.renderTranscript()
	if !strings.Contains(out, "earlier") || !strings.Contains(out, "before") {
		t.Errorf("history not rendered: %q", out)
	}
	if !strings.Contains(m.status, "No document") {
		t.Errorf("status = %q", m.status)
	}
}

func TestAskQuestion(t *testing.T) {
	port := &fakePort{}
	m := enter(t, sized(t, port), "what is this?")

	if len(port.asked) != 1 || port.asked[0] != "what is this?" {
		t.Fatalf("asked = %v", port.asked)
	}
	if m.busy {
		t.Error("still busy after reply")
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}
	if !strings.Contains(m.renderTranscript(), "answer to what is this?") {
		t.Errorf("reply missing from transcript")
	}
}

func TestLoadThenAsk(t *testing.T) {
	port := &fakePort{}
	m := enter(t, sized(t, port), "/load manual.pdf")
	if !strings.Contains(m.status, "Loaded manual.pdf") {
		t.Errorf("status = %q", m.status)
	}

	m = enter(t, m, "how?")
	if !strings.Contains(m.renderTranscript(), "Assistant [manual.pdf]") {
		t.Errorf("document answer not labelled: %q", m.renderTranscript())
	}
	if m.status != "Document: manual.pdf" {
		t.Errorf("status = %q", m.status)
	}
}

func TestLoadErrors(t *testing.T) {
	port := &fakePort{loadErr: errors.New("bad pdf")}
	m := enter(t, sized(t, port), "/load")
	if !strings.HasPrefix(m.status, "Usage") {
		t.Errorf("status = %q", m.status)
	}
	m = enter(t, m, "/load x.pdf")
	if !strings.Contains(m.status, "bad pdf") {
		t.Errorf("status = %q", m.status)
	}
}

func TestNewChatClears(t *testing.T) {
	port := &fakePort{file: "a.pdf"}
	m := enter(t, sized(t, port), "/new")
	if port.newChats != 1 {
		t.Errorf("NewChat calls = %d", port.newChats)
	}
	if len(m.turns) != 0 {
		t.Errorf("turns = %d after /new", len(m.turns))
	}
}

func TestEmptyEnterIgnored(t *testing.T) {
	port := &fakePort{}
	m := enter(t, sized(t, port), "   ")
	if len(port.asked) != 0 || m.busy {
		t.Error("blank line submitted")
	}
}
