package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docchat/internal/assistant"
	"docchat/internal/chat"
)

// ChatPort is the TUI-facing subset of the assistant, bound to one user.
type ChatPort interface {
	Ask(question string) (*assistant.Reply, error)
	Load(path string) (*assistant.UploadResult, error)
	NewChat() error
	Status() assistant.Status
	History() []chat.Message
}

type turn struct {
	question string
	answer   string
	fromDoc  bool
	document string
	failed   bool
}

type replyMsg struct {
	question string
	reply    *assistant.Reply
	err      error
}

type loadMsg struct {
	path   string
	result *assistant.UploadResult
	err    error
}

// Model is the Bubble Tea model for the chat client.
type Model struct {
	port     ChatPort
	input    textinput.Model
	viewport viewport.Model
	turns    []turn
	status   string
	busy     bool
	ready    bool
}

// New creates a model showing the current conversation of port.
func New(port ChatPort) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, /load <file>, /new"
	ti.Focus()
	ti.CharLimit = 0

	m := Model{port: port, input: ti, viewport: viewport.New(0, 0)}
	for _, msg := range port.History() {
		m.turns = append(m.turns, turn{question: msg.Message, answer: msg.Response, fromDoc: msg.HasDocument})
	}
	m.status = m.documentStatus()
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and background-result events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, status, input box, input line
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil

	case replyMsg:
		m.busy = false
		t := turn{question: msg.question}
		if msg.err != nil {
			t.answer = "Error: " + msg.err.Error()
			t.failed = true
		} else {
			t.answer = msg.reply.Response
			t.fromDoc = msg.reply.HasDocument
			t.document = msg.reply.CurrentFile
		}
		m.turns = append(m.turns, t)
		m.status = m.documentStatus()
		m.refresh()
		return m, nil

	case loadMsg:
		m.busy = false
		if msg.err != nil {
			m.status = fmt.Sprintf("Failed to load %s: %v", msg.path, msg.err)
		} else {
			m.status = fmt.Sprintf("Loaded %s (%d pages, %d chunks). Ask away.", msg.result.Filename, msg.result.Pages, msg.result.Chunks)
		}
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.Type {
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			return m.submit(strings.TrimSpace(m.input.Value()))
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	if line == "" {
		return m, nil
	}
	m.input.SetValue("")

	switch {
	case line == "/new":
		if err := m.port.NewChat(); err != nil {
			m.status = "Error: " + err.Error()
			return m, nil
		}
		m.turns = nil
		m.status = "New chat started."
		m.refresh()
		return m, nil

	case strings.HasPrefix(line, "/load"):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/load"))
		if path == "" {
			m.status = "Usage: /load <file.pdf|file.docx>"
			return m, nil
		}
		m.busy = true
		m.status = "Indexing " + path + "..."
		port := m.port
		return m, func() tea.Msg {
			res, err := port.Load(path)
			return loadMsg{path: path, result: res, err: err}
		}
	}

	m.busy = true
	m.status = "Thinking..."
	port := m.port
	return m, func() tea.Msg {
		reply, err := port.Ask(line)
		return replyMsg{question: line, reply: reply, err: err}
	}
}

// View renders the header, transcript, input and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("docchat")
	transcript := transcriptStyle.Render(m.viewport.View())
	input := inputStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + transcript + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.turns) == 0 {
		return "No messages yet."
	}
	width := max(10, m.viewport.Width-4)
	wrap := lipgloss.NewStyle().Width(width)

	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(userStyle.Render("You: "))
		b.WriteString(wrap.Render(t.question))
		b.WriteString("\n")

		label := "Assistant: "
		if t.fromDoc {
			doc := t.document
			if doc == "" {
				doc = "document"
			}
			label = "Assistant [" + doc + "]: "
		}
		style := assistantStyle
		if t.failed {
			style = errorStyle
		}
		b.WriteString(style.Render(label))
		b.WriteString(wrap.Render(t.answer))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) documentStatus() string {
	st := m.port.Status()
	if st.HasDocument {
		return "Document: " + st.CurrentFile
	}
	return "No document loaded. General chat."
}

var (
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
