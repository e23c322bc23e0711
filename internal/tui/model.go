package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragqa/internal/domain"
)

// Asker is the TUI-facing subset of the answering pipeline.
type Asker interface {
	Answer(ctx context.Context, question string) domain.AskResponse
}

// answerMsg carries a finished pipeline response back into Update.
type answerMsg struct {
	resp domain.AskResponse
}

// Model is the Bubble Tea model for the interactive chat application.
type Model struct {
	asker    Asker
	input    textinput.Model
	viewport viewport.Model
	resp     *domain.AskResponse
	status   string
	cursor   int
	ready    bool
	waiting  bool
}

// New creates a new chat model instance.
func New(asker Asker) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{asker: asker, input: ti, viewport: vp, status: "Index loaded. Ask away."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around answer and question boxes
		_, ah := answerBoxStyle.GetFrameSize()
		_, qh := questionBoxStyle.GetFrameSize()
		totalHeaderLines := 1
		totalFooterLines := 1
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-ah)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case answerMsg:
		m.waiting = false
		m.resp = &msg.resp
		m.cursor = 0
		if msg.resp.OK {
			m.status = fmt.Sprintf("Answered in %dms, cost $%.6f", msg.resp.LatencyMS, msg.resp.CostUSD)
		} else {
			m.status = fmt.Sprintf("No grounded answer (%dms)", msg.resp.LatencyMS)
		}
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.waiting {
				m.waiting = true
				m.status = "Thinking..."
				m.input.SetValue("")
				return m, ask(m.asker, q)
			}
		case "down":
			if m.resp != nil && len(m.resp.Sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.resp.Sources)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "up":
			if m.resp != nil && len(m.resp.Sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.resp.Sources)) % len(m.resp.Sources)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask runs the pipeline off the UI loop so typing stays responsive.
func ask(asker Asker, question string) tea.Cmd {
	return func() tea.Msg {
		return answerMsg{resp: asker.Answer(context.Background(), question)}
	}
}

// View renders the chat layout and current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Document Q&A")
	input := questionBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	answer := answerBoxStyle.Render(m.viewport.View())
	return header + "\n" + answer + "\n" + input + "\n" + status
}

func (m Model) renderAnswer() string {
	if m.resp == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(m.resp.Answer)
	if len(m.resp.Sources) == 0 {
		return b.String()
	}
	b.WriteString("\n\n")
	b.WriteString(sourceTitleStyle.Render(fmt.Sprintf("Source %d/%d", m.cursor+1, len(m.resp.Sources))))
	b.WriteString("\n")
	s := m.resp.Sources[m.cursor]
	loc := fmt.Sprintf("%s #%d", s.DocID, s.ChunkID)
	if s.Page != nil {
		loc += fmt.Sprintf(" (page %d)", *s.Page)
	}
	b.WriteString(sourceLocStyle.Render(loc))
	b.WriteString("\n")
	b.WriteString(s.Snippet)
	return b.String()
}

var (
	answerBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	sourceTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceLocStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
