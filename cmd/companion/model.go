package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	orchestration "github.com/JSluo888/MedJourney-sub000/core"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
)

const (
	connectTimeout = 15 * time.Second
	sendTimeout    = 5 * time.Second
	imageCommand   = "/image "
	meterWidth     = 12
)

// conversation is the part of the orchestrator the UI drives.
type conversation interface {
	Initialize(ctx context.Context, userID string) error
	SendTextMessage(ctx context.Context, text string) error
	SendImage(ctx context.Context, fileName string, data []byte) error
	StartRecording()
	StopRecording()
	Interrupt()
}

type (
	messageMsg   orchestration.ConversationMessage
	statusMsg    orchestration.TurnState
	levelMsg     float64
	connectedMsg struct{ err error }
	noticeMsg    struct {
		text    string
		isError bool
	}
)

type model struct {
	conversation conversation
	userID       string

	keys     keyMap
	help     help.Model
	input    textinput.Model
	viewport viewport.Model

	history   []orchestration.ConversationMessage
	status    orchestration.TurnState
	level     float64
	connected bool
	notice    noticeMsg
	width     int
	ready     bool
}

func newModel(conversation conversation, userID string) model {
	input := textinput.New()
	input.Placeholder = "Type a message, or /image <path>"
	input.Prompt = "> "
	input.CharLimit = 2000
	input.Focus()

	vp := viewport.New(80, 20)
	vp.KeyMap = viewport.KeyMap{
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
	}

	return model{
		conversation: conversation,
		userID:       userID,
		keys:         defaultKeyMap(),
		help:         help.New(),
		input:        input,
		viewport:     vp,
		status:       orchestration.StateIdle,
		width:        80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.connect())
}

func (m model) connect() tea.Cmd {
	conversation, userID := m.conversation, m.userID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return connectedMsg{err: conversation.Initialize(ctx, userID)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 10)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-lipgloss.Height(m.headerView())-lipgloss.Height(m.footerView()), 3)
		m.ready = true
		m.refresh()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Record):
			return m, m.toggleRecording()
		case key.Matches(msg, m.keys.Interrupt):
			conversation := m.conversation
			return m, func() tea.Msg {
				conversation.Interrupt()
				return nil
			}
		case key.Matches(msg, m.keys.Send):
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			return m, m.submit(text)
		case key.Matches(msg, m.keys.PageUp, m.keys.PageDown):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case messageMsg:
		m.history = append(m.history, orchestration.ConversationMessage(msg))
		m.refresh()
		return m, nil

	case statusMsg:
		m.status = orchestration.TurnState(msg)
		if m.status != orchestration.StateListening {
			m.level = 0
		}
		if m.status != orchestration.StateError && !m.notice.isError {
			m.notice = noticeMsg{}
		}
		m.refresh()
		return m, nil

	case levelMsg:
		m.level = float64(msg)
		return m, nil

	case noticeMsg:
		m.notice = msg
		return m, nil

	case connectedMsg:
		if msg.err != nil {
			m.notice = noticeMsg{text: "could not connect: " + firstLine(msg.err.Error()), isError: true}
			return m, nil
		}
		m.connected = true
		m.notice = noticeMsg{}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) toggleRecording() tea.Cmd {
	conversation := m.conversation
	if m.status == orchestration.StateListening {
		return func() tea.Msg {
			conversation.StopRecording()
			return nil
		}
	}
	return func() tea.Msg {
		conversation.StartRecording()
		return nil
	}
}

// submit sends text, or an image for "/image <path>".
func (m model) submit(text string) tea.Cmd {
	conversation := m.conversation
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		var err error
		if path, ok := strings.CutPrefix(text, imageCommand); ok {
			err = sendImageFile(ctx, conversation, strings.TrimSpace(path))
		} else {
			err = conversation.SendTextMessage(ctx, text)
		}
		if err != nil {
			return noticeMsg{text: firstLine(err.Error()), isError: !errors.Is(err, orchestration.ErrEmptyMessage)}
		}
		return nil
	}
}

func sendImageFile(ctx context.Context, conversation conversation, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read image: %w", err)
	}
	return conversation.SendImage(ctx, filepath.Base(path), data)
}

// refresh re-renders the history into the viewport and keeps it scrolled to
// the newest message.
func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m model) renderHistory() string {
	width := max(m.width-2, 10)

	var b strings.Builder
	for _, message := range m.history {
		label := agentStyle.Render("Agent")
		if message.Origin == orchestration.OriginUser {
			label = userStyle.Render("You")
		}
		b.WriteString(label)
		if message.Modality != "" && message.Modality != orchestration.ModalityText {
			b.WriteString(" " + tagStyle.Render("["+string(message.Modality)+"]"))
		}
		b.WriteString(" " + tagStyle.Render(message.Timestamp.Format("15:04")))
		b.WriteString("\n")
		b.WriteString(wordwrap.String(message.Content, width))
		b.WriteString("\n\n")
	}
	if m.status == orchestration.StateProcessing {
		b.WriteString(thinkStyle.Render("Agent is thinking..."))
	}
	return b.String()
}

func (m model) View() string {
	if !m.ready {
		return "Connecting...\n"
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.headerView(), m.viewport.View(), m.footerView())
}

func (m model) headerView() string {
	status := string(m.status)
	style, ok := statusStyles[status]
	if !ok {
		style = tagStyle
	}

	connection := errorStyle.Render("offline")
	if m.connected {
		connection = meterStyle.Render("online")
	}

	line := fmt.Sprintf("%s  %s  %s", userStyle.Render(m.userID), connection, style.Render(status))
	if m.status == orchestration.StateListening {
		line += "  " + meterView(m.level)
	}
	return headerStyle.Width(max(m.width, 1)).Render(line)
}

func (m model) footerView() string {
	lines := []string{m.input.View()}
	if m.notice.text != "" {
		style := warningStyle
		if m.notice.isError {
			style = errorStyle
		}
		lines = append(lines, style.Render(truncate.StringWithTail(m.notice.text, uint(max(m.width-1, 1)), "…")))
	}
	lines = append(lines, m.help.View(m.keys))
	return strings.Join(lines, "\n")
}

func meterView(level float64) string {
	filled := int(level*meterWidth + 0.5)
	filled = min(max(filled, 0), meterWidth)
	return meterStyle.Render(strings.Repeat("█", filled)) + tagStyle.Render(strings.Repeat("░", meterWidth-filled))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
