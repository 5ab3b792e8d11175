package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	orchestration "github.com/JSluo888/MedJourney-sub000/core"
	tea "github.com/charmbracelet/bubbletea"
)

type fakeConversation struct {
	initErr error
	sendErr error

	mu         sync.Mutex
	texts      []string
	images     map[string][]byte
	starts     int
	stops      int
	interrupts int
}

func (c *fakeConversation) Initialize(context.Context, string) error { return c.initErr }

func (c *fakeConversation) SendTextMessage(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return c.sendErr
}

func (c *fakeConversation) SendImage(_ context.Context, fileName string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.images == nil {
		c.images = map[string][]byte{}
	}
	c.images[fileName] = data
	return c.sendErr
}

func (c *fakeConversation) StartRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
}

func (c *fakeConversation) StopRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

func (c *fakeConversation) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interrupts++
}

func readyModel(t *testing.T, conversation conversation) model {
	t.Helper()
	m := newModel(conversation, "u1")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return updated.(model)
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	return updated.(model), cmd
}

func TestEnterSendsTrimmedText(t *testing.T) {
	conversation := &fakeConversation{}
	m := readyModel(t, conversation)
	m.input.SetValue("  hello  ")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("expected a send command")
	}
	if msg := cmd(); msg != nil {
		t.Fatalf("expected no notice, got %+v", msg)
	}
	if len(conversation.texts) != 1 || conversation.texts[0] != "hello" {
		t.Fatalf("expected hello to be sent, got %v", conversation.texts)
	}
	if m.input.Value() != "" {
		t.Fatalf("expected the input to be cleared, got %q", m.input.Value())
	}
}

func TestEnterOnBlankInputSendsNothing(t *testing.T) {
	conversation := &fakeConversation{}
	m := readyModel(t, conversation)
	m.input.SetValue("   ")

	if _, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatalf("expected no command for blank input")
	}
}

func TestSendFailureBecomesNotice(t *testing.T) {
	conversation := &fakeConversation{sendErr: errors.New("not connected\nstack")}
	m := readyModel(t, conversation)
	m.input.SetValue("hello")

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	notice, ok := cmd().(noticeMsg)
	if !ok || !notice.isError || notice.text != "not connected" {
		t.Fatalf("expected a single-line error notice, got %+v", notice)
	}
}

func TestImageCommandSendsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, []byte("\x89PNG"), 0o644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	conversation := &fakeConversation{}
	m := readyModel(t, conversation)
	m.input.SetValue("/image " + path)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if msg := cmd(); msg != nil {
		t.Fatalf("expected no notice, got %+v", msg)
	}
	if got := string(conversation.images["scan.png"]); got != "\x89PNG" {
		t.Fatalf("expected the file contents to be sent, got %q", got)
	}
	if len(conversation.texts) != 0 {
		t.Fatalf("expected no text message, got %v", conversation.texts)
	}
}

func TestRecordKeyFollowsStatus(t *testing.T) {
	conversation := &fakeConversation{}
	m := readyModel(t, conversation)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	cmd()
	if conversation.starts != 1 {
		t.Fatalf("expected recording to start, got %d starts", conversation.starts)
	}

	m, _ = update(t, m, statusMsg(orchestration.StateListening))
	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	cmd()
	if conversation.stops != 1 {
		t.Fatalf("expected recording to stop, got %d stops", conversation.stops)
	}
}

func TestEscInterrupts(t *testing.T) {
	conversation := &fakeConversation{}
	m := readyModel(t, conversation)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	cmd()
	if conversation.interrupts != 1 {
		t.Fatalf("expected an interrupt, got %d", conversation.interrupts)
	}
}

func TestMessagesAreRendered(t *testing.T) {
	m := readyModel(t, &fakeConversation{})
	now := time.Now()

	m, _ = update(t, m, messageMsg{Origin: orchestration.OriginUser, Modality: orchestration.ModalityText, Content: "how is my dose?", Timestamp: now})
	m, _ = update(t, m, statusMsg(orchestration.StateProcessing))
	if view := m.renderHistory(); !strings.Contains(view, "how is my dose?") || !strings.Contains(view, "thinking") {
		t.Fatalf("expected the message and the thinking line, got %q", view)
	}

	m, _ = update(t, m, messageMsg{Origin: orchestration.OriginAgent, Modality: orchestration.ModalityText, Content: "unchanged", Timestamp: now})
	m, _ = update(t, m, statusMsg(orchestration.StateIdle))
	view := m.renderHistory()
	if !strings.Contains(view, "unchanged") || strings.Contains(view, "thinking") {
		t.Fatalf("expected the reply without the thinking line, got %q", view)
	}
	if len(m.history) != 2 {
		t.Fatalf("expected two messages, got %d", len(m.history))
	}
}

func TestLevelResetsWhenListeningEnds(t *testing.T) {
	m := readyModel(t, &fakeConversation{})
	m, _ = update(t, m, statusMsg(orchestration.StateListening))
	m, _ = update(t, m, levelMsg(0.7))
	if m.level != 0.7 {
		t.Fatalf("expected level 0.7, got %f", m.level)
	}

	m, _ = update(t, m, statusMsg(orchestration.StateProcessing))
	if m.level != 0 {
		t.Fatalf("expected level 0 after listening, got %f", m.level)
	}
}

func TestConnectFailureIsShown(t *testing.T) {
	m := readyModel(t, &fakeConversation{})
	m, _ = update(t, m, connectedMsg{err: errors.New("dial refused")})
	if m.connected || !m.notice.isError || !strings.Contains(m.notice.text, "dial refused") {
		t.Fatalf("expected an error notice, got %+v", m.notice)
	}

	m, _ = update(t, m, connectedMsg{})
	if !m.connected || m.notice.text != "" {
		t.Fatalf("expected a clean connected state, got %+v", m.notice)
	}
}

func TestMeterView(t *testing.T) {
	if got := strings.Count(meterView(0.5), "█"); got != meterWidth/2 {
		t.Fatalf("expected %d filled cells, got %d", meterWidth/2, got)
	}
	if got := strings.Count(meterView(3), "█"); got != meterWidth {
		t.Fatalf("expected the meter to clamp, got %d", got)
	}
}
