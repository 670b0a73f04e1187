package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/dazzany/chatui/pkg/api"
	"github.com/dazzany/chatui/pkg/chat"
	"github.com/dazzany/chatui/pkg/controller"
	"github.com/dazzany/chatui/pkg/turn"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#5A56E0")).
			Padding(0, 1)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	toolStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
)

type uiState int

const (
	stateMenu uiState = iota
	stateSelectingSession
	stateChatting
	stateConfirmExit
)

type errMsg struct{ err error }
type transcriptUpdateMsg struct{}
type outcomeMsg turn.Outcome
type sessionsLoadedMsg struct{}
type clearErrMsg struct{}

type model struct {
	ctx  context.Context
	ctrl *controller.Controller

	state      uiState
	cursor     int
	listOffset int
	width      int
	height     int
	err        error
	notice     string

	attachments []chat.Attachment

	viewport viewport.Model
	textarea textarea.Model
	renderer *glamour.TermRenderer
}

func initialModel(ctx context.Context, ctrl *controller.Controller) model {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 0
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent("Welcome! Select an option.")

	// Standard style avoids terminal queries that leak into input.
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	return model{
		ctx:      ctx,
		ctrl:     ctrl,
		state:    stateMenu,
		viewport: vp,
		textarea: ta,
		renderer: r,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.loadSessions(),
		waitForUpdate(m.ctrl.Updates()),
		waitForOutcome(m.ctrl.Outcomes()),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Menu keystrokes must not leak into the textarea.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = msg.Height - m.textarea.Height() - 4
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(m.width-4),
		)
		m.clampList()
		if m.state == stateChatting {
			m.refreshViewport()
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.state == stateConfirmExit {
				return m, tea.Quit
			}
			m.state = stateConfirmExit
			return m, nil
		case tea.KeyEsc:
			return m.handleEsc()
		case tea.KeyEnter:
			return m.handleEnter()
		case tea.KeyUp:
			if m.state == stateMenu || m.state == stateSelectingSession {
				if m.cursor > 0 {
					m.cursor--
					m.clampList()
				}
				return m, nil
			}
		case tea.KeyDown:
			if m.state == stateMenu || m.state == stateSelectingSession {
				if m.cursor < m.maxCursor() {
					m.cursor++
					m.clampList()
				}
				return m, nil
			}
		default:
			if m.state == stateConfirmExit {
				switch msg.String() {
				case "y", "Y":
					return m, tea.Quit
				case "n", "N":
					m.state = stateChatting
					return m, nil
				}
			}
			if m.state == stateSelectingSession && msg.String() == "d" {
				return m.deleteSelectedSession()
			}
		}

	case transcriptUpdateMsg:
		if m.state == stateChatting {
			m.refreshViewport()
		}
		cmds = append(cmds, waitForUpdate(m.ctrl.Updates()))

	case outcomeMsg:
		switch turn.Outcome(msg) {
		case turn.OutcomeCancelled:
			m.notice = "Stopped."
		case turn.OutcomeErrored:
			m.notice = "The turn ended with an error."
		default:
			m.notice = ""
		}
		if m.state == stateChatting {
			m.refreshViewport()
		}
		cmds = append(cmds, waitForOutcome(m.ctrl.Outcomes()))

	case sessionsLoadedMsg:
		m.clampList()

	case errMsg:
		m.err = msg.err
		cmds = append(cmds, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return clearErrMsg{} }))

	case clearErrMsg:
		m.err = nil
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleEsc() (tea.Model, tea.Cmd) {
	switch m.state {
	case stateConfirmExit:
		m.state = stateChatting
		return m, nil
	case stateSelectingSession:
		m.state = stateMenu
		m.cursor = 0
		m.listOffset = 0
		return m, nil
	case stateChatting:
		if !m.ctrl.CanSend() {
			// A turn is in flight, Esc means stop it.
			m.ctrl.Stop(m.ctx)
			return m, nil
		}
		m.state = stateMenu
		m.cursor = 0
		m.listOffset = 0
		return m, m.loadSessions()
	default:
		return m, tea.Quit
	}
}

func (m model) handleEnter() (tea.Model, tea.Cmd) {
	switch m.state {
	case stateMenu:
		if m.cursor == 0 {
			if err := m.ctrl.NewSession(); err != nil {
				return m, reportErr(err)
			}
			return m.enterChat()
		}
		if len(m.ctrl.Sessions()) == 0 {
			return m, reportErr(fmt.Errorf("no saved sessions"))
		}
		m.state = stateSelectingSession
		m.cursor = 0
		m.listOffset = 0
		return m, nil
	case stateSelectingSession:
		return m.selectSession()
	case stateChatting:
		m.err = nil
		return m.sendMessage()
	}
	return m, nil
}

func (m model) maxCursor() int {
	switch m.state {
	case stateMenu:
		return 1
	case stateSelectingSession:
		return len(m.ctrl.Sessions()) - 1
	}
	return 0
}

func (m *model) clampList() {
	maxViewable := m.height - 7
	if maxViewable < 1 {
		maxViewable = 1
	}
	if m.cursor < m.listOffset {
		m.listOffset = m.cursor
	}
	if m.cursor >= m.listOffset+maxViewable {
		m.listOffset = m.cursor - maxViewable + 1
	}
	if m.listOffset < 0 {
		m.listOffset = 0
	}
}

// Actions

func (m model) loadSessions() tea.Cmd {
	ctrl := m.ctrl
	ctx := m.ctx
	return func() tea.Msg {
		if err := ctrl.LoadSessions(ctx); err != nil {
			return errMsg{err}
		}
		return sessionsLoadedMsg{}
	}
}

func (m model) selectSession() (tea.Model, tea.Cmd) {
	sessions := m.ctrl.Sessions()
	if m.cursor >= len(sessions) {
		return m, nil
	}
	id := sessions[m.cursor].ID
	if err := m.ctrl.SelectSession(m.ctx, id); err != nil {
		return m, reportErr(err)
	}
	return m.enterChat()
}

func (m model) deleteSelectedSession() (tea.Model, tea.Cmd) {
	sessions := m.ctrl.Sessions()
	if m.cursor >= len(sessions) {
		return m, nil
	}
	id := sessions[m.cursor].ID
	if err := m.ctrl.DeleteSession(m.ctx, id); err != nil {
		return m, reportErr(err)
	}
	if m.cursor > 0 {
		m.cursor--
	}
	m.clampList()
	return m, nil
}

func (m model) enterChat() (tea.Model, tea.Cmd) {
	m.state = stateChatting
	m.notice = ""
	m.textarea.Placeholder = "Type a message..."
	m.textarea.Focus()
	m.refreshViewport()
	return m, nil
}

func (m model) sendMessage() (tea.Model, tea.Cmd) {
	v := m.textarea.Value()
	if strings.TrimSpace(v) == "" && len(m.attachments) == 0 {
		return m, nil
	}

	if cmd, handled := m.handleSlashCommand(strings.TrimSpace(v)); handled {
		m.textarea.Reset()
		return m, cmd
	}

	m.textarea.Reset()
	m.notice = ""
	atts := m.attachments
	m.attachments = nil

	ctrl := m.ctrl
	ctx := m.ctx
	return m, func() tea.Msg {
		err := ctrl.Send(ctx, v, atts)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, controller.ErrTurnInFlight):
			// Gated no-op; the transcript is untouched.
			return nil
		case errors.Is(err, api.ErrUnauthenticated):
			return errMsg{fmt.Errorf("authentication failed, check CHATUI_AUTH_TOKEN: %w", err)}
		default:
			return errMsg{err}
		}
	}
}

// handleSlashCommand intercepts chat commands. The second return is false
// when the input is a plain message.
func (m *model) handleSlashCommand(v string) (tea.Cmd, bool) {
	switch {
	case v == "/exit":
		m.state = stateConfirmExit
		return nil, true

	case v == "/new":
		if err := m.ctrl.NewSession(); err != nil {
			return reportErr(err), true
		}
		m.attachments = nil
		m.refreshViewport()
		return nil, true

	case v == "/sessions":
		m.state = stateSelectingSession
		m.cursor = 0
		m.listOffset = 0
		return m.loadSessions(), true

	case strings.HasPrefix(v, "/attach "):
		path := strings.TrimSpace(strings.TrimPrefix(v, "/attach "))
		if path == "" {
			return nil, true
		}
		return m.stageAttachment(path), true

	case strings.HasPrefix(v, "/rename "):
		title := strings.TrimSpace(strings.TrimPrefix(v, "/rename "))
		id := m.ctrl.SessionID()
		if title == "" || id == "" {
			return reportErr(fmt.Errorf("nothing to rename, the session is unsaved")), true
		}
		ctrl := m.ctrl
		ctx := m.ctx
		return func() tea.Msg {
			if err := ctrl.RenameSession(ctx, id, title); err != nil {
				return errMsg{err}
			}
			return nil
		}, true
	}
	return nil, false
}

func (m *model) stageAttachment(path string) tea.Cmd {
	data, err := os.ReadFile(path)
	if err != nil {
		return reportErr(err)
	}
	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	att, err := chat.ProcessAttachment(filepath.Base(path), mediaType, data)
	if err != nil {
		return reportErr(err)
	}
	m.attachments = append(m.attachments, att)
	return nil
}

func reportErr(err error) tea.Cmd {
	return func() tea.Msg { return errMsg{err} }
}

func waitForUpdate(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		_, ok := <-ch
		if !ok {
			return nil
		}
		return transcriptUpdateMsg{}
	}
}

func waitForOutcome(ch <-chan turn.Outcome) tea.Cmd {
	return func() tea.Msg {
		o, ok := <-ch
		if !ok {
			return nil
		}
		return outcomeMsg(o)
	}
}

// Rendering

func (m *model) refreshViewport() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *model) renderTranscript() string {
	transcript := m.ctrl.Transcript()
	if len(transcript) == 0 {
		return "New conversation. Type a message to begin."
	}

	var sb strings.Builder
	for _, msg := range transcript {
		m.renderMessage(&sb, msg)
	}
	return sb.String()
}

func (m *model) renderMessage(sb *strings.Builder, msg chat.Message) {
	wroteHeader := false
	header := func() {
		if wroteHeader {
			return
		}
		wroteHeader = true
		if msg.Role == chat.RoleUser {
			sb.WriteString(userStyle.Render("You:"))
		} else {
			sb.WriteString(assistantStyle.Render("Assistant:"))
		}
		sb.WriteString("\n")
	}

	for _, part := range msg.Content {
		switch part.Type {
		case chat.ContentTypeText:
			header()
			sb.WriteString(m.renderMarkdown(part.Text.Text))
			sb.WriteString("\n")
		case chat.ContentTypeThinking:
			header()
			sb.WriteString(thinkingStyle.Render(part.Thinking.Text))
			sb.WriteString("\n")
		case chat.ContentTypeToolUse:
			header()
			line := fmt.Sprintf("[Tool: %s]", part.ToolUse.Name)
			if len(part.ToolUse.Input) > 0 {
				if raw, err := json.Marshal(part.ToolUse.Input); err == nil {
					line += " " + string(raw)
				}
			}
			sb.WriteString(toolStyle.Render(line))
			sb.WriteString("\n")
		case chat.ContentTypeToolResult:
			// Tool result messages render as tool output, not as a user turn.
			if part.ToolResult.Pending {
				sb.WriteString(toolStyle.Render("[Tool running...]"))
			} else {
				content := ""
				if part.ToolResult.Content != nil {
					content = *part.ToolResult.Content
				}
				sb.WriteString(toolStyle.Render("[Tool output]"))
				sb.WriteString("\n")
				sb.WriteString(content)
			}
			sb.WriteString("\n")
		case chat.ContentTypeImage:
			header()
			sb.WriteString(toolStyle.Render(fmt.Sprintf("[Image: %s]", part.Image.MediaType)))
			sb.WriteString("\n")
		case chat.ContentTypeDocument:
			header()
			sb.WriteString(toolStyle.Render(fmt.Sprintf("[Document: %s]", part.Document.MediaType)))
			sb.WriteString("\n")
		}
	}
	if msg.Err != "" {
		sb.WriteString(errorStyle.Render("Error: " + msg.Err))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func (m *model) renderMarkdown(raw string) string {
	if m.renderer == nil {
		return raw
	}
	rendered, err := m.renderer.Render(raw)
	if err != nil {
		return raw
	}
	return rendered
}

func (m model) statusLine() string {
	flags := m.ctrl.Flags()
	switch {
	case flags.UsingTool:
		return statusStyle.Render("Running tool... (Esc to stop)")
	case flags.Thinking:
		return statusStyle.Render("Thinking... (Esc to stop)")
	case flags.Streaming:
		return statusStyle.Render("Responding... (Esc to stop)")
	case !m.ctrl.CanSend():
		return statusStyle.Render("Working... (Esc to stop)")
	case m.notice != "":
		return statusStyle.Render(m.notice)
	}
	return ""
}

func (m model) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	switch m.state {
	case stateMenu:
		header := titleStyle.Render("Chat")
		options := []string{"New Session", "Continue Session"}
		var optionsView []string
		for i, choice := range options {
			cursor := " "
			if m.cursor == i {
				cursor = ">"
				choice = selectedItemStyle.Render(choice)
			}
			optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), choice))
		}
		list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
		footer := "Press Enter to select, Esc to quit."
		return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView)

	case stateSelectingSession:
		header := titleStyle.Render("Select Session")
		sessions := m.ctrl.Sessions()

		maxViewable := m.height - 7
		if maxViewable < 1 {
			maxViewable = 1
		}
		start := m.listOffset
		end := start + maxViewable
		if end > len(sessions) {
			end = len(sessions)
		}

		var optionsView []string
		for i := start; i < end; i++ {
			s := sessions[i]
			cursor := " "
			title := s.Title
			if title == "" {
				title = s.ID
			}
			line := fmt.Sprintf("%s (%s)", title, s.UpdatedAt.Format(time.RFC822))
			if m.cursor == i {
				cursor = ">"
				line = selectedItemStyle.Render(line)
			}
			optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
		}
		list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
		footer := "Enter to open, d to delete, Esc to go back."
		return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView)

	case stateConfirmExit:
		header := titleStyle.Render("Confirm Exit")
		prompt := "Quit? (y/n)"
		return lipgloss.JoinVertical(lipgloss.Left, header, "", prompt, errorView)
	}

	title := "New Conversation"
	if id := m.ctrl.SessionID(); id != "" {
		title = "Session " + id
	}
	var staged string
	if len(m.attachments) > 0 {
		names := make([]string, len(m.attachments))
		for i, a := range m.attachments {
			names[i] = a.Name
		}
		staged = statusStyle.Render("Attached: " + strings.Join(names, ", "))
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(title),
		"",
		m.viewport.View(),
		m.statusLine(),
		staged,
		errorView,
		m.textarea.View(),
	)
}
