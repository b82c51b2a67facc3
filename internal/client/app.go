package client

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

type eventMsg struct {
	event Event
	err   error
}

// App implements the bubbletea tea.Model interface for the terminal client.
type App struct {
	session  *Session
	room     string
	username string
	lines    []string
	input    textinput.Model
	viewport viewport.Model
	status   string
	ready    bool
}

// NewApp returns a Bubble Tea model bound to an open session.
func NewApp(session *Session, room, username string) *App {
	input := textinput.New()
	input.Placeholder = "Type a message and press Enter"
	input.Focus()
	input.CharLimit = 4096

	return &App{
		session:  session,
		room:     room,
		username: username,
		lines:    make([]string, 0, 128),
		input:    input,
		viewport: viewport.New(0, 0),
		status:   "connected",
	}
}

// Init is part of the tea.Model interface.
func (a *App) Init() tea.Cmd {
	return a.waitForEvent()
}

func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		event, err := a.session.ReadEvent()
		return eventMsg{event: event, err: err}
	}
}

// Update handles user input and server events.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(m.Width, m.Height)
		return a, nil
	case tea.KeyMsg:
		return a.handleKey(m)
	case eventMsg:
		return a.handleEvent(m)
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		_ = a.session.Close()
		return a, tea.Quit
	case tea.KeyEnter:
		text := a.input.Value()
		if text == "" {
			return a, nil
		}
		if err := a.session.SendText(text); err != nil {
			a.status = fmt.Sprintf("send failed: %v", err)
			return a, nil
		}
		a.appendLine(fmt.Sprintf("%s: %s", a.username, text))
		a.input.Reset()
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) handleEvent(msg eventMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.status = fmt.Sprintf("disconnected: %v", msg.err)
		return a, nil
	}

	event := msg.event
	switch {
	case event.Status == "error":
		a.appendLine(fmt.Sprintf("! %s", event.Message))
	case event.Action == "typing":
		if event.IsTyping {
			a.status = fmt.Sprintf("%s is typing...", event.Username)
		} else {
			a.status = "connected"
		}
	case event.Action == "update_message":
		a.appendLine(fmt.Sprintf("* message %d edited: %s", event.MessageID, event.Text))
	case event.Action == "delete_message":
		a.appendLine(fmt.Sprintf("* message %d deleted", event.MessageID))
	default:
		a.appendLine(fmt.Sprintf("%s: %s", event.Sender, event.Text))
	}
	return a, a.waitForEvent()
}

func (a *App) appendLine(line string) {
	a.lines = append(a.lines, line)
	a.refreshViewport()
}

func (a *App) resize(width, height int) {
	const chromeLines = 4
	a.viewport.Width = width
	a.viewport.Height = height - chromeLines
	if a.viewport.Height < 1 {
		a.viewport.Height = 1
	}
	a.input.Width = width - 4
	a.ready = true
	a.refreshViewport()
}
