// Package view is the terminal front end: avatar, status badge, chat box,
// push-to-talk hint and the debug panel.
package view

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kino/internal/audio"
	"kino/internal/session"
	"kino/pkg/protocol"
)

// Controller is the part of the session the view drives.
type Controller interface {
	Toggle() error
	Snapshot() session.Snapshot
}

// Feed hands snapshots from the session loop to the program. Push never
// blocks; a snapshot not yet rendered is replaced by a newer one.
type Feed struct {
	ch chan session.Snapshot
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan session.Snapshot, 1)}
}

// Push must be called from a single goroutine, the session loop.
func (f *Feed) Push(s session.Snapshot) {
	select {
	case <-f.ch:
	default:
	}
	f.ch <- s
}

type (
	snapshotMsg session.Snapshot
	avatarMsg   struct {
		name string
		art  string
	}
	gestureMsg struct{ err error }
)

type Model struct {
	ctl     Controller
	feed    *Feed
	avatars *Avatars

	snap      session.Snapshot
	chat      string
	alert     string
	debugOpen bool

	avatarName string
	art        string

	width    int
	quitting bool
}

func New(ctl Controller, feed *Feed, avatars *Avatars) Model {
	return Model{
		ctl:       ctl,
		feed:      feed,
		avatars:   avatars,
		snap:      ctl.Snapshot(),
		chat:      "...",
		debugOpen: true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.listen(), m.loadAvatar(m.snap.Status.Image()))
}

func (m Model) listen() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	return func() tea.Msg {
		return snapshotMsg(<-m.feed.ch)
	}
}

func (m Model) loadAvatar(name string) tea.Cmd {
	if m.avatars == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		art, _ := m.avatars.Load(ctx, name)
		return avatarMsg{name: name, art: art}
	}
}

// toggle runs off the program loop: the session may be publishing to the
// feed at the same moment.
func (m Model) toggle() tea.Cmd {
	return func() tea.Msg {
		return gestureMsg{err: m.ctl.Toggle()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.debugOpen = !m.debugOpen
		case " ", "space":
			if !m.canPress() {
				return m, nil
			}
			m.alert = ""
			return m, m.toggle()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case snapshotMsg:
		cmd := m.apply(session.Snapshot(msg))
		return m, tea.Batch(cmd, m.listen())

	case avatarMsg:
		if msg.name == m.snap.Status.Image() {
			m.avatarName = msg.name
			m.art = msg.art
		}

	case gestureMsg:
		m.alert = alertText(msg.err)
	}

	return m, nil
}

// canPress mirrors the session's own gate so the key and the control socket
// accept the same gestures.
func (m Model) canPress() bool {
	return m.snap.Recording || m.snap.Status.CanRecord(m.snap.Connected)
}

// apply folds a new snapshot into the view. The chat box shows whichever of
// utterance and reply arrived last, and clears when a recording starts.
func (m *Model) apply(s session.Snapshot) tea.Cmd {
	prev := m.snap
	m.snap = s

	switch {
	case s.Recording && !prev.Recording:
		m.chat = "..."
	case s.Replies > prev.Replies:
		m.chat = fmt.Sprintf("virtKino: %q", s.Reply)
	case s.Utterance != "" && s.Utterance != prev.Utterance:
		m.chat = fmt.Sprintf("Você: %q", s.Utterance)
	}

	if name := s.Status.Image(); name != m.avatarName {
		return m.loadAvatar(name)
	}
	return nil
}

func alertText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Erro Microfone: permissão negada"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "Erro Microfone: dispositivo indisponível"
	case errors.Is(err, session.ErrNotReady):
		return "Aguarde: o assistente não está pronto"
	case errors.Is(err, session.ErrOffline):
		return "Sem conexão: a gravação foi descartada"
	default:
		return "Erro: " + err.Error()
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9d"))

	badgeStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("#1a1a1a")).
			Background(lipgloss.Color("#888888"))
	activeBadgeStyle = badgeStyle.Background(lipgloss.Color("#bd00ff")).Foreground(lipgloss.Color("#ffffff"))

	chatStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1).
			Width(48)

	pttStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff4d6d"))
	pttOffStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
	alertStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	debugStyle    = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1).Width(40)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	movieStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9d"))
	otherStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#bd00ff"))
	topPickStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f1fa8c"))
	debugHeadline = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9d")).Render("CÉREBRO.LOG")
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("virtKino"),
		"",
		m.avatarView(),
		"",
		m.badgeView(),
		chatStyle.Render(m.chat),
		m.pttView(),
		alertStyle.Render(m.alert),
	)

	body := main
	if m.debugOpen {
		panel := DebugView(m.snap.Debug)
		if m.width > 0 && m.width < lipgloss.Width(main)+lipgloss.Width(panel)+2 {
			body = lipgloss.JoinVertical(lipgloss.Left, main, panel)
		} else {
			body = lipgloss.JoinHorizontal(lipgloss.Top, main, "  ", panel)
		}
	}

	help := hintStyle.Render("espaço: falar/parar • d: painel debug • q: sair")
	return body + "\n" + help + "\n"
}

func (m Model) avatarView() string {
	if m.art == "" {
		return hintStyle.Render("[ " + m.snap.Status.Image() + " ]")
	}
	return m.art
}

func (m Model) badgeView() string {
	if m.snap.Status == session.Idle {
		return badgeStyle.Render(m.snap.Status.Label())
	}
	return activeBadgeStyle.Render(m.snap.Status.Label())
}

func (m Model) pttView() string {
	switch {
	case m.snap.Recording:
		return pttStyle.Render("● GRAVANDO · espaço para enviar")
	case !m.canPress():
		return pttOffStyle.Render("○ Aguarde...")
	default:
		return hintStyle.Render("○ Pressione espaço para falar")
	}
}

// DebugView renders the backend's intent extraction panel.
func DebugView(d *protocol.Debug) string {
	var b strings.Builder
	b.WriteString(debugHeadline + "\n\n")

	b.WriteString(labelStyle.Render("INTENÇÃO DETECTADA") + "\n")
	switch {
	case d == nil || d.Intent == "":
		b.WriteString("---\n")
	case d.Intent == "filme":
		b.WriteString(movieStyle.Render(strings.ToUpper(d.Intent)) + "\n")
	default:
		b.WriteString(otherStyle.Render(strings.ToUpper(d.Intent)) + "\n")
	}

	b.WriteString("\n" + labelStyle.Render("FILTROS EXTRAÍDOS (LLM)") + "\n")
	b.WriteString(d.FiltersJSON() + "\n")

	if d != nil && d.Intent == "filme" {
		b.WriteString("\n" + labelStyle.Render("DADOS DO BANCO") + "\n")
		fmt.Fprintf(&b, "Candidatos: %g\n", d.MoviesFound)
		fmt.Fprintf(&b, "Top 1: %s", topPickStyle.Render(d.SelectedMovie))
	}

	return debugStyle.Render(strings.TrimRight(b.String(), "\n"))
}
