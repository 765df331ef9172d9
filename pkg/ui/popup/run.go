package popup

import (
	"context"
	"fmt"

	"clicktodial/pkg/app"
	"clicktodial/pkg/bus"
	"clicktodial/pkg/dialer"
	"clicktodial/pkg/statesync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Session drives a popup context. Every mutation is posted into the
// context's task loop so handlers stay serialized.
type Session struct {
	app *app.App
}

func NewSession(a *app.App) *Session {
	return &Session{app: a}
}

func (s *Session) Layer() string {
	return s.app.Store().String("ui.layer")
}

func (s *Session) Authenticated() bool {
	return s.app.Store().Bool("user.authenticated")
}

func (s *Session) SetLayer(layer string) {
	s.app.Post(func() { statesync.SetLayer(s.app, layer) })
}

func (s *Session) Dial(bNumber string) {
	s.app.Post(func() {
		s.app.Bus().Emit(dialer.EventDial, bus.Payload{"b_number": bNumber}, bus.To(app.BackgroundID))
	})
}

// Logout signs the user out and tells the background to end call polling.
func (s *Session) Logout() {
	s.app.Post(func() {
		statesync.Logout(s.app)
		s.app.Bus().Emit(dialer.EventLogout, nil, bus.To(app.BackgroundID))
	})
}

// Run shows the popup until the user quits or ctx ends.
func Run(ctx context.Context, session *Session, labels Labeler) error {
	program := tea.NewProgram(newModel(session, labels), tea.WithContext(ctx))

	stopUI := session.app.Store().Watch("ui", func(string, any) { go program.Send(stateChangedMsg{}) })
	defer stopUI()
	stopUser := session.app.Store().Watch("user", func(string, any) { go program.Send(stateChangedMsg{}) })
	defer stopUser()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run popup: %w", err)
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(0, 2)

	return style.Render("☎ popup closed")
}
