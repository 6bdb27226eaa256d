package progress

import (
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/vito/progrock"
)

// Source is an interface for reading status updates. *Feed implements it;
// tests can substitute their own.
type Source interface {
	Read() (*progrock.StatusUpdate, error)
}

// WaitForUpdate returns a Bubble Tea command that reads the next status
// update from the source. It returns MsgUpdate on success or MsgEnded on
// EOF or error.
func WaitForUpdate(src Source) tea.Cmd {
	return func() tea.Msg {
		update, err := src.Read()
		if err != nil {
			if err == io.EOF {
				return MsgEnded{}
			}
			// Treat other errors as end of stream
			return MsgEnded{}
		}
		return MsgUpdate{Update: update}
	}
}
