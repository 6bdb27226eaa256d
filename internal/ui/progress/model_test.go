//nolint:testpackage // Test needs access to unexported fields
package progress

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/vito/progrock"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// stalledSource never delivers an update.
type stalledSource struct{}

func (s *stalledSource) Read() (*progrock.StatusUpdate, error) {
	return nil, errors.New("closed")
}

func TestModel_Update_AddsTaskAsRunning(t *testing.T) {
	m := NewModel(&stalledSource{})

	update := &progrock.StatusUpdate{
		Vertexes: []*progrock.Vertex{
			{Id: "pkg/foo", Name: "foo-1.0-0"},
		},
	}
	_, cmd := m.Update(MsgUpdate{Update: update})

	assert.Len(t, m.tasks, 1)
	assert.Equal(t, "pkg/foo", m.tasks[0].ID)
	assert.Equal(t, "foo-1.0-0", m.tasks[0].Name)
	assert.Equal(t, statusRunning, m.tasks[0].Status)
	// The model keeps reading from the source.
	assert.NotNil(t, cmd)
}

func TestModel_Update_MarksCompletion(t *testing.T) {
	m := NewModel(&stalledSource{})
	m.tasks = []TaskState{
		{ID: "pkg/foo", Name: "foo-1.0-0", Status: statusRunning},
		{ID: "pkg/bar", Name: "bar-2.0-0", Status: statusRunning},
	}

	now := timestamppb.New(time.Now())
	m.Update(MsgUpdate{Update: &progrock.StatusUpdate{
		Vertexes: []*progrock.Vertex{
			{Id: "pkg/foo", Name: "foo-1.0-0", Completed: now},
			{Id: "pkg/bar", Name: "bar-2.0-0", Completed: now, Error: stringPtr("digest mismatch")},
		},
	}})

	assert.Equal(t, statusCompleted, m.tasks[0].Status)
	assert.Equal(t, statusFailed, m.tasks[1].Status)
}

func TestModel_Update_EndedQuits(t *testing.T) {
	m := NewModel(&stalledSource{})

	_, cmd := m.Update(MsgEnded{})
	assert.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModel_Update_CtrlCQuits(t *testing.T) {
	m := NewModel(&stalledSource{})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func stringPtr(s string) *string {
	return &s
}
