//nolint:testpackage // Test needs access to unexported fields
package progress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModel_View(t *testing.T) {
	m := NewModel(nil)
	m.width = 80
	m.height = 20

	m.tasks = []TaskState{
		{ID: "1", Name: "fetch foo-1.0-0", Status: statusRunning},
		{ID: "2", Name: "link foo-1.0-0", Status: statusCompleted},
		{ID: "3", Name: "fetch bar-2.0-0", Status: statusFailed},
	}

	output := m.View()

	assert.Contains(t, output, "fetch foo-1.0-0")
	assert.Contains(t, output, "link foo-1.0-0")
	assert.Contains(t, output, "fetch bar-2.0-0")
	assert.Contains(t, output, "✓")
	assert.Contains(t, output, "✗")
}

func TestModel_View_ClipsToWindowHeight(t *testing.T) {
	m := NewModel(nil)
	m.width = 80
	m.height = 2

	m.tasks = []TaskState{
		{ID: "1", Name: "first", Status: statusCompleted},
		{ID: "2", Name: "second", Status: statusCompleted},
		{ID: "3", Name: "third", Status: statusCompleted},
	}

	output := m.View()

	assert.NotContains(t, output, "first")
	assert.Contains(t, output, "second")
	assert.Contains(t, output, "third")
	assert.Equal(t, 2, strings.Count(output, "\n"))
}
