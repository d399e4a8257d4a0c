package agent

import (
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

func TestFormatToolsList(t *testing.T) {
	f := NewFormatters()

	assert.Equal(t, "No tools available.", f.FormatToolsList(nil))

	out := f.FormatToolsList([]mcp.Tool{
		{Name: "time-now", Description: "Get the current time"},
		{Name: "weather-report", Description: "Fetch a weather report"},
	})
	assert.Contains(t, out, "Tools (2):")
	assert.Contains(t, out, "time-now")
	assert.Contains(t, out, "weather-report")
	assert.Contains(t, out, "Fetch a weather report")
}

func TestFormatPromptsList(t *testing.T) {
	f := NewFormatters()

	assert.Equal(t, "No prompts available.", f.FormatPromptsList(nil))

	out := f.FormatPromptsList([]mcp.Prompt{{Name: "time-brief", Description: "Summarize the day"}})
	assert.Contains(t, out, "Prompts (1):")
	assert.Contains(t, out, "time-brief")
}

func TestFormatToolDetail(t *testing.T) {
	f := NewFormatters()

	tool := mcp.Tool{
		Name:        "weather-report",
		Description: "Fetch a weather report",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"city":  map[string]interface{}{"type": "string", "description": "City name"},
				"units": map[string]interface{}{"type": "string"},
			},
			Required: []string{"city"},
		},
	}

	out := f.FormatToolDetail(tool)
	assert.Contains(t, out, "Tool: weather-report")
	assert.Contains(t, out, "city")
	assert.Contains(t, out, "City name")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "units")
}

func TestFormatToolDetail_NoParameters(t *testing.T) {
	f := NewFormatters()

	out := f.FormatToolDetail(mcp.Tool{Name: "time-now", Description: "Get the current time"})
	assert.Contains(t, out, "Parameters: none")
}

func TestFormatPromptDetail(t *testing.T) {
	f := NewFormatters()

	prompt := mcp.Prompt{
		Name:        "time-brief",
		Description: "Summarize the day",
		Arguments: []mcp.PromptArgument{
			{Name: "tone", Description: "Writing tone", Required: true},
			{Name: "length", Description: "Word budget"},
		},
	}

	out := f.FormatPromptDetail(prompt)
	assert.Contains(t, out, "Prompt: time-brief")
	assert.Contains(t, out, "tone")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "length")
	assert.Contains(t, out, "no")

	assert.Contains(t, f.FormatPromptDetail(mcp.Prompt{Name: "bare"}), "Arguments: none")
}

func TestFormatNotificationLog(t *testing.T) {
	f := NewFormatters()

	assert.Equal(t, "No notifications received.", f.FormatNotificationLog(nil))

	out := f.FormatNotificationLog([]NotificationRecord{
		{At: time.Date(2026, 8, 24, 14, 5, 0, 0, time.UTC), Method: "notifications/tools/list_changed"},
	})
	assert.Contains(t, out, "Notifications (1):")
	assert.Contains(t, out, "14:05:00")
	assert.Contains(t, out, "notifications/tools/list_changed")
}

func TestFormatToolsList_MultilineDescriptionFlattened(t *testing.T) {
	f := NewFormatters()

	out := f.FormatToolsList([]mcp.Tool{
		{Name: "db-dump", Description: "Dump the database.\nSupports partial dumps."},
	})
	assert.Contains(t, out, "Dump the database. Supports partial dumps.")
	assert.NotContains(t, out, "database.\nSupports")
}
