package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mark3labs/mcp-go/mcp"

	pkgstrings "mcphub/pkg/strings"
)

// descriptionWidth caps description columns so tables stay readable on
// ordinary terminals.
const descriptionWidth = 72

// Formatters renders hub catalogs as tables for terminal display.
type Formatters struct{}

// NewFormatters creates a formatters instance.
func NewFormatters() *Formatters {
	return &Formatters{}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

// FormatToolsList renders the tool catalog.
func (f *Formatters) FormatToolsList(tools []mcp.Tool) string {
	if len(tools) == 0 {
		return "No tools available."
	}

	t := newTable()
	t.AppendHeader(table.Row{"#", "TOOL", "DESCRIPTION"})
	for i, tool := range tools {
		t.AppendRow(table.Row{i + 1, tool.Name, pkgstrings.TruncateDescription(tool.Description, descriptionWidth)})
	}
	return fmt.Sprintf("Tools (%d):\n%s", len(tools), t.Render())
}

// FormatPromptsList renders the prompt catalog.
func (f *Formatters) FormatPromptsList(prompts []mcp.Prompt) string {
	if len(prompts) == 0 {
		return "No prompts available."
	}

	t := newTable()
	t.AppendHeader(table.Row{"#", "PROMPT", "DESCRIPTION"})
	for i, prompt := range prompts {
		t.AppendRow(table.Row{i + 1, prompt.Name, pkgstrings.TruncateDescription(prompt.Description, descriptionWidth)})
	}
	return fmt.Sprintf("Prompts (%d):\n%s", len(prompts), t.Render())
}

// FormatToolDetail renders one tool with its parameter table.
func (f *Formatters) FormatToolDetail(tool mcp.Tool) string {
	var out []string
	out = append(out, fmt.Sprintf("Tool: %s", tool.Name))
	if tool.Description != "" {
		out = append(out, fmt.Sprintf("Description: %s", tool.Description))
	}

	if len(tool.InputSchema.Properties) == 0 {
		out = append(out, "Parameters: none")
		return strings.Join(out, "\n")
	}

	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, name := range tool.InputSchema.Required {
		required[name] = true
	}

	t := newTable()
	t.AppendHeader(table.Row{"PARAMETER", "TYPE", "REQUIRED", "DESCRIPTION"})
	for _, name := range sortedKeys(tool.InputSchema.Properties) {
		prop, _ := tool.InputSchema.Properties[name].(map[string]interface{})
		t.AppendRow(table.Row{
			name,
			stringField(prop, "type"),
			yesNo(required[name]),
			pkgstrings.TruncateDescription(stringField(prop, "description"), descriptionWidth),
		})
	}
	out = append(out, "Parameters:", t.Render())
	return strings.Join(out, "\n")
}

// FormatPromptDetail renders one prompt with its argument table.
func (f *Formatters) FormatPromptDetail(prompt mcp.Prompt) string {
	var out []string
	out = append(out, fmt.Sprintf("Prompt: %s", prompt.Name))
	if prompt.Description != "" {
		out = append(out, fmt.Sprintf("Description: %s", prompt.Description))
	}

	if len(prompt.Arguments) == 0 {
		out = append(out, "Arguments: none")
		return strings.Join(out, "\n")
	}

	t := newTable()
	t.AppendHeader(table.Row{"ARGUMENT", "REQUIRED", "DESCRIPTION"})
	for _, arg := range prompt.Arguments {
		t.AppendRow(table.Row{arg.Name, yesNo(arg.Required), pkgstrings.TruncateDescription(arg.Description, descriptionWidth)})
	}
	out = append(out, "Arguments:", t.Render())
	return strings.Join(out, "\n")
}

// FormatNotificationLog renders received notifications, newest last.
func (f *Formatters) FormatNotificationLog(records []NotificationRecord) string {
	if len(records) == 0 {
		return "No notifications received."
	}

	t := newTable()
	t.AppendHeader(table.Row{"TIME", "METHOD"})
	for _, record := range records {
		t.AppendRow(table.Row{record.At.Format("15:04:05"), record.Method})
	}
	return fmt.Sprintf("Notifications (%d):\n%s", len(records), t.Render())
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
