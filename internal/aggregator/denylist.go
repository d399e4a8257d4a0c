package aggregator

import (
	"github.com/mark3labs/mcp-go/mcp"

	"mcphub/pkg/logging"
)

// filterDeniedTools drops tools whose upstream-side name appears in the
// routing denylist. The match runs against the bare name before prefixing,
// so one entry covers the tool no matter which upstream serves it. Denied
// tools never enter a catalog: no scope lists them and no call resolves to
// them, including indirect calls through the smart surface.
func filterDeniedTools(upstream string, tools []mcp.Tool, deny []string) []mcp.Tool {
	if len(deny) == 0 {
		return tools
	}

	denied := make(map[string]bool, len(deny))
	for _, name := range deny {
		denied[name] = true
	}

	kept := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if denied[t.Name] {
			logging.Info("Aggregator", "Tool %s from upstream %s is denylisted, not publishing", t.Name, upstream)
			continue
		}
		kept = append(kept, t)
	}
	return kept
}
