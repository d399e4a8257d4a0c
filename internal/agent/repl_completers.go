package agent

import (
	"github.com/chzyer/readline"
)

// completer builds tab completion over the command set and the cached
// catalogs. It is rebuilt whenever a list_changed notification lands.
func (r *REPL) completer() *readline.PrefixCompleter {
	tools := func(string) []string {
		return toolNames(r.client.Tools())
	}
	catalog := func(string) []string {
		names := toolNames(r.client.Tools())
		return append(names, promptNames(r.client.Prompts())...)
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("tools"),
		readline.PcItem("prompts"),
		readline.PcItem("call", readline.PcItemDynamic(tools)),
		readline.PcItem("run", readline.PcItemDynamic(tools)),
		readline.PcItem("describe", readline.PcItemDynamic(catalog)),
		readline.PcItem("notifications"),
		readline.PcItem("help"),
		readline.PcItem("?"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
	)
}

// filterInput keeps readline from backgrounding itself on Ctrl+Z.
func filterInput(r rune) (rune, bool) {
	if r == readline.CharCtrlZ {
		return r, false
	}
	return r, true
}
