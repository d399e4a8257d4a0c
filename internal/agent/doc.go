// Package agent is a debugging MCP client for a running hub.
//
// It connects to the hub's MCP endpoint over streamable HTTP or SSE and
// exposes the aggregated catalog interactively: list tools and prompts,
// inspect their schemas, and call tools with JSON arguments. The package
// backs the `mcphub agent` command.
//
// # Client
//
// Client wraps an mcp-go transport client. It performs the initialize
// handshake, caches the tool and prompt catalogs, and refreshes them when
// the hub sends list_changed notifications:
//
//	logger := agent.NewLogger(false, true, false)
//	client := agent.NewClient("http://localhost:8090/mcp", logger, agent.TransportStreamableHTTP)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//	text, err := client.CallToolText(ctx, "time-now", map[string]interface{}{"timezone": "UTC"})
//
// # REPL
//
// REPL is the interactive shell over a connected client. It offers tab
// completion over the cached catalog, persistent history, and a log of
// notifications received during the session:
//
//	repl := agent.NewREPL(client, logger)
//	return repl.Run(ctx)
//
// Commands: tools, prompts, call, describe, notifications, help, exit.
// With the SSE transport, catalog changes on the hub repaint the prompt
// as they arrive; streamable HTTP receives notifications only on active
// request streams.
package agent
