package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/mark3labs/mcp-go/mcp"
)

// commandTimeout bounds a single REPL command, tool calls included.
const commandTimeout = 5 * time.Minute

// notificationBacklog caps the in-memory notification log.
const notificationBacklog = 50

// historyFileName is the readline history file, kept under the temp dir so
// history survives sessions without touching the config dir.
const historyFileName = ".mcphub_agent_history"

// errExit signals a clean shutdown from the exit command.
var errExit = errors.New("exit")

// NotificationRecord is one entry in the REPL's notification log.
type NotificationRecord struct {
	At     time.Time
	Method string
}

// replCommand binds a command name to its handler and help text.
type replCommand struct {
	name        string
	aliases     []string
	usage       string
	description string
	run         func(ctx context.Context, args []string) error
}

// REPL is the interactive shell over a connected Client: readline in
// front, the MCP session behind, notifications surfaced between prompts.
type REPL struct {
	client     *Client
	logger     *Logger
	formatters *Formatters

	rl       *readline.Instance
	commands []*replCommand
	byName   map[string]*replCommand

	mu            sync.Mutex
	notifications []NotificationRecord

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewREPL creates a REPL over an already connected client.
func NewREPL(client *Client, logger *Logger) *REPL {
	r := &REPL{
		client:     client,
		logger:     logger,
		formatters: NewFormatters(),
		byName:     make(map[string]*replCommand),
		stopChan:   make(chan struct{}),
	}
	r.registerCommands()
	return r
}

func (r *REPL) registerCommands() {
	r.commands = []*replCommand{
		{name: "tools", usage: "tools", description: "List the hub's tool catalog", run: r.cmdTools},
		{name: "prompts", usage: "prompts", description: "List the hub's prompt catalog", run: r.cmdPrompts},
		{name: "call", aliases: []string{"run"}, usage: "call <tool> [json-args]", description: "Execute a tool with JSON arguments", run: r.cmdCall},
		{name: "describe", usage: "describe <tool|prompt>", description: "Show details for a tool or prompt", run: r.cmdDescribe},
		{name: "notifications", usage: "notifications", description: "Show notifications received this session", run: r.cmdNotifications},
		{name: "help", aliases: []string{"?"}, usage: "help", description: "Show this help", run: r.cmdHelp},
		{name: "exit", aliases: []string{"quit"}, usage: "exit", description: "Leave the agent", run: r.cmdExit},
	}
	for _, cmd := range r.commands {
		r.byName[cmd.name] = cmd
		for _, alias := range cmd.aliases {
			r.byName[alias] = cmd
		}
	}
}

// Run loads the catalogs and enters the interactive loop. It returns on
// context cancellation, EOF, or the exit command.
func (r *REPL) Run(ctx context.Context) error {
	if err := r.client.RefreshCatalogs(ctx); err != nil {
		return fmt.Errorf("failed to load catalogs: %w", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:              r.prompt(),
		HistoryFile:         filepath.Join(os.TempDir(), historyFileName),
		AutoComplete:        r.completer(),
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer rl.Close()
	r.rl = rl

	r.wg.Add(1)
	go r.notificationPump(ctx)

	r.logger.Info("Connected to %s (%s transport): %d tools, %d prompts",
		r.client.Endpoint(), r.client.Transport(), len(r.client.Tools()), len(r.client.Prompts()))
	r.logger.Info("Type 'help' for available commands. Use TAB for completion.")
	r.logger.OutputLine("")

	for {
		select {
		case <-ctx.Done():
			r.stopPump()
			r.logger.Info("Shutting down...")
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			r.stopPump()
			r.logger.Info("Goodbye!")
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if err := r.executeCommand(input); err != nil {
			if errors.Is(err, errExit) {
				r.stopPump()
				r.logger.Info("Goodbye!")
				return nil
			}
			r.logger.Error("Error: %v", err)
		}
		r.logger.OutputLine("")
	}
}

// prompt renders the shell prompt, falling back to ASCII on terminals
// without unicode locales.
func (r *REPL) prompt() string {
	if unicodeTerminal() {
		return "mcphub » "
	}
	return "mcphub > "
}

func unicodeTerminal() bool {
	term := os.Getenv("TERM")
	if term == "" || term == "dumb" {
		return false
	}
	for _, v := range []string{os.Getenv("LC_ALL"), os.Getenv("LANG")} {
		if strings.Contains(strings.ToLower(v), "utf") {
			return true
		}
	}
	return true
}

// executeCommand parses one input line and dispatches it. Each command
// runs under its own timeout so a hung tool call cannot wedge the shell
// permanently.
func (r *REPL) executeCommand(input string) error {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd, ok := r.byName[strings.ToLower(parts[0])]
	if !ok {
		return fmt.Errorf("unknown command: %s. Type 'help' for available commands", parts[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return cmd.run(ctx, parts[1:])
}

// notificationPump drains the client's notification channel, keeps the
// log, refreshes caches and completion, and repaints the prompt.
func (r *REPL) notificationPump(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case notification := <-r.client.NotificationChan:
			r.recordNotification(notification.Method)

			if r.rl != nil {
				r.rl.Stdout().Write([]byte("\r\033[K"))
			}
			if err := r.client.HandleNotification(ctx, notification); err != nil {
				r.logger.Error("Failed to handle notification: %v", err)
			}

			switch notification.Method {
			case "notifications/tools/list_changed", "notifications/prompts/list_changed":
				if r.rl != nil {
					r.rl.Config.AutoComplete = r.completer()
				}
			}
			if r.rl != nil {
				r.rl.Refresh()
			}
		}
	}
}

func (r *REPL) recordNotification(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, NotificationRecord{At: time.Now(), Method: method})
	if len(r.notifications) > notificationBacklog {
		r.notifications = r.notifications[len(r.notifications)-notificationBacklog:]
	}
}

func (r *REPL) stopPump() {
	close(r.stopChan)
	r.wg.Wait()
}

func (r *REPL) cmdTools(ctx context.Context, args []string) error {
	if err := r.client.RefreshTools(ctx); err != nil {
		r.logger.Error("Failed to refresh tools: %v", err)
	}
	r.logger.OutputLine("%s", r.formatters.FormatToolsList(r.client.Tools()))
	return nil
}

func (r *REPL) cmdPrompts(ctx context.Context, args []string) error {
	if err := r.client.RefreshPrompts(ctx); err != nil {
		r.logger.Error("Failed to refresh prompts: %v", err)
	}
	r.logger.OutputLine("%s", r.formatters.FormatPromptsList(r.client.Prompts()))
	return nil
}

func (r *REPL) cmdCall(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: call <tool> [json-args]")
	}
	toolName := args[0]

	toolArgs, err := parseToolArgs(args[1:])
	if err != nil {
		r.logger.Error("Arguments must be valid JSON: %v", err)
		r.logger.OutputLine(`Example: call %s {"city": "Berlin"}`, toolName)
		return nil
	}

	s := newSpinner(fmt.Sprintf(" Calling %s...", toolName))
	s.Start()
	result, err := r.client.CallTool(ctx, toolName, toolArgs)
	s.Stop()

	if err != nil {
		r.logger.Error("Tool call failed: %v", err)
		return nil
	}
	r.renderResult(result)
	return nil
}

func (r *REPL) cmdDescribe(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: describe <tool|prompt>")
	}
	name := args[0]

	if tool := r.client.GetToolByName(name); tool != nil {
		r.logger.OutputLine("%s", r.formatters.FormatToolDetail(*tool))
		return nil
	}
	if prompt := r.client.GetPromptByName(name); prompt != nil {
		r.logger.OutputLine("%s", r.formatters.FormatPromptDetail(*prompt))
		return nil
	}
	return fmt.Errorf("unknown tool or prompt: %s", name)
}

func (r *REPL) cmdNotifications(ctx context.Context, args []string) error {
	r.mu.Lock()
	records := make([]NotificationRecord, len(r.notifications))
	copy(records, r.notifications)
	r.mu.Unlock()

	r.logger.OutputLine("%s", r.formatters.FormatNotificationLog(records))
	if !r.client.SupportsNotifications() {
		r.logger.Info("Note: the %s transport delivers notifications only on active request streams.", r.client.Transport())
	}
	return nil
}

func (r *REPL) cmdHelp(ctx context.Context, args []string) error {
	r.logger.OutputLine("Available commands:")
	for _, cmd := range r.commands {
		name := cmd.usage
		if len(cmd.aliases) > 0 {
			name = fmt.Sprintf("%s (%s)", cmd.usage, strings.Join(cmd.aliases, ", "))
		}
		r.logger.OutputLine("  %-36s %s", name, cmd.description)
	}
	return nil
}

func (r *REPL) cmdExit(ctx context.Context, args []string) error {
	return errExit
}

// renderResult prints a tool result, pretty-printing JSON text content.
func (r *REPL) renderResult(result *mcp.CallToolResult) {
	if result.IsError {
		r.logger.OutputLine("Tool returned an error:")
		for _, content := range result.Content {
			if textContent, ok := mcp.AsTextContent(content); ok {
				r.logger.OutputLine("  %s", textContent.Text)
			}
		}
		return
	}

	r.logger.OutputLine("Result:")
	for _, content := range result.Content {
		switch v := content.(type) {
		case mcp.TextContent:
			var parsed interface{}
			if err := json.Unmarshal([]byte(v.Text), &parsed); err == nil {
				r.logger.OutputLine("%s", PrettyJSON(parsed))
			} else {
				r.logger.OutputLine("%s", v.Text)
			}
		case mcp.ImageContent:
			r.logger.OutputLine("[Image: MIME type %s, %d bytes]", v.MIMEType, len(v.Data))
		case mcp.AudioContent:
			r.logger.OutputLine("[Audio: MIME type %s, %d bytes]", v.MIMEType, len(v.Data))
		default:
			r.logger.OutputLine("%+v", content)
		}
	}
}

// parseToolArgs joins the argument tail and parses it as a JSON object.
// An empty tail yields an empty argument map.
func parseToolArgs(parts []string) (map[string]interface{}, error) {
	raw := strings.TrimSpace(strings.Join(parts, " "))
	if raw == "" {
		return map[string]interface{}{}, nil
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func newSpinner(suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = suffix
	return s
}
