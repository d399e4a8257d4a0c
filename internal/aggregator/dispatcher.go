package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"mcphub/internal/config"
	"mcphub/internal/mcpserver"
	"mcphub/pkg/logging"
)

// retryableCallPrefix matches the transport error a remote endpoint produces
// when it rejects a POST on a stale session with an auth-shaped 4xx. One
// reconnect-and-retry round recovers sessions dropped by upstream restarts.
const retryableCallPrefix = "Error POSTing to endpoint (HTTP 40"

// searchCandidateFactor oversizes the raw search so that scope filtering
// still leaves enough hits to fill the requested limit.
const searchCandidateFactor = 5

// Dispatcher projects scoped catalogs out of the registry and routes tool
// and prompt invocations back to the owning upstream. It is stateless;
// every session shares one instance.
type Dispatcher struct {
	registry *UpstreamRegistry
	store    *config.Store
	searcher ToolSearcher
}

// NewDispatcher wires a dispatcher over the registry. A nil searcher falls
// back to the built-in lexical one.
func NewDispatcher(registry *UpstreamRegistry, store *config.Store, searcher ToolSearcher) *Dispatcher {
	if searcher == nil {
		searcher = NewLexicalSearcher(registry)
	}
	return &Dispatcher{
		registry: registry,
		store:    store,
		searcher: searcher,
	}
}

// scopeMember pairs an upstream with the tool filter its scope imposes.
type scopeMember struct {
	up     *Upstream
	filter config.GroupServer
}

// members resolves a concrete scope to its upstreams. An empty group means
// every registered upstream. A named group projects its configured members;
// when no group carries the name but an upstream does, the scope narrows to
// that single upstream. Unknown names resolve to an empty member list so the
// session stays usable and lists an empty catalog. Upstreams owned by a user
// are only part of scopes carrying that user.
func (d *Dispatcher) members(scope Scope) []scopeMember {
	if scope.Group == "" {
		var out []scopeMember
		for _, up := range d.registry.Snapshot() {
			if !ownedByScope(up, scope) {
				continue
			}
			out = append(out, scopeMember{up: up, filter: config.GroupServer{Name: up.Name()}})
		}
		return out
	}

	if group, ok := d.store.Group(scope.Group); ok {
		var out []scopeMember
		for _, gs := range group.Servers {
			if up, ok := d.registry.Get(gs.Name); ok && ownedByScope(up, scope) {
				out = append(out, scopeMember{up: up, filter: gs})
			}
		}
		return out
	}

	if up, ok := d.registry.Get(scope.Group); ok && ownedByScope(up, scope) {
		return []scopeMember{{up: up, filter: config.GroupServer{Name: up.Name()}}}
	}

	return nil
}

// ownedByScope reports whether the scope's user may see the upstream.
// Shared upstreams have no owner and are visible everywhere.
func ownedByScope(up *Upstream, scope Scope) bool {
	owner := up.Definition().Owner
	return owner == "" || owner == scope.User
}

// sortedMembers returns the scope members with enabled upstreams first,
// preserving the underlying order within each half.
func (d *Dispatcher) sortedMembers(scope Scope) []scopeMember {
	ms := d.members(scope)
	sort.SliceStable(ms, func(i, j int) bool {
		return ms[i].up.IsEnabled() && !ms[j].up.IsEnabled()
	})
	return ms
}

// servable reports whether an upstream can currently answer for its catalog.
func servable(up *Upstream) bool {
	if !up.IsEnabled() {
		return false
	}
	return up.IsConnected() || up.IsOnDemand()
}

// ListTools returns the tool catalog visible to a scope. Smart scopes see
// exactly the two synthetic tools; concrete scopes see the prefixed,
// visibility-filtered union of their members.
func (d *Dispatcher) ListTools(scope Scope) []mcp.Tool {
	if scope.IsSmart() {
		return d.smartTools(scope)
	}

	var out []mcp.Tool
	for _, m := range d.sortedMembers(scope) {
		out = append(out, d.visibleTools(m)...)
	}
	return out
}

// visibleTools projects one member's tools through the group filter and the
// per-upstream visibility map, applying description overrides.
func (d *Dispatcher) visibleTools(m scopeMember) []mcp.Tool {
	if !servable(m.up) {
		return nil
	}

	def := m.up.Definition()
	prefix := m.up.Name() + d.registry.separator()

	var out []mcp.Tool
	for _, t := range m.up.Tools() {
		bare := strings.TrimPrefix(t.Name, prefix)
		if !m.filter.AllowsTool(bare) {
			continue
		}
		if !config.IsEntryEnabled(def.Tools, bare) {
			continue
		}
		t.Description = config.EntryDescription(def.Tools, bare, t.Description)
		out = append(out, t)
	}
	return out
}

// ListPrompts returns the prompt catalog visible to a scope. The smart
// surface carries no prompts. Group tool filters do not apply to prompts;
// only the per-upstream visibility map does.
func (d *Dispatcher) ListPrompts(scope Scope) []mcp.Prompt {
	if scope.IsSmart() {
		return nil
	}

	var out []mcp.Prompt
	for _, m := range d.sortedMembers(scope) {
		if !servable(m.up) {
			continue
		}
		def := m.up.Definition()
		prefix := m.up.Name() + d.registry.separator()
		for _, p := range m.up.Prompts() {
			bare := strings.TrimPrefix(p.Name, prefix)
			if !config.IsEntryEnabled(def.Prompts, bare) {
				continue
			}
			p.Description = config.EntryDescription(def.Prompts, bare, p.Description)
			out = append(out, p)
		}
	}
	return out
}

// CallTool routes one invocation. The synthetic names search_tools and
// call_tool trigger smart handling; anything else resolves by upstream
// prefix against the registry.
func (d *Dispatcher) CallTool(ctx context.Context, scope Scope, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	switch name {
	case SmartToolSearch:
		query, _ := args["query"].(string)
		return d.SearchTools(ctx, scope, query, intArg(args, "limit"))
	case SmartToolCall:
		return d.smartCall(ctx, scope, args)
	}

	subject := scope
	if scope.IsSmart() {
		subject = scope.subjectScope()
	}

	up, bare, ok := d.registry.ResolveName(name)
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	filter, ok := d.memberFilter(subject, up)
	if !ok || !filter.AllowsTool(bare) {
		return nil, fmt.Errorf("tool %s is not available in this scope", name)
	}
	return d.dispatchTool(ctx, up, bare, args)
}

// memberFilter finds the scope's filter entry for an upstream.
func (d *Dispatcher) memberFilter(scope Scope, up *Upstream) (config.GroupServer, bool) {
	for _, m := range d.members(scope) {
		if m.up.Name() == up.Name() {
			return m.filter, true
		}
	}
	return config.GroupServer{}, false
}

// smartCall handles the synthetic call_tool tool: it expects a toolName and
// an optional arguments object. A toolName of search_tools routes to search;
// everything else dispatches to the first enabled upstream in scope whose
// catalog carries the prefixed name.
func (d *Dispatcher) smartCall(ctx context.Context, scope Scope, args map[string]interface{}) (*mcp.CallToolResult, error) {
	toolName, _ := args["toolName"].(string)
	if toolName == "" {
		return mcp.NewToolResultError("toolName is required"), nil
	}
	callArgs, _ := args["arguments"].(map[string]interface{})

	if toolName == SmartToolSearch {
		query, _ := callArgs["query"].(string)
		return d.SearchTools(ctx, scope, query, intArg(callArgs, "limit"))
	}

	subject := scope
	if scope.IsSmart() {
		subject = scope.subjectScope()
	}

	for _, m := range d.sortedMembers(subject) {
		if !m.up.IsEnabled() || !m.up.HasTool(toolName) {
			continue
		}
		bare := strings.TrimPrefix(toolName, m.up.Name()+d.registry.separator())
		if !m.filter.AllowsTool(bare) {
			continue
		}
		return d.dispatchTool(ctx, m.up, bare, args2map(callArgs))
	}
	return nil, fmt.Errorf("tool %s not found", toolName)
}

// args2map normalizes a possibly nil arguments object.
func args2map(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// dispatchTool performs the transport-level call on a resolved upstream.
// On-demand upstreams connect for the duration of the call. Persistent
// upstreams get exactly one reconnect-and-retry on a stale-session error;
// the retry's outcome surfaces unchanged.
func (d *Dispatcher) dispatchTool(ctx context.Context, up *Upstream, bare string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	def := up.Definition()

	if !def.IsEnabled() {
		return nil, fmt.Errorf("upstream %s is disabled", def.Name)
	}
	if !config.IsEntryEnabled(def.Tools, bare) {
		return nil, fmt.Errorf("tool %s is not available on %s", bare, def.Name)
	}

	if def.IsOnDemand() && def.Kind != config.UpstreamKindOpenAPI {
		return d.callOnDemand(ctx, &def, bare, args)
	}

	client := up.Client()
	if client == nil {
		return nil, fmt.Errorf("upstream %s is not connected", def.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, def.GetTimeout())
	result, err := client.CallTool(callCtx, bare, args)
	cancel()
	if err == nil {
		return result, nil
	}
	if !isRetryableCallError(err) {
		return nil, err
	}

	logging.Warn("Aggregator", "Stale session calling %s on %s, reconnecting once: %v", bare, def.Name, err)
	if rerr := d.registry.Reconnect(ctx, def.Name); rerr != nil {
		return nil, err
	}
	fresh, ok := d.registry.Get(def.Name)
	if !ok {
		return nil, err
	}
	client = fresh.Client()
	if client == nil {
		return nil, err
	}

	retryCtx, retryCancel := context.WithTimeout(ctx, def.GetTimeout())
	defer retryCancel()
	return client.CallTool(retryCtx, bare, args)
}

// callOnDemand opens a fresh connection, performs one call, and tears the
// connection down again whether or not the call succeeded.
func (d *Dispatcher) callOnDemand(ctx context.Context, def *config.UpstreamDefinition, bare string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	client, err := mcpserver.NewClient(def.Kind, d.registry.clientConfigFor(def))
	if err != nil {
		return nil, fmt.Errorf("failed to build client for on-demand upstream %s: %w", def.Name, err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			logging.Debug("Aggregator", "Error closing on-demand connection to %s: %v", def.Name, cerr)
		}
	}()

	initCtx, cancel := context.WithTimeout(ctx, d.store.Hub().GetInitTimeout())
	err = client.Initialize(initCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to on-demand upstream %s: %w", def.Name, err)
	}

	callCtx, callCancel := context.WithTimeout(ctx, def.GetTimeout())
	defer callCancel()
	return client.CallTool(callCtx, bare, args)
}

// isRetryableCallError walks the unwrap chain looking for the stale-session
// transport error. The client wraps transport failures, so the prefix has to
// be tested at every level.
func isRetryableCallError(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if strings.HasPrefix(e.Error(), retryableCallPrefix) {
			return true
		}
	}
	return false
}

// GetPrompt resolves a prefixed prompt name and fetches it from the owning
// upstream. On-demand upstreams connect for the duration of the fetch.
func (d *Dispatcher) GetPrompt(ctx context.Context, scope Scope, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	subject := scope
	if scope.IsSmart() {
		subject = scope.subjectScope()
	}

	up, bare, ok := d.registry.ResolveName(name)
	if !ok {
		return nil, fmt.Errorf("prompt %s not found", name)
	}
	if _, ok := d.memberFilter(subject, up); !ok {
		return nil, fmt.Errorf("prompt %s is not available in this scope", name)
	}

	def := up.Definition()
	if !def.IsEnabled() {
		return nil, fmt.Errorf("upstream %s is disabled", def.Name)
	}
	if !config.IsEntryEnabled(def.Prompts, bare) {
		return nil, fmt.Errorf("prompt %s is not available on %s", bare, def.Name)
	}

	if def.IsOnDemand() && def.Kind != config.UpstreamKindOpenAPI {
		return d.getPromptOnDemand(ctx, &def, bare, args)
	}

	client := up.Client()
	if client == nil {
		return nil, fmt.Errorf("upstream %s is not connected", def.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, def.GetTimeout())
	defer cancel()
	return client.GetPrompt(callCtx, bare, args)
}

func (d *Dispatcher) getPromptOnDemand(ctx context.Context, def *config.UpstreamDefinition, bare string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	client, err := mcpserver.NewClient(def.Kind, d.registry.clientConfigFor(def))
	if err != nil {
		return nil, fmt.Errorf("failed to build client for on-demand upstream %s: %w", def.Name, err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			logging.Debug("Aggregator", "Error closing on-demand connection to %s: %v", def.Name, cerr)
		}
	}()

	initCtx, cancel := context.WithTimeout(ctx, d.store.Hub().GetInitTimeout())
	err = client.Initialize(initCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to on-demand upstream %s: %w", def.Name, err)
	}

	callCtx, callCancel := context.WithTimeout(ctx, def.GetTimeout())
	defer callCancel()
	return client.GetPrompt(callCtx, bare, args)
}

// searchResultTool is one entry of a search_tools response.
type searchResultTool struct {
	Server      string      `json:"server"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Score       float64     `json:"score"`
	InputSchema interface{} `json:"inputSchema,omitempty"`
}

type searchMetadata struct {
	Query        string   `json:"query"`
	Threshold    float64  `json:"threshold"`
	TotalResults int      `json:"totalResults"`
	Guideline    string   `json:"guideline"`
	NextSteps    []string `json:"nextSteps"`
}

type searchResult struct {
	Tools    []searchResultTool `json:"tools"`
	Metadata searchMetadata     `json:"metadata"`
}

// SearchTools ranks the scope's catalog against a natural language query.
// Raw hits come from the searcher; each one is re-resolved against the live
// catalog so disabled upstreams, filtered tools, and description overrides
// are honored at response time.
func (d *Dispatcher) SearchTools(ctx context.Context, scope Scope, query string, limit int) (*mcp.CallToolResult, error) {
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	subject := scope
	if scope.IsSmart() {
		subject = scope.subjectScope()
	}

	threshold := searchThreshold(query)
	hits, err := d.searcher.Search(ctx, query, limit*searchCandidateFactor)
	if err != nil {
		return nil, fmt.Errorf("tool search failed: %w", err)
	}

	members := d.sortedMembers(subject)
	byName := make(map[string]scopeMember, len(members))
	for _, m := range members {
		byName[m.up.Name()] = m
	}

	tools := []searchResultTool{}
	for _, h := range hits {
		if h.Score < threshold || len(tools) >= limit {
			break
		}
		m, ok := byName[h.Server]
		if !ok || !servable(m.up) {
			continue
		}
		def := m.up.Definition()
		bare := strings.TrimPrefix(h.Tool, m.up.Name()+d.registry.separator())
		if !m.filter.AllowsTool(bare) || !config.IsEntryEnabled(def.Tools, bare) {
			continue
		}
		live, ok := liveTool(m.up, h.Tool)
		if !ok {
			continue
		}
		tools = append(tools, searchResultTool{
			Server:      h.Server,
			Name:        h.Tool,
			Description: config.EntryDescription(def.Tools, bare, live.Description),
			Score:       h.Score,
			InputSchema: schemaOf(live),
		})
	}

	payload := searchResult{
		Tools: tools,
		Metadata: searchMetadata{
			Query:        query,
			Threshold:    threshold,
			TotalResults: len(tools),
			Guideline:    searchGuideline(len(tools), len(members), query, threshold),
			NextSteps: []string{
				fmt.Sprintf("Invoke a result with %s, passing its exact name as toolName", SmartToolCall),
				fmt.Sprintf("Run %s again with different keywords if nothing fits", SmartToolSearch),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// searchGuideline phrases the one-line hint attached to search results.
func searchGuideline(found, scopeSize int, query string, threshold float64) string {
	switch {
	case found > 0:
		return fmt.Sprintf("Found %d tools matching %q at threshold %.2f. Call one with its exact name via call_tool.", found, query, threshold)
	case scopeSize == 0:
		return "No servers are available in this scope. Check the group name or the hub configuration."
	default:
		return fmt.Sprintf("No tools scored above threshold %.2f for %q. Try broader or different keywords.", threshold, query)
	}
}

// liveTool finds a prefixed tool in an upstream's current catalog.
func liveTool(up *Upstream, name string) (*mcp.Tool, bool) {
	tools := up.Tools()
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i], true
		}
	}
	return nil, false
}

// schemaOf returns the tool's input schema in whichever form it was
// captured.
func schemaOf(t *mcp.Tool) interface{} {
	if len(t.RawInputSchema) > 0 {
		return json.RawMessage(t.RawInputSchema)
	}
	return t.InputSchema
}

// smartTools builds the two-tool smart surface. The descriptions enumerate
// the servers reachable in the subject scope so a model knows what the
// search covers before issuing one.
func (d *Dispatcher) smartTools(scope Scope) []mcp.Tool {
	var names []string
	for _, m := range d.sortedMembers(scope.subjectScope()) {
		if servable(m.up) {
			names = append(names, m.up.Name())
		}
	}

	coverage := "No servers are currently available in this scope."
	if len(names) > 0 {
		coverage = fmt.Sprintf("Covers these servers: %s.", strings.Join(names, ", "))
	}

	return []mcp.Tool{
		{
			Name: SmartToolSearch,
			Description: fmt.Sprintf(
				"Search the hub's tool catalog with a natural language description of your task. "+
					"Returns matching tools with their exact names, descriptions, and input schemas. %s", coverage),
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Natural language description of what you want to do",
					},
					"limit": map[string]interface{}{
						"type":        "number",
						"description": "Maximum number of results to return",
						"default":     defaultSearchLimit,
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name: SmartToolCall,
			Description: fmt.Sprintf(
				"Invoke a tool found via search_tools. Pass the exact tool name from the search "+
					"results as toolName and the tool's parameters as arguments. %s", coverage),
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"toolName": map[string]interface{}{
						"type":        "string",
						"description": "Exact name of the tool to invoke, as returned by search_tools",
					},
					"arguments": map[string]interface{}{
						"type":        "object",
						"description": "Arguments to pass to the tool",
					},
				},
				Required: []string{"toolName"},
			},
		},
	}
}

// intArg reads a numeric argument that may arrive as float64 from JSON
// decoding or as a native int from tests.
func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
