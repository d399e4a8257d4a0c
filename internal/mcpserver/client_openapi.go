package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"mcphub/pkg/logging"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/mark3labs/mcp-go/mcp"
)

// maxOpenAPIResponseBytes caps how much of an upstream HTTP response is read
// into a tool result.
const maxOpenAPIResponseBytes = 10 << 20

// maxSchemaDepth bounds recursion when converting component schemas.
// Guards against self-referential schema definitions.
const maxSchemaDepth = 8

// OpenAPIConfig holds the parameters for an OpenAPI-backed synthetic client.
type OpenAPIConfig struct {
	// SpecURL points at the OpenAPI document. Mutually exclusive with SpecInline.
	SpecURL string
	// SpecInline is the OpenAPI document embedded in the upstream definition.
	SpecInline string
	// BaseURL overrides the server URL from the document.
	BaseURL string
	// PassthroughHeaders are forwarded from the ambient downstream request
	// onto every outbound call.
	PassthroughHeaders []string
	// Headers are static headers added to every outbound call.
	Headers map[string]string
	// HTTPClient overrides the client used for outbound calls.
	HTTPClient *http.Client
}

// openapiOperation records the HTTP binding of one synthetic tool.
type openapiOperation struct {
	method  string
	path    string
	params  openapi3.Parameters
	hasBody bool
}

// OpenAPIClient implements the MCPClient interface by translating an OpenAPI
// document into synthetic MCP tools. There is no persistent transport:
// Initialize parses and validates the document, CallTool issues the
// corresponding HTTP operation, and Close just drops the parsed state.
type OpenAPIClient struct {
	mu        sync.RWMutex
	connected bool

	name       string
	cfg        OpenAPIConfig
	httpClient *http.Client

	base  string
	tools []mcp.Tool
	ops   map[string]*openapiOperation
}

// NewOpenAPIClient creates a synthetic MCP client for an OpenAPI upstream.
func NewOpenAPIClient(name string, cfg OpenAPIConfig) *OpenAPIClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAPIClient{
		name:       name,
		cfg:        cfg,
		httpClient: httpClient,
	}
}

// Initialize loads and validates the OpenAPI document and builds the
// synthetic tool catalog.
func (c *OpenAPIClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	var (
		doc *openapi3.T
		err error
	)
	switch {
	case c.cfg.SpecInline != "":
		doc, err = loader.LoadFromData([]byte(c.cfg.SpecInline))
	case c.cfg.SpecURL != "":
		var specURI *url.URL
		specURI, err = url.Parse(c.cfg.SpecURL)
		if err != nil {
			return fmt.Errorf("invalid OpenAPI document URL %q: %w", c.cfg.SpecURL, err)
		}
		doc, err = loader.LoadFromURI(specURI)
	default:
		return fmt.Errorf("no OpenAPI document configured")
	}
	if err != nil {
		return fmt.Errorf("failed to load OpenAPI document: %w", err)
	}

	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("OpenAPI document validation failed: %w", err)
	}

	base, err := c.resolveBaseURL(doc)
	if err != nil {
		return err
	}

	tools, ops := buildOpenAPITools(doc)

	c.base = base
	c.tools = tools
	c.ops = ops
	c.connected = true

	logging.Debug("OpenAPIClient", "Parsed OpenAPI document for %s: %d operations, base URL %s",
		c.name, len(tools), base)

	return nil
}

// resolveBaseURL picks the target for outbound calls: the configured
// override, then the document's first server entry, then the origin of the
// document URL.
func (c *OpenAPIClient) resolveBaseURL(doc *openapi3.T) (string, error) {
	base := c.cfg.BaseURL
	if base == "" && len(doc.Servers) > 0 && doc.Servers[0] != nil {
		base = doc.Servers[0].URL
	}
	if base == "" && c.cfg.SpecURL != "" {
		if u, err := url.Parse(c.cfg.SpecURL); err == nil && u.Scheme != "" && u.Host != "" {
			base = u.Scheme + "://" + u.Host
		}
	}
	if base == "" {
		return "", fmt.Errorf("cannot determine base URL for OpenAPI upstream %s: no baseUrl configured and document declares no servers", c.name)
	}
	return strings.TrimRight(base, "/"), nil
}

// buildOpenAPITools walks the document's paths and converts every operation
// into a synthetic MCP tool plus its HTTP binding. Tools are returned sorted
// by name so the published catalog is stable across reloads.
func buildOpenAPITools(doc *openapi3.T) ([]mcp.Tool, map[string]*openapiOperation) {
	ops := make(map[string]*openapiOperation)
	var tools []mcp.Tool

	if doc.Paths == nil {
		return tools, ops
	}

	for path, pathItem := range doc.Paths.Map() {
		if pathItem == nil {
			continue
		}
		for method, operation := range pathItem.Operations() {
			if operation == nil {
				continue
			}

			name := operation.OperationID
			if name == "" {
				name = strings.ToLower(method) + "_" + path
			}
			name = sanitizeToolName(name)
			base := name
			for i := 2; ; i++ {
				if _, taken := ops[name]; !taken {
					break
				}
				name = fmt.Sprintf("%s_%d", base, i)
			}

			// Path-level parameters apply to every operation under the path.
			params := make(openapi3.Parameters, 0, len(pathItem.Parameters)+len(operation.Parameters))
			params = append(params, pathItem.Parameters...)
			params = append(params, operation.Parameters...)

			properties, required := operationInputSchema(operation, params, doc)

			desc := operation.Description
			if desc == "" {
				desc = operation.Summary
			}
			if desc == "" {
				desc = method + " " + path
			}

			tools = append(tools, mcp.Tool{
				Name:        name,
				Description: desc,
				InputSchema: mcp.ToolInputSchema{
					Type:       "object",
					Properties: properties,
					Required:   required,
				},
			})
			ops[name] = &openapiOperation{
				method:  method,
				path:    path,
				params:  params,
				hasBody: operation.RequestBody != nil,
			}
		}
	}

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	return tools, ops
}

// operationInputSchema merges an operation's parameters and JSON request body
// into one flat property map for the tool input schema.
func operationInputSchema(operation *openapi3.Operation, params openapi3.Parameters, doc *openapi3.T) (map[string]interface{}, []string) {
	properties := make(map[string]interface{})
	var required []string

	for _, paramRef := range params {
		if paramRef == nil || paramRef.Value == nil {
			continue
		}
		param := paramRef.Value
		if param.In != openapi3.ParameterInQuery &&
			param.In != openapi3.ParameterInPath &&
			param.In != openapi3.ParameterInHeader {
			continue
		}
		if param.Schema == nil {
			logging.Debug("OpenAPIClient", "Parameter %s in %s has no schema, defaulting to string", param.Name, param.In)
			properties[param.Name] = map[string]interface{}{"type": "string", "description": param.Description}
		} else {
			properties[param.Name] = schemaToProperty(param.Schema, param.Description, doc, 0)
		}
		if param.Required || param.In == openapi3.ParameterInPath {
			required = append(required, param.Name)
		}
	}

	if operation.RequestBody != nil && operation.RequestBody.Value != nil {
		var mediaType *openapi3.MediaType
		if mt := operation.RequestBody.Value.Content.Get("application/json"); mt != nil {
			mediaType = mt
		} else {
			for _, mt := range operation.RequestBody.Value.Content {
				mediaType = mt
				break
			}
		}

		if mediaType != nil && mediaType.Schema != nil {
			bodySchema := resolveSchemaRef(mediaType.Schema, doc)
			if bodySchema != nil && isObjectSchema(bodySchema) {
				for propName, propRef := range mergeSchemaProperties(bodySchema, doc, 0) {
					if _, exists := properties[propName]; exists {
						continue
					}
					properties[propName] = schemaToProperty(propRef, "", doc, 0)
				}
				required = append(required, bodySchema.Required...)
			} else {
				// Non-object bodies (arrays, scalars) travel under a single
				// well-known argument.
				properties["request_body"] = schemaToProperty(mediaType.Schema, "Request body", doc, 0)
				if operation.RequestBody.Value.Required {
					required = append(required, "request_body")
				}
			}
		}
	}

	return properties, required
}

// schemaToProperty converts an OpenAPI schema into a JSON-schema property map.
func schemaToProperty(sr *openapi3.SchemaRef, explicitDescription string, doc *openapi3.T, depth int) map[string]interface{} {
	property := map[string]interface{}{"type": "string"}
	if depth > maxSchemaDepth {
		return property
	}

	schema := resolveSchemaRef(sr, doc)
	if schema == nil {
		return property
	}

	schemaType := "object"
	if schema.Type != nil && len(*schema.Type) > 0 {
		schemaType = (*schema.Type)[0]
	}

	description := schema.Description
	if explicitDescription != "" {
		description = explicitDescription
	}
	if description != "" {
		property["description"] = description
	}
	if schema.Format != "" {
		property["format"] = schema.Format
	}
	if len(schema.Enum) > 0 {
		property["enum"] = append([]interface{}{}, schema.Enum...)
	}
	if schema.Default != nil {
		property["default"] = schema.Default
	}

	switch schemaType {
	case openapi3.TypeObject:
		property["type"] = "object"
		nested := make(map[string]interface{})
		for propName, propRef := range mergeSchemaProperties(schema, doc, depth) {
			nested[propName] = schemaToProperty(propRef, "", doc, depth+1)
		}
		if len(nested) > 0 {
			property["properties"] = nested
		}
		if len(schema.Required) > 0 {
			property["required"] = append([]string{}, schema.Required...)
		}
	case openapi3.TypeArray:
		property["type"] = "array"
		if schema.Items != nil {
			property["items"] = schemaToProperty(schema.Items, "", doc, depth+1)
		}
	case openapi3.TypeString, openapi3.TypeNumber, openapi3.TypeInteger, openapi3.TypeBoolean:
		property["type"] = schemaType
	default:
		property["type"] = "string"
	}

	return property
}

// mergeSchemaProperties flattens a schema's own properties with those of its
// allOf components.
func mergeSchemaProperties(schema *openapi3.Schema, doc *openapi3.T, depth int) map[string]*openapi3.SchemaRef {
	properties := make(map[string]*openapi3.SchemaRef)
	if schema == nil || depth > maxSchemaDepth {
		return properties
	}

	for _, ref := range schema.AllOf {
		sub := resolveSchemaRef(ref, doc)
		if sub == nil {
			continue
		}
		for k, v := range mergeSchemaProperties(sub, doc, depth+1) {
			properties[k] = v
		}
	}
	for k, v := range schema.Properties {
		properties[k] = v
	}

	return properties
}

// isObjectSchema reports whether a schema describes a JSON object.
func isObjectSchema(schema *openapi3.Schema) bool {
	if schema == nil {
		return false
	}
	if schema.Type != nil && len(*schema.Type) > 0 {
		return (*schema.Type)[0] == openapi3.TypeObject
	}
	return len(schema.Properties) > 0 || len(schema.AllOf) > 0
}

// resolveSchemaRef follows a component reference to its schema value.
func resolveSchemaRef(sr *openapi3.SchemaRef, doc *openapi3.T) *openapi3.Schema {
	if sr == nil {
		return nil
	}
	if sr.Ref == "" || sr.Value != nil {
		return sr.Value
	}

	refName := strings.TrimPrefix(sr.Ref, "#/components/schemas/")
	if doc != nil && doc.Components != nil && doc.Components.Schemas != nil {
		if component, ok := doc.Components.Schemas[refName]; ok {
			return component.Value
		}
	}
	return nil
}

// sanitizeToolName maps an operationId or method/path combination onto the
// MCP tool name alphabet.
func sanitizeToolName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_':
			if !lastUnderscore {
				b.WriteRune('_')
			}
			lastUnderscore = true
		default:
			if !lastUnderscore {
				b.WriteRune('_')
			}
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unnamed_operation"
	}
	return out
}

// Close drops the parsed document state.
func (c *OpenAPIClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	c.tools = nil
	c.ops = nil

	return nil
}

// ListTools returns the synthetic tools derived from the document.
func (c *OpenAPIClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return nil, fmt.Errorf("client not connected")
	}

	tools := make([]mcp.Tool, len(c.tools))
	copy(tools, c.tools)
	return tools, nil
}

// CallTool executes the HTTP operation behind a synthetic tool. Declared
// parameters are routed to the path, query string or headers; remaining
// arguments form the JSON body for operations that accept one and are
// appended to the query string otherwise.
func (c *OpenAPIClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	c.mu.RLock()
	connected := c.connected
	op := c.ops[name]
	base := c.base
	c.mu.RUnlock()

	if !connected {
		return nil, fmt.Errorf("client not connected")
	}
	if op == nil {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	remaining := make(map[string]interface{}, len(args))
	for k, v := range args {
		remaining[k] = v
	}

	path := op.path
	query := url.Values{}
	headerParams := make(map[string]string)

	for _, paramRef := range op.params {
		if paramRef == nil || paramRef.Value == nil {
			continue
		}
		param := paramRef.Value
		value, present := remaining[param.Name]
		if !present {
			continue
		}
		text := argumentText(value)
		switch param.In {
		case openapi3.ParameterInPath:
			path = strings.ReplaceAll(path, "{"+param.Name+"}", url.PathEscape(text))
			delete(remaining, param.Name)
		case openapi3.ParameterInQuery:
			query.Set(param.Name, text)
			delete(remaining, param.Name)
		case openapi3.ParameterInHeader:
			headerParams[param.Name] = text
			delete(remaining, param.Name)
		}
	}

	var body io.Reader
	if op.hasBody && len(remaining) > 0 {
		var payload interface{} = remaining
		if rb, ok := remaining["request_body"]; ok && len(remaining) == 1 {
			payload = rb
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		for k, v := range remaining {
			query.Set(k, argumentText(v))
		}
	}

	requestURL := base + path
	if encoded := query.Encode(); encoded != "" {
		requestURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, op.method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headerParams {
		req.Header.Set(k, v)
	}
	if ambient := RequestHeadersFromContext(ctx); ambient != nil {
		for _, header := range c.cfg.PassthroughHeaders {
			if v := ambient.Get(header); v != "" {
				req.Header.Set(header, v)
			}
		}
	}

	logging.Debug("OpenAPIClient", "Calling %s %s for tool %s", op.method, requestURL, name)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOpenAPIResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if resp.StatusCode >= 400 {
		return mcp.NewToolResultError(fmt.Sprintf("%s %s returned HTTP %d: %s", op.method, op.path, resp.StatusCode, text)), nil
	}
	if text == "" {
		text = resp.Status
	}

	return mcp.NewToolResultText(text), nil
}

// argumentText renders a tool argument as a path, query or header value.
// Structured values are encoded as JSON.
func argumentText(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case nil:
		return ""
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", value)
	}
}

// ListPrompts returns an empty list: OpenAPI documents define no prompts.
func (c *OpenAPIClient) ListPrompts(ctx context.Context) ([]mcp.Prompt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return nil, fmt.Errorf("client not connected")
	}
	return []mcp.Prompt{}, nil
}

// GetPrompt always fails: OpenAPI documents define no prompts.
func (c *OpenAPIClient) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*mcp.GetPromptResult, error) {
	return nil, fmt.Errorf("prompt not found: %s", name)
}

// Ping reports readiness of the parsed document. There is no transport to
// probe.
func (c *OpenAPIClient) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return fmt.Errorf("client not connected")
	}
	return nil
}

// OnNotification is a no-op: there is no server side that could notify.
func (c *OpenAPIClient) OnNotification(handler func(mcp.JSONRPCNotification)) {}
