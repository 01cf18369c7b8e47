package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// maxToolboxResponseSize bounds the body read from the toolbox server.
const maxToolboxResponseSize = 1 << 20

// ErrToolboxStatus is returned when the toolbox answers with a non-2xx status.
var ErrToolboxStatus = errors.New("toolbox returned an error status")

// StatusError carries the status code of a failed toolbox response.
// It matches ErrToolboxStatus with errors.Is.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %d", ErrToolboxStatus, e.StatusCode)
	}
	return fmt.Sprintf("%s %d: %s", ErrToolboxStatus, e.StatusCode, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrToolboxStatus
}

// Manifest lists remote tools served by a toolbox.
type Manifest struct {
	Tools []ManifestTool `yaml:"tools"`
}

// ManifestTool describes one remote tool.
type ManifestTool struct {
	Name         string              `yaml:"name"`
	Description  string              `yaml:"description"`
	Parameters   []ManifestParameter `yaml:"parameters"`
	AuthRequired []string            `yaml:"auth_required"`
}

// ManifestParameter describes one argument of a remote tool.
type ManifestParameter struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	// Required defaults to true when omitted.
	Required *bool `yaml:"required"`
}

// ParseManifest decodes a YAML tool manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse toolbox manifest: %w", err)
	}
	for i, tool := range m.Tools {
		if strings.TrimSpace(tool.Name) == "" {
			return nil, fmt.Errorf("manifest tool %d: %w", i, ErrEmptyName)
		}
	}
	return &m, nil
}

// LoadManifest reads and decodes a YAML tool manifest from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read toolbox manifest: %w", err)
	}
	return ParseManifest(data)
}

// ToolboxClient talks to a toolbox server over HTTP.
type ToolboxClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// ToolboxOption configures a ToolboxClient.
type ToolboxOption func(*ToolboxClient)

// WithHTTPClient sets the HTTP client used for toolbox calls.
func WithHTTPClient(client *http.Client) ToolboxOption {
	return func(c *ToolboxClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithClientHeader adds a header sent on every toolbox request.
func WithClientHeader(key, value string) ToolboxOption {
	return func(c *ToolboxClient) {
		c.headers[key] = value
	}
}

// NewToolboxClient creates a client for the toolbox at baseURL.
func NewToolboxClient(baseURL string, opts ...ToolboxOption) *ToolboxClient {
	c := &ToolboxClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		headers: map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ToolsFromManifest builds the remote tools listed in m.
func (c *ToolboxClient) ToolsFromManifest(m *Manifest) []Tool {
	out := make([]Tool, 0, len(m.Tools))
	for _, t := range m.Tools {
		out = append(out, &RemoteTool{client: c, desc: manifestDescriptor(t)})
	}
	return out
}

// serverManifest is the toolset manifest served at /api/toolset/{name}.
type serverManifest struct {
	ServerVersion string                    `json:"serverVersion"`
	Tools         map[string]serverToolSpec `json:"tools"`
}

type serverToolSpec struct {
	Description string `json:"description"`
	Parameters  []struct {
		Name        string   `json:"name"`
		Type        string   `json:"type"`
		Description string   `json:"description"`
		AuthSources []string `json:"authSources"`
	} `json:"parameters"`
	AuthRequired []string `json:"authRequired"`
}

// LoadToolset fetches the manifest of a named toolset from the server.
// Parameters bound to an auth source are filled in by the server from the
// credential header, so they are not exposed to the model.
func (c *ToolboxClient) LoadToolset(ctx context.Context, toolset string) ([]Tool, error) {
	endpoint := c.baseURL + "/api/toolset/" + url.PathEscape(toolset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build toolset request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load toolset %s: %w", toolset, err)
	}

	var m serverManifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode toolset %s: %w", toolset, err)
	}

	tools := make([]ManifestTool, 0, len(m.Tools))
	for name, def := range m.Tools {
		mt := ManifestTool{Name: name, Description: def.Description, AuthRequired: def.AuthRequired}
		for _, p := range def.Parameters {
			if len(p.AuthSources) > 0 {
				mt.AuthRequired = append(mt.AuthRequired, p.AuthSources...)
				continue
			}
			mt.Parameters = append(mt.Parameters, ManifestParameter{Name: p.Name, Type: p.Type, Description: p.Description})
		}
		tools = append(tools, mt)
	}
	// Map iteration order is random; registration order must be stable.
	sortManifestTools(tools)
	return c.ToolsFromManifest(&Manifest{Tools: tools}), nil
}

// Invoke calls a remote tool and returns the content of its result.
func (c *ToolboxClient) Invoke(ctx context.Context, name string, args json.RawMessage, creds Credentials) (string, error) {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	endpoint := c.baseURL + "/api/tool/" + url.PathEscape(name) + "/invoke"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(args))
	if err != nil {
		return "", fmt.Errorf("failed to build tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for capability, getter := range creds {
		if getter == nil {
			continue
		}
		if token, ok := getter(); ok && token != "" {
			req.Header.Set(string(capability)+"_token", token)
		}
	}

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var payload struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode tool response: %w", err)
	}
	var text string
	if err := json.Unmarshal(payload.Result, &text); err == nil {
		return text, nil
	}
	return string(payload.Result), nil
}

func (c *ToolboxClient) do(req *http.Request) ([]byte, error) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxToolboxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read toolbox response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		if json.Unmarshal(body, &failure) == nil {
			statusErr.Message = failure.Error
		}
		return nil, statusErr
	}
	return body, nil
}

// RemoteTool is a tool executed by the toolbox server.
type RemoteTool struct {
	client *ToolboxClient
	desc   Descriptor
}

// Descriptor returns the tool descriptor.
func (t *RemoteTool) Descriptor() Descriptor {
	return t.desc
}

// Invoke forwards the call to the toolbox.
func (t *RemoteTool) Invoke(ctx context.Context, args json.RawMessage, creds Credentials) (*Result, error) {
	content, err := t.client.Invoke(ctx, t.desc.Name, args, creds)
	if err != nil {
		return nil, err
	}
	return &Result{Content: content}, nil
}

var _ Tool = (*RemoteTool)(nil)

func manifestDescriptor(t ManifestTool) Descriptor {
	properties := make(map[string]any, len(t.Parameters))
	required := []string{}
	for _, p := range t.Parameters {
		paramType := p.Type
		if paramType == "" {
			paramType = "string"
		}
		properties[p.Name] = map[string]any{
			"type":        paramType,
			"description": p.Description,
		}
		if p.Required == nil || *p.Required {
			required = append(required, p.Name)
		}
	}

	caps := make([]Capability, 0, len(t.AuthRequired))
	for _, a := range t.AuthRequired {
		caps = append(caps, Capability(strings.TrimSpace(a)))
	}

	return Descriptor{
		Name:        strings.TrimSpace(t.Name),
		Description: t.Description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
		Requires: NewCapabilitySet(caps...),
	}
}

func sortManifestTools(tools []ManifestTool) {
	slices.SortFunc(tools, func(a, b ManifestTool) int {
		return strings.Compare(a.Name, b.Name)
	})
}
