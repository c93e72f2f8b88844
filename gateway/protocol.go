package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hupe1980/agentgate/core"
)

// protocolBackend reaches a remote MCP tool server over streamable HTTP. The
// session is a persistent bidirectional channel, established lazily on first
// use and cached per bearer token so concurrent invocations with different
// credentials never share a channel. A failed call drops the cached session;
// the next call reconnects.
type protocolBackend struct {
	target     Target
	httpClient *http.Client

	mu       sync.Mutex
	sessions map[string]*mcp.ClientSession
}

var _ backend = (*protocolBackend)(nil)

func newProtocolBackend(target Target, httpClient *http.Client) *protocolBackend {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &protocolBackend{
		target:     target,
		httpClient: httpClient,
		sessions:   make(map[string]*mcp.ClientSession),
	}
}

// CallTool forwards one call over the MCP session using the invocation's
// bearer token. The token is passed through unchanged; the backend never mints
// or caches tokens of its own.
func (b *protocolBackend) CallTool(ctx context.Context, toolName string, args map[string]any, bearer string) (any, error) {
	session, err := b.session(ctx, bearer)
	if err != nil {
		return nil, err
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		b.drop(bearer, session)
		return nil, b.classifyCallError(toolName, err)
	}

	if res.IsError {
		// Tool-level failure reported by the server. Not retryable: the server
		// answered, the tool itself rejected the call.
		return nil, fmt.Errorf("tool %s failed on target %q: %s", toolName, b.target.Name, contentText(res))
	}

	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}

	return contentText(res), nil
}

func (b *protocolBackend) session(ctx context.Context, bearer string) (*mcp.ClientSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.sessions[bearer]; ok {
		return s, nil
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "agentgate", Version: "0.1.0"}, nil)

	transport := &mcp.StreamableClientTransport{
		Endpoint:   b.target.Endpoint,
		HTTPClient: &http.Client{Transport: &bearerRoundTripper{base: b.httpClient.Transport, token: bearer}},
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		if isAuthRejection(err) {
			return nil, &core.AuthError{Target: b.target.Name, Reason: err.Error()}
		}
		// Unreachable endpoint: a per-call routing failure, the session stays
		// down and other targets remain usable.
		return nil, &core.RoutingError{
			Name:   b.target.Name,
			Reason: fmt.Sprintf("connect %s: %v", b.target.Endpoint, err),
		}
	}

	b.sessions[bearer] = session

	return session, nil
}

func (b *protocolBackend) drop(bearer string, session *mcp.ClientSession) {
	b.mu.Lock()
	if b.sessions[bearer] == session {
		delete(b.sessions, bearer)
	}
	b.mu.Unlock()

	_ = session.Close()
}

func (b *protocolBackend) classifyCallError(toolName string, err error) error {
	if isAuthRejection(err) {
		return &core.AuthError{Target: b.target.Name, Reason: err.Error()}
	}

	// A wire error carrying a JSON-RPC code means the server understood and
	// rejected the request; retrying would not help.
	var wireErr *jsonrpc.Error
	if errors.As(err, &wireErr) {
		return err
	}

	// Timeouts and broken channels are retryable after reconnect.
	return &core.TransientBackendError{Target: b.target.Name, Tool: toolName, Err: err}
}

func isAuthRejection(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(strings.ToLower(msg), "unauthorized") ||
		strings.Contains(strings.ToLower(msg), "forbidden")
}

func contentText(res *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// bearerRoundTripper forwards the invocation's bearer token as an
// Authorization header on every request of the MCP session.
type bearerRoundTripper struct {
	base  http.RoundTripper
	token string
}

func (t *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	clone := req.Clone(req.Context())
	if t.token != "" {
		clone.Header.Set("Authorization", "Bearer "+t.token)
	}

	return base.RoundTrip(clone)
}
