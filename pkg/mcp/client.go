// Package mcp bridges Tekhne and the Model Context Protocol. It provides a
// retrying client for remote MCP servers, a connector that imports server
// tools as skills, a directory that resolves mcp: handler references from
// manifests, and a stdio server that exports registered capabilities to
// MCP hosts.
package mcp

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tekhne-dev/tekhne/pkg/resilience"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultRetries     = 2
	defaultBackoff     = 200 * time.Millisecond
	defaultMaxBackoff  = 10 * time.Second
	defaultCacheTTL    = 30 * time.Second
	defaultDialTimeout = 10 * time.Second
)

// clientName identifies this client to MCP servers during initialization.
const clientName = "tekhne-client"

// RPCClient is the subset of the mcp-go client surface the wrapper uses.
// *client.Client satisfies it.
type RPCClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// ClientOption customizes the MCP client wrapper behavior.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry configures retry count and initial backoff. Retries cover
// transport failures only; context cancellation and deadline expiry are
// terminal.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.maxRetries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithToolCacheTTL sets the tool discovery cache TTL. Use 0 to disable caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client wraps an mcp-go client with per-request timeouts, bounded retries
// with exponential backoff, and tool discovery caching.
type Client struct {
	rpc        RPCClient
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	cacheTTL   time.Duration
	retry      resilience.RetryConfig

	mu          sync.Mutex
	toolsCache  []mcp.Tool
	cacheExpiry time.Time
}

// NewClient wraps an already-connected MCP client implementation.
func NewClient(rpc RPCClient, opts ...ClientOption) *Client {
	c := &Client{
		rpc:        rpc,
		timeout:    defaultTimeout,
		maxRetries: defaultRetries,
		backoff:    defaultBackoff,
		cacheTTL:   defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry = resilience.RetryConfig{
		MaxAttempts:   c.maxRetries + 1,
		InitialDelay:  c.backoff,
		MaxDelay:      defaultMaxBackoff,
		Multiplier:    2.0,
		IsRecoverable: retryableTransportError,
	}
	return c
}

// NewClientWithStdio starts an MCP server subprocess and connects to it
// over stdio. Entries in env are appended to the inherited environment.
func NewClientWithStdio(ctx context.Context, command string, args []string, env map[string]string, opts ...ClientOption) (*Client, error) {
	stdioClient, err := client.NewStdioMCPClient(command, envSlice(env), args...)
	if err != nil {
		return nil, err
	}
	if err := initialize(ctx, stdioClient); err != nil {
		_ = stdioClient.Close()
		return nil, err
	}
	return NewClient(stdioClient, opts...), nil
}

// NewClientWithStreamableHTTP connects to an MCP server over streamable HTTP.
func NewClientWithStreamableHTTP(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	t, err := transport.NewStreamableHTTP(url)
	if err != nil {
		return nil, err
	}
	httpClient := client.NewClient(t)

	startCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := httpClient.Start(startCtx); err != nil {
		return nil, err
	}
	if err := initialize(ctx, httpClient); err != nil {
		_ = httpClient.Close()
		return nil, err
	}
	return NewClient(httpClient, opts...), nil
}

func initialize(ctx context.Context, c *client.Client) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: "0.1.0",
	}
	_, err := c.Initialize(initCtx, req)
	return err
}

// ListTools retrieves the list of tools available on the server.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if cached := c.cachedTools(); cached != nil {
		return cached, nil
	}

	var tools []mcp.Tool
	err := c.retry.Do(ctx, func() error {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		res, err := c.rpc.ListTools(reqCtx, mcp.ListToolsRequest{})
		if err != nil {
			return err
		}
		tools = res.Tools
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.storeTools(tools)
	return tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	err := c.retry.Do(ctx, func() error {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		res, err := c.rpc.CallTool(reqCtx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func (c *Client) cachedTools() []mcp.Tool {
	if c.cacheTTL == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toolsCache) == 0 || time.Now().After(c.cacheExpiry) {
		return nil
	}
	out := make([]mcp.Tool, len(c.toolsCache))
	copy(out, c.toolsCache)
	return out
}

func (c *Client) storeTools(tools []mcp.Tool) {
	if c.cacheTTL == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsCache = make([]mcp.Tool, len(tools))
	copy(c.toolsCache, tools)
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// retryableTransportError reports whether a request error is worth another
// attempt. Context cancellation and deadline expiry are terminal.
func retryableTransportError(err error) bool {
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
