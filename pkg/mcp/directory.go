// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
	"github.com/tekhne-dev/tekhne/pkg/manifest"
)

// ServerType indicates how to reach an MCP server.
type ServerType int

const (
	// ServerTypeStdio runs the server as a subprocess and talks over stdio.
	ServerTypeStdio ServerType = iota
	// ServerTypeHTTP talks to a running server over streamable HTTP.
	ServerTypeHTTP
)

// ServerConfig describes one named MCP server.
type ServerConfig struct {
	Name string
	Type ServerType

	// Stdio servers.
	Command string
	Args    []string
	Env     map[string]string

	// HTTP servers.
	URL string

	// ClientOptions apply to the client dialed for this server.
	ClientOptions []ClientOption
}

// Directory holds named MCP server configurations and the shared client
// connections dialed for them. Connections are established on first use
// and reused until Close. Handlers resolved through the directory dial
// lazily, so registering a manifest never requires its server to be up.
type Directory struct {
	logger      *slog.Logger
	dialTimeout time.Duration

	mu      sync.RWMutex
	servers map[string]ServerConfig
	clients map[string]*Client
	closed  bool

	dials      atomic.Int64
	dialErrors atomic.Int64
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithLogger sets the logger for connection events.
func WithLogger(logger *slog.Logger) DirectoryOption {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDialTimeout bounds connection establishment per server.
func WithDialTimeout(timeout time.Duration) DirectoryOption {
	return func(d *Directory) {
		if timeout > 0 {
			d.dialTimeout = timeout
		}
	}
}

// NewDirectory creates an empty server directory.
func NewDirectory(opts ...DirectoryOption) *Directory {
	d := &Directory{
		logger:      slog.Default(),
		dialTimeout: defaultDialTimeout,
		servers:     make(map[string]ServerConfig),
		clients:     make(map[string]*Client),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterStdio registers a server started as a subprocess. Entries in env
// are appended to the inherited environment.
func (d *Directory) RegisterStdio(name, command string, args []string, env map[string]string, opts ...ClientOption) error {
	return d.Register(ServerConfig{
		Name:          name,
		Type:          ServerTypeStdio,
		Command:       command,
		Args:          args,
		Env:           env,
		ClientOptions: opts,
	})
}

// RegisterHTTP registers a server reachable over streamable HTTP.
func (d *Directory) RegisterHTTP(name, url string, opts ...ClientOption) error {
	return d.Register(ServerConfig{
		Name:          name,
		Type:          ServerTypeHTTP,
		URL:           url,
		ClientOptions: opts,
	})
}

// Register adds a server configuration, replacing any previous one with
// the same name. A connection dialed for the previous configuration is
// closed; the next use dials fresh.
func (d *Directory) Register(cfg ServerConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.CodeInvalidInput, "mcp server name is required", nil)
	}
	if cfg.Type == ServerTypeStdio && cfg.Command == "" {
		return errors.New(errors.CodeInvalidInput, "mcp stdio server requires a command", nil).
			WithContext("server", cfg.Name)
	}
	if cfg.Type == ServerTypeHTTP && cfg.URL == "" {
		return errors.New(errors.CodeInvalidInput, "mcp http server requires a url", nil).
			WithContext("server", cfg.Name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New(errors.CodeInternal, "mcp directory is closed", nil)
	}
	if existing, ok := d.clients[cfg.Name]; ok {
		_ = existing.Close()
		delete(d.clients, cfg.Name)
	}
	d.servers[cfg.Name] = cfg
	return nil
}

// Unregister removes a server and closes its connection if one was dialed.
func (d *Directory) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.servers, name)
	if c, ok := d.clients[name]; ok {
		_ = c.Close()
		delete(d.clients, name)
	}
}

// Client returns the shared connection for a named server, dialing it on
// first use.
func (d *Directory) Client(ctx context.Context, name string) (*Client, error) {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return nil, errors.New(errors.CodeInternal, "mcp directory is closed", nil)
	}
	if c, ok := d.clients[name]; ok {
		d.mu.RUnlock()
		return c, nil
	}
	cfg, ok := d.servers[name]
	d.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "mcp server is not registered", nil).
			WithContext("server", name)
	}

	fresh, err := d.dial(ctx, cfg)
	if err != nil {
		d.dialErrors.Add(1)
		return nil, errors.New(errors.CodeInternal, "mcp server connection failed", err).
			WithContext("server", name)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = fresh.Close()
		return nil, errors.New(errors.CodeInternal, "mcp directory is closed", nil)
	}
	if existing, ok := d.clients[name]; ok {
		// Another caller dialed first; keep theirs.
		d.mu.Unlock()
		_ = fresh.Close()
		return existing, nil
	}
	d.clients[name] = fresh
	d.mu.Unlock()

	d.dials.Add(1)
	d.logger.Info("mcp.server.connected", "server", name)
	return fresh, nil
}

func (d *Directory) dial(ctx context.Context, cfg ServerConfig) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	switch cfg.Type {
	case ServerTypeStdio:
		return NewClientWithStdio(dialCtx, cfg.Command, cfg.Args, cfg.Env, cfg.ClientOptions...)
	case ServerTypeHTTP:
		return NewClientWithStreamableHTTP(dialCtx, cfg.URL, cfg.ClientOptions...)
	default:
		return nil, fmt.Errorf("unknown server type %d", cfg.Type)
	}
}

// Resolver resolves handler references of the form mcp:<server>/<tool>.
// The server must be registered at resolution time; the connection is
// dialed on first invocation, not at resolution.
func (d *Directory) Resolver() manifest.HandlerResolver {
	return manifest.ResolverFunc(func(ref string) (core.Handler, error) {
		scheme, rest, err := manifest.SplitRef(ref)
		if err != nil {
			return nil, err
		}
		if scheme != "mcp" {
			return nil, fmt.Errorf("handler reference %q is not an mcp reference", ref)
		}
		server, tool, ok := strings.Cut(rest, "/")
		if !ok || server == "" || tool == "" {
			return nil, fmt.Errorf("handler reference %q must take the form mcp:<server>/<tool>", ref)
		}
		d.mu.RLock()
		_, registered := d.servers[server]
		d.mu.RUnlock()
		if !registered {
			return nil, fmt.Errorf("handler reference %q names unknown mcp server %q", ref, server)
		}
		return d.toolHandler(server, tool), nil
	})
}

func (d *Directory) toolHandler(server, tool string) core.Handler {
	return core.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
		c, err := d.Client(ctx, server)
		if err != nil {
			return nil, err
		}
		res, err := c.CallTool(ctx, tool, args)
		if err != nil {
			return nil, err
		}
		return toolOutput(tool, res)
	})
}

// ImportSkill imports the tools of a registered server as a skill.
func (d *Directory) ImportSkill(ctx context.Context, server, name, version string) (*core.Skill, error) {
	c, err := d.Client(ctx, server)
	if err != nil {
		return nil, err
	}
	connector, err := NewConnector(c, WithSourceName(server), WithConnectorLogger(d.logger))
	if err != nil {
		return nil, err
	}
	return connector.ImportSkill(ctx, name, version)
}

// HealthChecker probes every dialed connection with a tool listing.
// Registered servers that were never dialed are not probed.
func (d *Directory) HealthChecker() core.HealthChecker {
	return core.NewFunctionHealthChecker(func(ctx context.Context) core.HealthResult {
		d.mu.RLock()
		clients := make(map[string]*Client, len(d.clients))
		for name, c := range d.clients {
			clients[name] = c
		}
		registered := len(d.servers)
		d.mu.RUnlock()

		result := core.HealthResult{
			Status:    core.HealthHealthy,
			Component: "mcp",
			LastCheck: time.Now(),
		}
		if len(clients) == 0 {
			result.Message = fmt.Sprintf("no active connections (%d registered)", registered)
			return result
		}

		var failed []string
		for name, c := range clients {
			if _, err := c.ListTools(ctx); err != nil {
				failed = append(failed, name)
				result.Error = err
			}
		}
		sort.Strings(failed)
		switch {
		case len(failed) == 0:
			result.Message = fmt.Sprintf("%d connections healthy", len(clients))
		case len(failed) < len(clients):
			result.Status = core.HealthDegraded
			result.Message = "unreachable: " + strings.Join(failed, ", ")
		default:
			result.Status = core.HealthUnhealthy
			result.Message = "unreachable: " + strings.Join(failed, ", ")
		}
		return result
	})
}

// Servers returns the names of all registered servers, sorted.
func (d *Directory) Servers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.servers))
	for name := range d.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DirectoryStats reports directory counters.
type DirectoryStats struct {
	RegisteredServers int
	ActiveConnections int
	Dials             int
	DialErrors        int
}

// Stats returns current directory statistics.
func (d *Directory) Stats() DirectoryStats {
	d.mu.RLock()
	servers := len(d.servers)
	conns := len(d.clients)
	d.mu.RUnlock()
	return DirectoryStats{
		RegisteredServers: servers,
		ActiveConnections: conns,
		Dials:             int(d.dials.Load()),
		DialErrors:        int(d.dialErrors.Load()),
	}
}

// Close closes every dialed connection. The directory cannot be reused.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for name, c := range d.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	d.clients = nil
	d.servers = nil
	return stderrors.Join(errs...)
}
