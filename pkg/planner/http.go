package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tekhne-dev/tekhne/pkg/core"
)

// HTTPPlanner delegates planning to an external HTTP service. The service
// receives the goal and the capability catalog of the snapshot and answers
// with a step proposal; this is the seam where an LLM-backed planner plugs
// in without the runtime knowing.
type HTTPPlanner struct {
	endpoint string
	client   *http.Client
}

// HTTPPlannerOption configures an HTTPPlanner.
type HTTPPlannerOption func(*HTTPPlanner)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) HTTPPlannerOption {
	return func(p *HTTPPlanner) {
		if client != nil {
			p.client = client
		}
	}
}

// NewHTTPPlanner builds a planner that POSTs plan requests to endpoint.
func NewHTTPPlanner(endpoint string, opts ...HTTPPlannerOption) *HTTPPlanner {
	p := &HTTPPlanner{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// planRequest is the wire form of a planning request.
type planRequest struct {
	Goal         string           `json:"goal"`
	Params       map[string]any   `json:"params,omitempty"`
	Capabilities []capabilitySpec `json:"capabilities"`
}

// capabilitySpec describes one invocable capability to the service.
type capabilitySpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Skill       string          `json:"skill,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// planResponse is the wire form of a planning response.
type planResponse struct {
	Steps []core.ProposedStep `json:"steps"`
}

// Propose implements core.Planner.
func (p *HTTPPlanner) Propose(ctx context.Context, goal core.Goal, snap core.Snapshot) ([]core.ProposedStep, error) {
	caps := snap.Capabilities()
	req := planRequest{
		Goal:         goal.Text,
		Params:       goal.Params,
		Capabilities: make([]capabilitySpec, 0, len(caps)),
	}
	for _, capability := range caps {
		spec := capabilitySpec{
			Name:        capability.Name,
			Description: capability.Description,
			Skill:       capability.Skill,
		}
		if raw := capability.InputSchema.Raw(); raw != nil {
			spec.InputSchema = json.RawMessage(raw)
		}
		req.Capabilities = append(req.Capabilities, spec)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal plan request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create plan request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("planner call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("planner returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var planResp planResponse
	if err := json.NewDecoder(resp.Body).Decode(&planResp); err != nil {
		return nil, fmt.Errorf("decode plan response: %w", err)
	}
	return planResp.Steps, nil
}
