// Package client implements the agent's HTTP client to the broker, the
// counterpart of internal/broker/httpapi: one method per endpoint the poll
// loop needs, grounded on the teacher's cmd/probe httpGet convention
// generalized to carry a bearer PAK and decode/encode JSON both ways.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brokkr-io/brokkr/internal/protocol"
)

// Client talks to one broker over HTTP, authenticating every request with a
// bearer PAK.
type Client struct {
	BaseURL string
	PAK     string
	HTTP    *http.Client
}

// New builds a Client. A nil http.Client gets a 15s default timeout, the
// same suspension-point discipline the broker's own outbound calls use.
func New(baseURL, pak string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{BaseURL: baseURL, PAK: pak, HTTP: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.PAK != "" {
		req.Header.Set("Authorization", "Bearer "+c.PAK)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errResp protocol.ErrorResponse
		if jsonErr := json.Unmarshal(data, &errResp); jsonErr == nil && errResp.Message != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, errResp.Code, errResp.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// AuthPAK verifies the client's PAK and returns the owning principal record.
func (c *Client) AuthPAK(ctx context.Context) (*protocol.PrincipalRecord, error) {
	var out protocol.PrincipalRecord
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/pak", protocol.AuthPAKRequest{PAK: c.PAK}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Heartbeat pings the broker's liveness endpoint for this agent.
func (c *Client) Heartbeat(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/agents/"+agentID+"/heartbeat", nil, nil)
}

// PatchHealth reports an aggregate deployment-health summary for this
// agent's last reconcile cycle (spec §4.8 step 3, opt-in per configuration).
func (c *Client) PatchHealth(ctx context.Context, agentID, status, message string) error {
	return c.do(ctx, http.MethodPatch, "/api/v1/agents/"+agentID+"/health", protocol.PatchHealthRequest{Status: status, Message: message}, nil)
}

// TargetState fetches the current desired-state object list for this agent.
func (c *Client) TargetState(ctx context.Context, agentID string) ([]protocol.DeploymentObjectView, error) {
	var out protocol.TargetStateResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/"+agentID+"/target-state", nil, &out); err != nil {
		return nil, err
	}
	return out.Objects, nil
}

// ReportEvent reports the outcome of applying one DeploymentObject.
func (c *Client) ReportEvent(ctx context.Context, agentID string, req protocol.ReportEventRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/agents/"+agentID+"/events", req, nil)
}

// PendingWorkOrders fetches claimable work orders targeting this agent.
func (c *Client) PendingWorkOrders(ctx context.Context, agentID string) ([]protocol.WorkOrderView, error) {
	var out []protocol.WorkOrderView
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/"+agentID+"/work-orders/pending", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimWorkOrder attempts to claim a pending work order.
func (c *Client) ClaimWorkOrder(ctx context.Context, id string) (*protocol.WorkOrderView, error) {
	var out protocol.WorkOrderView
	if err := c.do(ctx, http.MethodPost, "/api/v1/work-orders/"+id+"/claim", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteWorkOrder reports the outcome of a claimed work order.
func (c *Client) CompleteWorkOrder(ctx context.Context, id string, success bool, message string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/work-orders/"+id+"/complete", protocol.CompleteWorkOrderRequest{Success: success, Message: message}, nil)
}

// PendingDiagnostics fetches claimable diagnostic requests for this agent.
func (c *Client) PendingDiagnostics(ctx context.Context, agentID string) ([]protocol.DiagnosticRequestView, error) {
	var out []protocol.DiagnosticRequestView
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/"+agentID+"/diagnostics/pending", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimDiagnosticRequest attempts to claim a pending diagnostic request.
func (c *Client) ClaimDiagnosticRequest(ctx context.Context, id string) (*protocol.DiagnosticRequestView, error) {
	var out protocol.DiagnosticRequestView
	if err := c.do(ctx, http.MethodPost, "/api/v1/diagnostics/"+id+"/claim", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteDiagnosticRequest posts collected telemetry for a claimed request.
func (c *Client) CompleteDiagnosticRequest(ctx context.Context, id string, req protocol.CompleteDiagnosticRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/diagnostics/"+id+"/complete", req, nil)
}

// PendingWebhookDeliveries fetches claimable agent-scoped webhook deliveries.
func (c *Client) PendingWebhookDeliveries(ctx context.Context, agentID string) ([]protocol.PendingDeliveryView, error) {
	var out []protocol.PendingDeliveryView
	if err := c.do(ctx, http.MethodGet, "/api/v1/agents/"+agentID+"/webhook-deliveries/pending", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportWebhookDeliveryOutcome reports the outcome of an attempted delivery.
func (c *Client) ReportWebhookDeliveryOutcome(ctx context.Context, id string, success bool, errMsg string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/webhook-deliveries/"+id+"/outcome", protocol.WebhookDeliveryOutcomeRequest{Success: success, Error: errMsg}, nil)
}
