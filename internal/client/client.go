// Package client is the HTTP client the CLI uses to talk to a running
// gate server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cmdgate/cmdgate/pkg/types"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// DeniedError is returned by Exec when the gate refuses to run the command.
type DeniedError struct {
	Verdict types.EvaluationResult
}

func (e *DeniedError) Error() string {
	if e.Verdict.Reason != "" {
		return "command denied: " + e.Verdict.Reason
	}
	return "command denied"
}

func (c *Client) Evaluate(ctx context.Context, req types.CommandRequest) (types.EvaluationResult, error) {
	var out types.EvaluationResult
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/evaluate", nil, req, &out)
	return out, err
}

func (c *Client) Exec(ctx context.Context, req types.CommandRequest) (types.ExecResponse, error) {
	var out types.ExecResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/exec", nil, req, &out)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusForbidden {
		var verdict types.EvaluationResult
		if json.Unmarshal(se.body, &verdict) == nil {
			return out, &DeniedError{Verdict: verdict}
		}
	}
	return out, err
}

func (c *Client) Policy(ctx context.Context) (types.PolicyDocument, error) {
	var out types.PolicyDocument
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/policy", nil, nil, &out)
	return out, err
}

func (c *Client) SetPolicy(ctx context.Context, doc types.PolicyDocument) (types.PolicyDocument, error) {
	var out types.PolicyDocument
	err := c.doJSON(ctx, http.MethodPut, "/api/v1/policy", nil, doc, &out)
	return out, err
}

func (c *Client) AddRule(ctx context.Context, rule types.Rule, index *int) (types.PolicyDocument, error) {
	body := map[string]any{
		"pattern": rule.Pattern,
		"action":  rule.Action,
		"enabled": rule.Enabled,
	}
	if len(rule.Shells) > 0 {
		body["shells"] = rule.Shells
	}
	if rule.Description != "" {
		body["description"] = rule.Description
	}
	if index != nil {
		body["index"] = *index
	}
	var out types.PolicyDocument
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/policy/rules", nil, body, &out)
	return out, err
}

func (c *Client) RemoveRule(ctx context.Context, index int) (types.PolicyDocument, error) {
	var out types.PolicyDocument
	err := c.doJSON(ctx, http.MethodDelete, "/api/v1/policy/rules/"+strconv.Itoa(index), nil, nil, &out)
	return out, err
}

func (c *Client) SearchEvents(ctx context.Context, q url.Values) ([]types.Event, error) {
	var out []types.Event
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/events/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type statusError struct {
	method string
	path   string
	status string
	code   int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: %s: %s", e.method, e.path, e.status, strings.TrimSpace(string(e.body)))
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &statusError{method: method, path: path, status: resp.Status, code: resp.StatusCode, body: b}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
