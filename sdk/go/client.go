package atriumformssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal AtriumForms HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Option is one normalized choice.
type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// ResolvedItem is one unit of prefill data.
type ResolvedItem struct {
	Kind    string          `json:"kind"`
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Choices []Option        `json:"choices,omitempty"`
}

// PrefillResult pairs the resolved items with the requested keys the server
// did not recognize. Unknown keys are informational, never an error.
type PrefillResult struct {
	Items       []ResolvedItem `json:"items"`
	UnknownKeys []string       `json:"unknown_keys,omitempty"`
}

// Instance represents the API form-instance model.
type Instance struct {
	ID               string          `json:"id"`
	InstallationCode string          `json:"installation_code"`
	FormCode         string          `json:"form_code"`
	Status           string          `json:"status"`
	DraftRev         int64           `json:"draft_rev"`
	Answers          json.RawMessage `json:"answers"`
	Definition       json.RawMessage `json:"definition,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

// RiskRow is one performance requirement row for risk computation.
type RiskRow struct {
	GebruikersfunctieKey   string `json:"gebruikersfunctie_key"`
	RowLabel               string `json:"row_label,omitempty"`
	Doormelding            string `json:"doormelding"`
	AutomatischeMelders    int    `json:"automatische_melders"`
	Handbrandmelders       int    `json:"handbrandmelders"`
	Vlamdetectie           int    `json:"vlamdetectie"`
	LijnvormigeRookmelders int    `json:"lijnvormige_rookmelders"`
	AspiratieOpeningen     int    `json:"aspiratie_openingen"`
}

// RiskRowResult carries per-row computed maxima.
type RiskRowResult struct {
	GebruikersfunctieKey string   `json:"gebruikersfunctie_key"`
	RowLabel             string   `json:"row_label,omitempty"`
	Doormelding          string   `json:"doormelding"`
	Weighted             int      `json:"weighted"`
	InternMax            *float64 `json:"intern_max"`
	ExternMax            *float64 `json:"extern_max"`
}

// RiskResult is the full risk computation response.
type RiskResult struct {
	Normering string          `json:"normering"`
	PerRow    []RiskRowResult `json:"per_row"`
	Totals    struct {
		InternTotal *float64 `json:"intern_total"`
		ExternTotal *float64 `json:"extern_total"`
	} `json:"totals"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsConflict reports whether the error is a draft_rev or transition conflict.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// Prefill resolves keys for an installation and form. The unknown-keys set is
// derived client side as requested minus resolved.
func (c *Client) Prefill(ctx context.Context, installation, form string, keys []string) (PrefillResult, error) {
	var resp struct {
		Items []ResolvedItem `json:"items"`
	}
	endpoint := fmt.Sprintf("installations/%s/forms/%s/prefill", url.PathEscape(installation), url.PathEscape(form))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"keys": keys}, &resp)
	if err != nil {
		return PrefillResult{}, err
	}
	resolved := make(map[string]bool, len(resp.Items))
	for _, item := range resp.Items {
		resolved[item.Key] = true
	}
	var unknown []string
	for _, k := range keys {
		if !resolved[k] {
			unknown = append(unknown, k)
		}
	}
	return PrefillResult{Items: resp.Items, UnknownKeys: unknown}, nil
}

// instanceEnvelope is the canonical single-instance response shape.
type instanceEnvelope struct {
	Item Instance `json:"item"`
}

// StartInstance creates a new CONCEPT instance.
func (c *Client) StartInstance(ctx context.Context, installation, form string) (Instance, error) {
	var resp instanceEnvelope
	endpoint := fmt.Sprintf("installations/%s/forms/%s/instances", url.PathEscape(installation), url.PathEscape(form))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Item, err
}

// GetInstance fetches an instance by id.
func (c *Client) GetInstance(ctx context.Context, id string) (Instance, error) {
	var resp instanceEnvelope
	err := c.do(ctx, http.MethodGet, "instances/"+url.PathEscape(id), nil, &resp)
	return resp.Item, err
}

// SaveAnswers saves answers under optimistic concurrency. A stale expectedRev
// yields an APIError with code draft_rev_conflict; reload before retrying.
func (c *Client) SaveAnswers(ctx context.Context, id string, answers any, expectedRev int64) (Instance, error) {
	body := map[string]any{
		"answers":            answers,
		"expected_draft_rev": expectedRev,
	}
	var resp instanceEnvelope
	err := c.do(ctx, http.MethodPut, "instances/"+url.PathEscape(id)+"/answers", body, &resp)
	return resp.Item, err
}

// Submit submits an instance. When answers is non-nil the unsaved answers are
// saved first under the same concurrency check.
func (c *Client) Submit(ctx context.Context, id string, answers any, expectedRev int64) (Instance, error) {
	body := map[string]any{}
	if answers != nil {
		body["answers"] = answers
		body["expected_draft_rev"] = expectedRev
	}
	var resp instanceEnvelope
	err := c.do(ctx, http.MethodPost, "instances/"+url.PathEscape(id)+"/submit", body, &resp)
	return resp.Item, err
}

// Withdraw moves an instance to INGETROKKEN.
func (c *Client) Withdraw(ctx context.Context, id string) (Instance, error) {
	return c.transition(ctx, id, "withdraw")
}

// Reopen moves a withdrawn instance back to CONCEPT.
func (c *Client) Reopen(ctx context.Context, id string) (Instance, error) {
	return c.transition(ctx, id, "reopen")
}

func (c *Client) transition(ctx context.Context, id, action string) (Instance, error) {
	var resp instanceEnvelope
	err := c.do(ctx, http.MethodPost, "instances/"+url.PathEscape(id)+"/"+action, nil, &resp)
	return resp.Item, err
}

// ComputeRisk runs the NEN2535 computation for ad hoc rows.
func (c *Client) ComputeRisk(ctx context.Context, normering string, rows []RiskRow) (RiskResult, error) {
	body := map[string]any{
		"normering": normering,
		"rows":      rows,
	}
	var resp RiskResult
	err := c.do(ctx, http.MethodPost, "risk/compute", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	reqURL := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
