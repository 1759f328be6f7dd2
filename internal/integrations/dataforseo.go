package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"agencyflow/backend/pkg/models"
)

const (
	defaultSERPEndpoint = "/v3/serp/google/organic/live/advanced"
	dataForSEOPingPath  = "/v3/appendix/user_data"

	// DataForSEO reports cost in USD; one platform credit is one cent.
	dataForSEOCreditsPerDollar = 100

	defaultSearchCost = 5
)

// DataForSEOAdapter calls the DataForSEO live SERP/keyword APIs.
type DataForSEOAdapter struct {
	baseURL string
	client  *Client
}

// NewDataForSEOAdapter creates a DataForSEOAdapter against the given base URL.
func NewDataForSEOAdapter(baseURL string, client *Client) *DataForSEOAdapter {
	return &DataForSEOAdapter{baseURL: baseURL, client: client}
}

func (a *DataForSEOAdapter) Kind() models.IntegrationType {
	return models.IntegrationDataForSEO
}

func (a *DataForSEOAdapter) EstimateCost(params map[string]interface{}) int64 {
	return estimateFromParams(params, defaultSearchCost)
}

func (a *DataForSEOAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	login := req.Config.Credentials["login"]
	password := req.Config.Credentials["password"]
	if login == "" || password == "" {
		return nil, newError(ErrorAuthFailure, false, "dataforseo credentials missing for tenant %s", req.Config.TenantID)
	}

	if req.DryRun {
		return a.ping(ctx, login, password)
	}

	endpoint, _ := req.Params["endpoint"].(string)
	if endpoint == "" {
		endpoint = defaultSERPEndpoint
	}
	task := map[string]interface{}{}
	for k, v := range req.Params {
		if k != "endpoint" && k != "credits_cost" {
			task[k] = v
		}
	}
	if _, ok := task["keyword"]; !ok {
		return nil, newError(ErrorInvalidParams, false, "dataforseo step requires a keyword parameter")
	}

	body, err := json.Marshal([]interface{}{task})
	if err != nil {
		return nil, newError(ErrorInvalidParams, false, "failed to encode task: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, newError(ErrorInvalidParams, false, "failed to build request: %v", err)
	}
	httpReq.SetBasicAuth(login, password)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if ierr := classifyStatus(resp.StatusCode, string(raw)); ierr != nil {
		return nil, ierr
	}

	var payload struct {
		StatusCode int     `json:"status_code"`
		Cost       float64 `json:"cost"`
		Tasks      []struct {
			StatusCode int                      `json:"status_code"`
			Result     []map[string]interface{} `json:"result"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, newError(ErrorUpstream, true, "failed to decode response: %v", err)
	}
	// DataForSEO wraps per-task errors in a 200 envelope.
	if payload.StatusCode >= 40000 {
		return nil, newError(ErrorUpstream, true, "dataforseo error status %d", payload.StatusCode)
	}

	var results []map[string]interface{}
	for _, t := range payload.Tasks {
		results = append(results, t.Result...)
	}

	cost := int64(payload.Cost * dataForSEOCreditsPerDollar)
	if cost < 1 {
		cost = 1
	}
	charged, partial := capCost(cost, req.CostCeiling)

	return &Result{
		Payload: map[string]interface{}{
			"results": results,
		},
		CostIncurred: charged,
		Partial:      partial,
	}, nil
}

// ping validates credentials against the account endpoint without incurring
// any task cost.
func (a *DataForSEOAdapter) ping(ctx context.Context, login, password string) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+dataForSEOPingPath, nil)
	if err != nil {
		return nil, newError(ErrorInvalidParams, false, "failed to build request: %v", err)
	}
	httpReq.SetBasicAuth(login, password)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if ierr := classifyStatus(resp.StatusCode, string(raw)); ierr != nil {
		return nil, ierr
	}

	return &Result{
		Payload:      map[string]interface{}{"message": fmt.Sprintf("dataforseo credentials valid for %s", login)},
		CostIncurred: 0,
	}, nil
}
