package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"agencyflow/backend/pkg/models"
)

const defaultHTTPCost = 1

// HTTPAdapter performs a plain HTTP call for integrations that have no
// dedicated adapter. The step's params supply method, url, headers, and an
// optional JSON body.
type HTTPAdapter struct {
	client *Client
}

// NewHTTPAdapter creates an HTTPAdapter.
func NewHTTPAdapter(client *Client) *HTTPAdapter {
	return &HTTPAdapter{client: client}
}

func (a *HTTPAdapter) Kind() models.IntegrationType {
	return models.IntegrationHTTP
}

func (a *HTTPAdapter) EstimateCost(params map[string]interface{}) int64 {
	return estimateFromParams(params, defaultHTTPCost)
}

func (a *HTTPAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	rawURL, _ := req.Params["url"].(string)
	if rawURL == "" && req.Config != nil {
		rawURL = req.Config.BaseURL
	}
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, newError(ErrorInvalidParams, false, "http step requires an absolute url, got %q", rawURL)
	}

	method, _ := req.Params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	if req.DryRun {
		// Validation only: reachability check without side effects.
		method = http.MethodHead
	}

	var body io.Reader
	if payload, ok := req.Params["body"]; ok && !req.DryRun {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, newError(ErrorInvalidParams, false, "failed to encode body: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, newError(ErrorInvalidParams, false, "failed to build request: %v", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := req.Params["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				httpReq.Header.Set(k, s)
			}
		}
	}
	if req.Config != nil {
		if token := req.Config.Credentials["bearer_token"]; token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if ierr := classifyStatus(resp.StatusCode, string(raw)); ierr != nil {
		return nil, ierr
	}

	payload := map[string]interface{}{
		"status_code": resp.StatusCode,
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		payload["body"] = decoded
	} else if len(raw) > 0 {
		payload["body"] = string(raw)
	}

	cost := int64(0)
	partial := false
	if !req.DryRun {
		cost, partial = capCost(a.EstimateCost(req.Params), req.CostCeiling)
	}

	return &Result{
		Payload:      payload,
		CostIncurred: cost,
		Partial:      partial,
	}, nil
}
