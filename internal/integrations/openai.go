package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"agencyflow/backend/pkg/models"
)

const (
	chatCompletionsPath = "/v1/chat/completions"
	listModelsPath      = "/v1/models"

	defaultModel          = "gpt-4o-mini"
	defaultCompletionCost = 10

	// One credit buys a thousand tokens of completion usage.
	tokensPerCredit = 1000
)

// OpenAIAdapter calls the OpenAI chat completions API.
type OpenAIAdapter struct {
	baseURL string
	client  *Client
}

// NewOpenAIAdapter creates an OpenAIAdapter against the given base URL.
func NewOpenAIAdapter(baseURL string, client *Client) *OpenAIAdapter {
	return &OpenAIAdapter{baseURL: baseURL, client: client}
}

func (a *OpenAIAdapter) Kind() models.IntegrationType {
	return models.IntegrationOpenAI
}

func (a *OpenAIAdapter) EstimateCost(params map[string]interface{}) int64 {
	return estimateFromParams(params, defaultCompletionCost)
}

func (a *OpenAIAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	apiKey := req.Config.Credentials["api_key"]
	if apiKey == "" {
		return nil, newError(ErrorAuthFailure, false, "openai api key missing for tenant %s", req.Config.TenantID)
	}

	if req.DryRun {
		return a.ping(ctx, apiKey)
	}

	userPrompt, _ := req.Params["user_prompt"].(string)
	if userPrompt == "" {
		return nil, newError(ErrorInvalidParams, false, "openai step requires a user_prompt parameter")
	}
	systemPrompt, _ := req.Params["system_prompt"].(string)
	model, _ := req.Params["model"].(string)
	if model == "" {
		model = defaultModel
	}

	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})

	payload := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if maxTokens, ok := req.Params["max_tokens"].(float64); ok && maxTokens > 0 {
		payload["max_completion_tokens"] = int(maxTokens)
	}
	if jsonMode, _ := req.Params["json_response"].(bool); jsonMode {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, newError(ErrorInvalidParams, false, "failed to encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, newError(ErrorInvalidParams, false, "failed to build request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
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

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
			TotalTokens      int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &completion); err != nil {
		return nil, newError(ErrorUpstream, true, "failed to decode response: %v", err)
	}
	if len(completion.Choices) == 0 {
		return nil, newError(ErrorUpstream, true, "completion returned no choices")
	}

	cost := completion.Usage.TotalTokens / tokensPerCredit
	if cost < 1 {
		cost = 1
	}
	charged, partial := capCost(cost, req.CostCeiling)

	return &Result{
		Payload: map[string]interface{}{
			"content":       completion.Choices[0].Message.Content,
			"model":         model,
			"total_tokens":  completion.Usage.TotalTokens,
			"finish_reason": completion.Choices[0].FinishReason,
		},
		CostIncurred: charged,
		Partial:      partial,
	}, nil
}

func (a *OpenAIAdapter) ping(ctx context.Context, apiKey string) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+listModelsPath, nil)
	if err != nil {
		return nil, newError(ErrorInvalidParams, false, "failed to build request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

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
		Payload:      map[string]interface{}{"message": "openai credentials valid"},
		CostIncurred: 0,
	}, nil
}
