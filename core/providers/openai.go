package providers

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements Provider on the OpenAI Responses API.
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.MaxTokens == 0 {
		config.MaxTokens = 8192
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	client := openai.NewClient(opts...)

	return &OpenAIProvider{
		client: &client,
		config: config,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return string(ProviderTypeOpenAI)
}

func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	params := p.buildParams(req)

	result, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, p.classifyError(err)
	}

	return p.convertResponse(result), nil
}

func (p *OpenAIProvider) classifyError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return classifyStatus(p.Name(), apierr.StatusCode, retryAfterFromHeader(apierr.Response), err)
	}
	return classifyTransport(p.Name(), err)
}

func (p *OpenAIProvider) buildParams(req *Request) responses.ResponseNewParams {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: p.convertMessages(req.Messages, req.SystemPrompt),
		},
		MaxOutputTokens: openai.Int(int64(maxTokens)),
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if len(req.Tools) > 0 {
		params.Tools = p.convertTools(req.Tools)
	}

	return params
}

func (p *OpenAIProvider) convertMessages(messages []Message, systemPrompt string) responses.ResponseInputParam {
	result := make(responses.ResponseInputParam, 0, len(messages)+1)

	if systemPrompt != "" {
		result = append(result, responses.ResponseInputItemParamOfMessage(systemPrompt, responses.EasyInputMessageRoleSystem))
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleSystem))
		case RoleUser:
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		case RoleAssistant:
			if msg.Content != "" || len(msg.ToolCalls) == 0 {
				result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			// replay requested calls so later outputs have a referent
			for _, tc := range msg.ToolCalls {
				result = append(result, responses.ResponseInputItemParamOfFunctionCall(tc.Arguments, tc.ID, tc.Name))
			}
		case RoleTool:
			result = append(result, responses.ResponseInputItemParamOfFunctionCallOutput(msg.ToolCallID, msg.Content))
		}
	}

	return result
}

func (p *OpenAIProvider) convertTools(tools []Tool) []responses.ToolUnionParam {
	result := make([]responses.ToolUnionParam, len(tools))
	for i, tool := range tools {
		result[i] = responses.ToolParamOfFunction(tool.Name, ensureObjectType(tool.Parameters), true)
		if tool.Description != "" {
			desc := openai.String(tool.Description)
			function := result[i].OfFunction
			function.Description = desc
			result[i].OfFunction = function
		}
	}
	return result
}

func ensureObjectType(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{"type": "object"}
	}
	if _, hasType := params["type"]; !hasType {
		params["type"] = "object"
	}
	return params
}

func (p *OpenAIProvider) convertResponse(result *responses.Response) *Response {
	if result == nil {
		return &Response{StopReason: StopReasonError}
	}

	response := &Response{
		Content:    result.OutputText(),
		Model:      string(result.Model),
		StopReason: p.convertStopReason(result),
		Usage: Usage{
			InputTokens:  int(result.Usage.InputTokens),
			OutputTokens: int(result.Usage.OutputTokens),
			TotalTokens:  int(result.Usage.TotalTokens),
		},
	}

	for _, item := range result.Output {
		if item.Type != "function_call" {
			continue
		}
		id := item.CallID
		if id == "" {
			id = item.ID
		}
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:        id,
			Name:      item.Name,
			Arguments: item.Arguments,
		})
	}
	if len(response.ToolCalls) > 0 {
		response.StopReason = StopReasonToolUse
	}

	return response
}

func (p *OpenAIProvider) convertStopReason(result *responses.Response) StopReason {
	if result.IncompleteDetails.Reason != "" {
		switch result.IncompleteDetails.Reason {
		case "max_output_tokens":
			return StopReasonMaxTokens
		default:
			return StopReasonError
		}
	}
	if result.Error.Message != "" {
		return StopReasonError
	}
	return StopReasonEndTurn
}
