package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider on Google's Gemini API.
type GeminiProvider struct {
	client *genai.Client
	config Config
}

func NewGeminiProvider(ctx context.Context, config Config) (*GeminiProvider, error) {
	if config.MaxTokens == 0 {
		config.MaxTokens = 8192
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		config: config,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return string(ProviderTypeGemini)
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	result, err := p.client.Models.GenerateContent(ctx, model, p.convertMessages(req.Messages), p.buildConfig(req))
	if err != nil {
		return nil, p.classifyError(err)
	}

	return p.convertResponse(result, model)
}

func (p *GeminiProvider) classifyError(err error) error {
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		return classifyStatus(p.Name(), apierr.Code, 0, err)
	}
	return classifyTransport(p.Name(), err)
}

func (p *GeminiProvider) buildConfig(req *Request) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}

	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*req.TopP))
	}
	if len(req.StopSequences) > 0 {
		cfg.StopSequences = req.StopSequences
	}

	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, tool := range req.Tools {
			declarations[i] = &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  geminiSchema(tool.Parameters),
			}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	return cfg
}

func (p *GeminiProvider) convertMessages(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser, RoleSystem:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))

		case RoleAssistant:
			parts := make([]*genai.Part, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				json.Unmarshal([]byte(tc.Arguments), &args)
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}

		case RoleTool:
			part := genai.NewPartFromFunctionResponse(msg.ToolName, map[string]any{
				"result": msg.Content,
			})
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}

	return contents
}

// geminiSchema converts a JSON-schema object into the Gemini schema model.
func geminiSchema(params map[string]any) *genai.Schema {
	if params == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	schema := &genai.Schema{Type: geminiType(params["type"])}

	if desc, ok := params["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := params["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	schema.Required = requiredFields(params)

	switch enum := params["enum"].(type) {
	case []string:
		schema.Enum = enum
	case []any:
		for _, v := range enum {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}

	if minimum, ok := params["minimum"].(float64); ok {
		schema.Minimum = genai.Ptr(minimum)
	}
	if maximum, ok := params["maximum"].(float64); ok {
		schema.Maximum = genai.Ptr(maximum)
	}
	if items, ok := params["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}

	return schema
}

func geminiType(raw any) genai.Type {
	t, _ := raw.(string)
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeObject
	}
}

func (p *GeminiProvider) convertResponse(result *genai.GenerateContentResponse, model string) (*Response, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return nil, classifyTransport(p.Name(), fmt.Errorf("empty response from model"))
	}

	candidate := result.Candidates[0]
	response := &Response{
		Model:      model,
		StopReason: p.convertFinishReason(candidate.FinishReason),
	}

	for i, part := range candidate.Content.Parts {
		if part.Text != "" {
			response.Content += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			response.ToolCalls = append(response.ToolCalls, ToolCall{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
		}
	}
	if len(response.ToolCalls) > 0 {
		response.StopReason = StopReasonToolUse
	}

	if result.UsageMetadata != nil {
		response.Usage = Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(result.UsageMetadata.TotalTokenCount),
		}
	}

	return response, nil
}

func (p *GeminiProvider) convertFinishReason(reason genai.FinishReason) StopReason {
	switch reason {
	case genai.FinishReasonStop:
		return StopReasonEndTurn
	case genai.FinishReasonMaxTokens:
		return StopReasonMaxTokens
	default:
		return StopReasonEndTurn
	}
}
