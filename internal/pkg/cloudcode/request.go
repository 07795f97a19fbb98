package cloudcode

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/xiaoshi569/antigravity2api/internal/pkg/openai"
)

// Content / Part 对应 v1internal 内层请求的 Gemini 结构。
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FunctionCall     *PartFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type PartFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type GenerationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

type ThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget,omitempty"`
}

type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type ToolDeclaration struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type ToolConfig struct {
	FunctionCallingConfig *FunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type FunctionCallingConfig struct {
	Mode string `json:"mode"`
}

type innerRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []SafetySetting   `json:"safetySettings,omitempty"`
	Tools             []ToolDeclaration `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
	SessionID         string            `json:"sessionId,omitempty"`
}

// defaultSafetySettings 全类目关闭拦截，避免代理层引入额外审查。
var defaultSafetySettings = []SafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "OFF"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "OFF"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "OFF"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "OFF"},
}

// GenerationDefaults 来自配置的 defaults.* 段，请求未覆盖时生效。
type GenerationDefaults struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// BuildInnerRequest 把 OpenAI chat completions 请求转换为 v1internal
// 内层 Gemini 请求。model 必须已经过 ResolveModel 归一化。
func BuildInnerRequest(req *openai.ChatCompletionRequest, model string, defaults GenerationDefaults) ([]byte, error) {
	toolIDToName := make(map[string]string)

	contents, system, err := buildContents(req.Messages, toolIDToName)
	if err != nil {
		return nil, err
	}

	inner := innerRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig:  buildGenerationConfig(req, model, defaults),
		SafetySettings:    defaultSafetySettings,
	}

	if tools := buildTools(req.Tools); len(tools) > 0 {
		inner.Tools = tools
		inner.ToolConfig = &ToolConfig{
			FunctionCallingConfig: &FunctionCallingConfig{Mode: "VALIDATED"},
		}
	}

	if req.User != "" {
		inner.SessionID = req.User
	}

	return json.Marshal(inner)
}

// buildContents 把消息序列翻译为 contents，system 消息合并进 systemInstruction。
func buildContents(messages []openai.ChatMessage, toolIDToName map[string]string) ([]Content, *Content, error) {
	var contents []Content
	var systemParts []Part

	for i, msg := range messages {
		switch msg.Role {
		case "system", "developer":
			if text := msg.ContentText(); strings.TrimSpace(text) != "" {
				systemParts = append(systemParts, Part{Text: text})
			}

		case "user":
			parts, err := buildUserParts(&msg)
			if err != nil {
				return nil, nil, fmt.Errorf("message %d: %w", i, err)
			}
			if len(parts) > 0 {
				contents = append(contents, Content{Role: "user", Parts: parts})
			}

		case "assistant":
			parts := buildAssistantParts(&msg, toolIDToName)
			if len(parts) > 0 {
				contents = append(contents, Content{Role: "model", Parts: parts})
			}

		case "tool":
			part := buildToolResultPart(&msg, toolIDToName)
			contents = append(contents, Content{Role: "user", Parts: []Part{part}})

		default:
			return nil, nil, fmt.Errorf("message %d: unknown role %q", i, msg.Role)
		}
	}

	var system *Content
	if len(systemParts) > 0 {
		system = &Content{Role: "user", Parts: systemParts}
	}
	return contents, system, nil
}

func buildUserParts(msg *openai.ChatMessage) ([]Part, error) {
	if blocks, ok := msg.ContentParts(); ok {
		var parts []Part
		for _, block := range blocks {
			switch block.Type {
			case "text":
				if strings.TrimSpace(block.Text) != "" {
					parts = append(parts, Part{Text: block.Text})
				}
			case "image_url":
				if block.ImageURL == nil {
					continue
				}
				mime, data, ok := parseDataURI(block.ImageURL.URL)
				if !ok {
					return nil, fmt.Errorf("image_url must be a base64 data URI")
				}
				parts = append(parts, Part{InlineData: &InlineData{MimeType: mime, Data: data}})
			}
		}
		return parts, nil
	}

	if text := msg.ContentText(); strings.TrimSpace(text) != "" {
		return []Part{{Text: text}}, nil
	}
	return nil, nil
}

func buildAssistantParts(msg *openai.ChatMessage, toolIDToName map[string]string) []Part {
	var parts []Part

	if text := msg.ContentText(); strings.TrimSpace(text) != "" {
		parts = append(parts, Part{Text: text})
	}

	for _, call := range msg.ToolCalls {
		id, signature := splitCallID(call.ID)
		if call.Function.Name != "" && id != "" {
			toolIDToName[id] = call.Function.Name
		}

		args := map[string]any{}
		if strings.TrimSpace(call.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
		}

		parts = append(parts, Part{
			ThoughtSignature: signature,
			FunctionCall: &PartFunctionCall{
				ID:   id,
				Name: call.Function.Name,
				Args: args,
			},
		})
	}
	return parts
}

func buildToolResultPart(msg *openai.ChatMessage, toolIDToName map[string]string) Part {
	id, _ := splitCallID(msg.ToolCallID)

	name := msg.Name
	if name == "" {
		if mapped, ok := toolIDToName[id]; ok {
			name = mapped
		} else {
			name = id
		}
	}

	result := msg.ContentText()
	if strings.TrimSpace(result) == "" {
		result = "Command executed successfully."
	}

	return Part{
		FunctionResponse: &FunctionResponse{
			ID:       id,
			Name:     name,
			Response: map[string]any{"result": result},
		},
	}
}

// splitCallID 还原出站时拼接的 <id>::<signature> 形态。
func splitCallID(raw string) (id, signature string) {
	if i := strings.Index(raw, "::"); i >= 0 {
		return raw[:i], raw[i+2:]
	}
	return raw, ""
}

func buildGenerationConfig(req *openai.ChatCompletionRequest, model string, defaults GenerationDefaults) *GenerationConfig {
	cfg := &GenerationConfig{
		StopSequences: req.StopSequences(),
	}

	if req.Temperature != nil {
		cfg.Temperature = req.Temperature
	} else {
		t := defaults.Temperature
		cfg.Temperature = &t
	}
	if req.TopP != nil {
		cfg.TopP = req.TopP
	} else if defaults.TopP > 0 {
		p := defaults.TopP
		cfg.TopP = &p
	}
	if req.TopK != nil {
		cfg.TopK = req.TopK
	} else if defaults.TopK > 0 {
		k := defaults.TopK
		cfg.TopK = &k
	}

	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		cfg.MaxOutputTokens = *req.MaxTokens
	} else if defaults.MaxTokens > 0 {
		cfg.MaxOutputTokens = defaults.MaxTokens
	}

	if IsThinkingModel(model) {
		cfg.ThinkingConfig = &ThinkingConfig{IncludeThoughts: true}
	}

	return cfg
}

func buildTools(tools []openai.Tool) []ToolDeclaration {
	if len(tools) == 0 {
		return nil
	}

	var decls []FunctionDeclaration
	for _, tool := range tools {
		if tool.Type != "" && tool.Type != "function" {
			continue
		}
		if strings.TrimSpace(tool.Function.Name) == "" {
			log.Printf("[Transform] skipping tool with empty name")
			continue
		}

		params := cleanJSONSchema(tool.Function.Parameters)
		if params == nil {
			params = map[string]any{
				"type":       "OBJECT",
				"properties": map[string]any{},
			}
		}

		decls = append(decls, FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  params,
		})
	}

	if len(decls) == 0 {
		return nil
	}
	return []ToolDeclaration{{FunctionDeclarations: decls}}
}

// parseDataURI 解析 data:<mime>;base64,<data> 形式的内联图片。
func parseDataURI(uri string) (mime, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, "data:")
	comma := strings.Index(rest, ",")
	if comma < 0 {
		return "", "", false
	}
	meta := rest[:comma]
	data = rest[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	mime = strings.TrimSuffix(meta, ";base64")
	if mime == "" || data == "" {
		return "", "", false
	}
	return mime, data, true
}

// excludedSchemaKeys 是上游不接受的 JSON Schema 字段。
// 仅保留 type/description/enum/properties/required/additionalProperties/items。
var excludedSchemaKeys = map[string]bool{
	"$schema": true,
	"$id":     true,
	"$ref":    true,

	"minLength": true,
	"maxLength": true,
	"pattern":   true,

	"minimum":          true,
	"maximum":          true,
	"exclusiveMinimum": true,
	"exclusiveMaximum": true,
	"multipleOf":       true,

	"uniqueItems": true,
	"minItems":    true,
	"maxItems":    true,

	"oneOf":       true,
	"anyOf":       true,
	"allOf":       true,
	"not":         true,
	"if":          true,
	"then":        true,
	"else":        true,
	"$defs":       true,
	"definitions": true,

	"minProperties":     true,
	"maxProperties":     true,
	"patternProperties": true,
	"propertyNames":     true,
	"dependencies":      true,
	"dependentSchemas":  true,
	"dependentRequired": true,

	"default":          true,
	"const":            true,
	"examples":         true,
	"deprecated":       true,
	"readOnly":         true,
	"writeOnly":        true,
	"contentMediaType": true,
	"contentEncoding":  true,

	"strict": true,
}

var warnedSchemaKeys sync.Map

func warnSchemaKeyRemovedOnce(key, path string) {
	if _, loaded := warnedSchemaKeys.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	log.Printf("[Transform] removed unsupported JSON Schema field key=%q path=%q", key, path)
}

// cleanJSONSchema 清掉上游不支持的 schema 字段并归一化 type。
func cleanJSONSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	cleaned := cleanSchemaValue(schema, "$")
	result, ok := cleaned.(map[string]any)
	if !ok {
		return nil
	}

	if _, hasType := result["type"]; !hasType {
		result["type"] = "OBJECT"
	}
	if _, hasProps := result["properties"]; !hasProps {
		result["properties"] = make(map[string]any)
	}

	// required 中引用不存在的属性会被上游拒绝。
	if required, ok := result["required"].([]any); ok {
		if props, ok := result["properties"].(map[string]any); ok {
			valid := make([]any, 0, len(required))
			for _, r := range required {
				if name, ok := r.(string); ok {
					if _, exists := props[name]; exists {
						valid = append(valid, r)
					}
				}
			}
			if len(valid) > 0 {
				result["required"] = valid
			} else {
				delete(result, "required")
			}
		}
	}

	return result
}

func cleanSchemaValue(value any, path string) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any)
		for k, val := range v {
			if excludedSchemaKeys[k] {
				warnSchemaKeyRemovedOnce(k, path)
				continue
			}
			if k == "type" {
				result[k] = cleanTypeValue(val)
				continue
			}
			if k == "format" {
				if formatStr, ok := val.(string); ok {
					if formatStr == "date-time" || formatStr == "date" || formatStr == "time" {
						result[k] = val
					}
				}
				continue
			}
			if k == "additionalProperties" {
				if boolVal, ok := val.(bool); ok {
					result[k] = boolVal
				} else {
					result[k] = false
				}
				continue
			}
			result[k] = cleanSchemaValue(val, path+"."+k)
		}
		return result

	case []any:
		cleaned := make([]any, 0, len(v))
		for i, item := range v {
			cleaned = append(cleaned, cleanSchemaValue(item, fmt.Sprintf("%s[%d]", path, i)))
		}
		return cleaned

	default:
		return value
	}
}

// cleanTypeValue 把 type 归一化为大写；联合类型取第一个非 null 项。
func cleanTypeValue(value any) any {
	switch v := value.(type) {
	case string:
		return strings.ToUpper(v)
	case []any:
		for _, t := range v {
			if ts, ok := t.(string); ok && ts != "null" {
				return strings.ToUpper(ts)
			}
		}
		return "STRING"
	default:
		return value
	}
}
