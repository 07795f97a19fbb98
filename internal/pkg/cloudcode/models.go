package cloudcode

import (
	"sort"
	"strings"
)

// DefaultModel 是无法识别请求模型时的兜底。
const DefaultModel = "claude-sonnet-4-5"

// modelCreated 用于 /v1/models 的 created 字段，无上游语义。
const modelCreated int64 = 1735689600

// supportedModels 是 CloudCode 上游当前接受的模型集合。
var supportedModels = map[string]bool{
	"claude-opus-4-5-thinking":   true,
	"claude-sonnet-4-5":          true,
	"claude-sonnet-4-5-thinking": true,
	"gemini-2.5-flash":           true,
	"gemini-2.5-flash-lite":      true,
	"gemini-2.5-flash-thinking":  true,
	"gemini-3-flash":             true,
	"gemini-3-pro-low":           true,
	"gemini-3-pro-high":          true,
	"gemini-3-pro-preview":       true,
	"gemini-3-pro-image":         true,
}

// modelAliases 把客户端常用的带日期模型名映射到受支持的模型。
var modelAliases = map[string]string{
	"claude-3-5-sonnet-20241022": "claude-sonnet-4-5",
	"claude-3-5-sonnet-20240620": "claude-sonnet-4-5",
	"claude-sonnet-4-5-20250929": "claude-sonnet-4-5-thinking",
	"claude-opus-4":              "claude-opus-4-5-thinking",
	"claude-opus-4-5-20251101":   "claude-opus-4-5-thinking",
	"claude-haiku-4":             "gemini-3-flash",
	"claude-haiku-4-5":           "gemini-3-flash",
	"claude-3-haiku-20240307":    "gemini-3-flash",
	"claude-haiku-4-5-20251001":  "gemini-3-flash",
}

// ResolveModel 把请求中的模型名归一化为上游接受的模型。
// 未知的 gemini-* 名称透传，其余回退到 DefaultModel。
func ResolveModel(requested string) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		return DefaultModel
	}
	if supportedModels[name] {
		return name
	}
	if mapped, ok := modelAliases[name]; ok {
		return mapped
	}
	if strings.HasPrefix(name, "gemini-") {
		return name
	}
	return DefaultModel
}

func IsSupportedModel(id string) bool {
	return supportedModels[id]
}

// IsThinkingModel 判断模型是否输出 reasoning 段。
// gemini-3-pro 系列除 image 外始终开启思考。
func IsThinkingModel(id string) bool {
	if strings.HasSuffix(id, "-thinking") {
		return true
	}
	if strings.HasPrefix(id, "gemini-3-pro") && id != "gemini-3-pro-image" {
		return true
	}
	return false
}

// ModelInfo 按 OpenAI /v1/models 的条目形状描述一个可用模型。
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListModels 返回稳定排序的模型清单。
func ListModels() []ModelInfo {
	ids := make([]string, 0, len(supportedModels))
	for id := range supportedModels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, ModelInfo{
			ID:      id,
			Object:  "model",
			Created: modelCreated,
			OwnedBy: "google",
		})
	}
	return out
}
