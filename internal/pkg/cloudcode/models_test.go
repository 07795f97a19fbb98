//go:build unit

package cloudcode

import (
	"sort"
	"testing"
)

func TestResolveModel(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{name: "受支持模型透传", requested: "claude-sonnet-4-5", want: "claude-sonnet-4-5"},
		{name: "thinking模型透传", requested: "claude-opus-4-5-thinking", want: "claude-opus-4-5-thinking"},
		{name: "带日期别名", requested: "claude-sonnet-4-5-20250929", want: "claude-sonnet-4-5-thinking"},
		{name: "haiku映射到gemini", requested: "claude-haiku-4-5", want: "gemini-3-flash"},
		{name: "未知gemini透传", requested: "gemini-9-experimental", want: "gemini-9-experimental"},
		{name: "未知claude回退", requested: "claude-unknown-1", want: DefaultModel},
		{name: "gpt回退", requested: "gpt-4o", want: DefaultModel},
		{name: "空串回退", requested: "", want: DefaultModel},
		{name: "空白回退", requested: "   ", want: DefaultModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveModel(tt.requested); got != tt.want {
				t.Fatalf("ResolveModel(%q) = %q, want %q", tt.requested, got, tt.want)
			}
		})
	}
}

func TestIsThinkingModel(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{id: "claude-sonnet-4-5-thinking", want: true},
		{id: "gemini-2.5-flash-thinking", want: true},
		{id: "gemini-3-pro-low", want: true},
		{id: "gemini-3-pro-high", want: true},
		{id: "gemini-3-pro-preview", want: true},
		{id: "gemini-3-pro-image", want: false},
		{id: "claude-sonnet-4-5", want: false},
		{id: "gemini-3-flash", want: false},
	}
	for _, tt := range tests {
		if got := IsThinkingModel(tt.id); got != tt.want {
			t.Fatalf("IsThinkingModel(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestListModels(t *testing.T) {
	models := ListModels()
	if len(models) != len(supportedModels) {
		t.Fatalf("len = %d, want %d", len(models), len(supportedModels))
	}
	if !sort.SliceIsSorted(models, func(i, j int) bool { return models[i].ID < models[j].ID }) {
		t.Fatal("模型清单应按 id 排序")
	}
	for _, m := range models {
		if m.Object != "model" || m.OwnedBy != "google" || m.Created == 0 {
			t.Fatalf("模型条目形状错误: %+v", m)
		}
		if !IsSupportedModel(m.ID) {
			t.Fatalf("清单中出现未支持模型: %s", m.ID)
		}
	}
}
