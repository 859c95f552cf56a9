package prompts

import (
	"strings"
	"testing"
)

func TestStorySystemRendersVariables(t *testing.T) {
	got := StorySystem(StoryData{
		AgeGroup:   "preschool",
		Guidelines: "Short sentences. Repetition is good.",
	})

	if !strings.Contains(got, "preschool age group") {
		t.Errorf("system prompt missing age group: %q", got)
	}
	if !strings.Contains(got, "Repetition is good.") {
		t.Errorf("system prompt missing guidelines: %q", got)
	}
	if strings.Contains(got, "{{") {
		t.Errorf("system prompt has unrendered template actions: %q", got)
	}
}

func TestStoryUserOmitsEmptyCustomPrompt(t *testing.T) {
	base := StoryData{
		Theme:     "a fox who learns to share",
		Keywords:  "fox, forest",
		PageCount: 5,
	}

	got := StoryUser(base)
	if strings.Contains(got, "Additional requirements") {
		t.Errorf("user prompt includes requirements line without custom prompt: %q", got)
	}
	if !strings.Contains(got, "exactly 5 pages") {
		t.Errorf("user prompt missing page count: %q", got)
	}

	base.CustomPrompt = "include a rainbow"
	got = StoryUser(base)
	if !strings.Contains(got, "Additional requirements: include a rainbow") {
		t.Errorf("user prompt missing custom requirements: %q", got)
	}
}

func TestIllustrationWrapsScene(t *testing.T) {
	got := Illustration(IllustrationData{
		Style: "soft watercolor with gentle colors",
		Scene: "a fox sharing berries under an oak tree",
	})

	if !strings.Contains(got, "soft watercolor with gentle colors") {
		t.Errorf("illustration prompt missing style: %q", got)
	}
	if !strings.Contains(got, "Scene: a fox sharing berries under an oak tree") {
		t.Errorf("illustration prompt missing scene: %q", got)
	}
	if !strings.Contains(got, "Safe for children") {
		t.Errorf("illustration prompt missing safety constraints: %q", got)
	}
}

func TestExtractVariables(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "simple",
			text: "Hello {{.Name}}, you have {{.Count}} items and {{.Name}} again",
			want: []string{"Count", "Name"},
		},
		{
			name: "trim markers",
			text: "{{- if .CustomPrompt}}extra: {{.CustomPrompt}}{{- end}}",
			want: []string{"CustomPrompt"},
		},
		{
			name: "none",
			text: "plain text with no variables",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractVariables(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractVariables() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ExtractVariables()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCatalogCoversAllTemplates(t *testing.T) {
	catalog := Catalog()
	if len(catalog) != 3 {
		t.Fatalf("Catalog() returned %d prompts, want 3", len(catalog))
	}

	byKey := make(map[string]EmbeddedPrompt, len(catalog))
	for _, p := range catalog {
		if p.Hash == "" {
			t.Errorf("prompt %s has empty hash", p.Key)
		}
		byKey[p.Key] = p
	}

	sys, ok := byKey[StorySystemKey]
	if !ok {
		t.Fatalf("catalog missing %s", StorySystemKey)
	}
	wantVars := []string{"AgeGroup", "Guidelines"}
	if len(sys.Variables) != len(wantVars) {
		t.Fatalf("story system variables = %v, want %v", sys.Variables, wantVars)
	}
	for i, v := range wantVars {
		if sys.Variables[i] != v {
			t.Errorf("story system variable %d = %q, want %q", i, sys.Variables[i], v)
		}
	}
}
