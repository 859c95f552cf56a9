package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseStoryDraft(t *testing.T) {
	content := `{
		"title": "The Brave Little Boat",
		"description": "A boat learns to sail.",
		"pages": [
			{"page_number": 1, "text": "Once there was a boat.", "scene_description": "A harbor", "image_prompt": "small red boat in a sunny harbor"},
			{"page_number": 2, "text": "It sailed away.", "scene_description": "Open sea", "image_prompt": "red boat on gentle waves"}
		]
	}`

	draft, err := ParseStoryDraft(content, 2)
	if err != nil {
		t.Fatalf("ParseStoryDraft() error = %v", err)
	}
	if draft.Title != "The Brave Little Boat" {
		t.Errorf("title = %q", draft.Title)
	}
	if len(draft.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(draft.Pages))
	}
	if draft.Pages[1].PageNumber != 2 {
		t.Errorf("page numbering not normalized: %+v", draft.Pages[1])
	}
}

func TestParseStoryDraftSalvagesCodeFences(t *testing.T) {
	content := "Here is your story:\n```json\n" +
		`{"title":"T","pages":[{"page_number":1,"text":"hi","scene_description":"s","image_prompt":"p"}]}` +
		"\n```\nEnjoy!"

	draft, err := ParseStoryDraft(content, 1)
	if err != nil {
		t.Fatalf("ParseStoryDraft() error = %v", err)
	}
	if draft.Pages[0].ImagePrompt != "p" {
		t.Errorf("image prompt = %q", draft.Pages[0].ImagePrompt)
	}
}

func TestParseStoryDraftFallsBackToScene(t *testing.T) {
	// Missing image_prompt falls back to the scene description.
	content := `{"title":"T","pages":[{"page_number":1,"text":"hi","scene_description":"a quiet meadow"}]}`

	draft, err := ParseStoryDraft(content, 1)
	if err != nil {
		t.Fatalf("ParseStoryDraft() error = %v", err)
	}
	if draft.Pages[0].ImagePrompt != "a quiet meadow" {
		t.Errorf("image prompt = %q, want scene fallback", draft.Pages[0].ImagePrompt)
	}
}

func TestParseStoryDraftRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"no JSON", "sorry, I cannot help with that", 0},
		{"missing pages", `{"title":"T"}`, 0},
		{"empty text", `{"title":"T","pages":[{"page_number":1,"text":""}]}`, 0},
		{"wrong page count", `{"title":"T","pages":[{"page_number":1,"text":"hi"}]}`, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseStoryDraft(tt.content, tt.want); err == nil {
				t.Errorf("ParseStoryDraft(%q) should fail", tt.content)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(Transient("generate_story", errors.New("boom"))) {
		t.Error("classified transient error not detected")
	}
	if IsTransient(Permanent("generate_story", errors.New("bad key"))) {
		t.Error("permanent error reported transient")
	}
	if !IsTransient(errors.New("request failed with status 503")) {
		t.Error("5xx message should sniff as transient")
	}
	if !IsTransient(errors.New("context deadline exceeded")) {
		t.Error("timeout should sniff as transient")
	}
	if IsTransient(errors.New("invalid api key supplied")) {
		t.Error("auth failure should not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil is not an error")
	}
}

func TestClassifyStatus(t *testing.T) {
	if classifyStatus(429) != ClassTransient || classifyStatus(500) != ClassTransient {
		t.Error("429/5xx should classify transient")
	}
	if classifyStatus(400) != ClassPermanent || classifyStatus(401) != ClassPermanent {
		t.Error("4xx should classify permanent")
	}
}

func TestMockTextGeneratorFailTimes(t *testing.T) {
	gen := NewMockTextGenerator()
	gen.FailTimes = 2

	req := &StoryRequest{Theme: "dragons", TargetAge: AgePreschool, PageCount: 3}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := gen.GenerateStory(ctx, req); !IsTransient(err) {
			t.Fatalf("call %d: want transient failure, got %v", i+1, err)
		}
	}
	draft, err := gen.GenerateStory(ctx, req)
	if err != nil {
		t.Fatalf("third call should succeed: %v", err)
	}
	if len(draft.Pages) != 3 {
		t.Errorf("draft pages = %d, want 3", len(draft.Pages))
	}
}

func TestRateLimiterWaits(t *testing.T) {
	rl := NewRateLimiter(10) // one token per 100ms after the burst drains

	ctx := context.Background()
	// Drain the burst.
	for i := 0; i < 10; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Wait() returned after %v, expected a refill delay", elapsed)
	}
}

func TestRateLimiterHonorsContext(t *testing.T) {
	rl := NewRateLimiter(0.001)
	rl.Record429() // empty the bucket

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}
