package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const MockName = "mock"

// MockTextGenerator is a TextGenerator for testing.
type MockTextGenerator struct {
	// Configurable behavior
	Latency   time.Duration
	FailTimes int  // Fail the first N calls with a transient error
	FailAll   bool // Fail every call
	Permanent bool // Use a permanent error class when failing
	Draft     *StoryDraft

	calls atomic.Int64
}

// NewMockTextGenerator creates a mock that succeeds with a draft sized to
// the request's page count.
func NewMockTextGenerator() *MockTextGenerator {
	return &MockTextGenerator{}
}

// Calls returns how many times GenerateStory was invoked.
func (m *MockTextGenerator) Calls() int { return int(m.calls.Load()) }

func (m *MockTextGenerator) Name() string { return MockName }

// GenerateStory returns the configured draft or a generated one.
func (m *MockTextGenerator) GenerateStory(ctx context.Context, req *StoryRequest) (*StoryDraft, error) {
	n := m.calls.Add(1)
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, Transient("generate_story", ctx.Err())
		case <-time.After(m.Latency):
		}
	}
	if m.FailAll || int(n) <= m.FailTimes {
		if m.Permanent {
			return nil, Permanent("generate_story", errors.New("mock permanent failure"))
		}
		return nil, Transient("generate_story", errors.New("mock transient failure"))
	}
	if m.Draft != nil {
		return m.Draft, nil
	}

	draft := &StoryDraft{
		Title:       "The " + req.Theme + " Adventure",
		Description: "A mock story about " + req.Theme + ".",
		Pages:       make([]StoryPage, 0, req.PageCount),
	}
	for i := 1; i <= req.PageCount; i++ {
		draft.Pages = append(draft.Pages, StoryPage{
			PageNumber:       i,
			Text:             fmt.Sprintf("Page %d of the %s story.", i, req.Theme),
			SceneDescription: fmt.Sprintf("Scene %d", i),
			ImagePrompt:      fmt.Sprintf("illustration of scene %d, %s", i, req.Theme),
		})
	}
	return draft, nil
}

// MockImageGenerator is an ImageGenerator for testing. Failures can be
// scripted globally or per prompt substring.
type MockImageGenerator struct {
	Latency   time.Duration
	FailAll   bool
	Permanent bool

	mu          sync.Mutex
	failPrompts map[string]int // prompt substring -> remaining failures
	calls       atomic.Int64
}

// NewMockImageGenerator creates a mock image generator that always succeeds.
func NewMockImageGenerator() *MockImageGenerator {
	return &MockImageGenerator{failPrompts: make(map[string]int)}
}

// FailPrompt makes calls whose prompt contains substr fail times times
// before succeeding. Use a large count to exhaust any retry budget.
func (m *MockImageGenerator) FailPrompt(substr string, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPrompts[substr] = times
}

// Calls returns how many times GenerateImage was invoked.
func (m *MockImageGenerator) Calls() int { return int(m.calls.Load()) }

func (m *MockImageGenerator) Name() string { return MockName }

// GenerateImage returns a deterministic fake URL derived from the prompt.
func (m *MockImageGenerator) GenerateImage(ctx context.Context, prompt string, style ArtStyle) (string, error) {
	n := m.calls.Add(1)
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return "", Transient("generate_image", ctx.Err())
		case <-time.After(m.Latency):
		}
	}
	if m.FailAll {
		if m.Permanent {
			return "", Permanent("generate_image", errors.New("mock permanent failure"))
		}
		return "", Transient("generate_image", errors.New("mock transient failure"))
	}

	m.mu.Lock()
	for substr, remaining := range m.failPrompts {
		if remaining > 0 && strings.Contains(prompt, substr) {
			m.failPrompts[substr] = remaining - 1
			m.mu.Unlock()
			if m.Permanent {
				return "", Permanent("generate_image", fmt.Errorf("mock failure for %q", substr))
			}
			return "", Transient("generate_image", fmt.Errorf("mock failure for %q", substr))
		}
	}
	m.mu.Unlock()

	return fmt.Sprintf("https://img.mock/%s/%d.png", style, n), nil
}
