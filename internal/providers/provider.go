// Package providers defines the AI capability ports the generation pipeline
// consumes — a story text generator and a page image generator — together
// with the OpenAI-backed implementations and test mocks.
package providers

import (
	"context"
	"strings"
)

// TextGenerator produces the full story for a book in a single call:
// title, description, and every page's text, scene description, and
// image prompt.
type TextGenerator interface {
	// GenerateStory generates a complete story draft. Errors are classified
	// via UpstreamError so callers can decide whether to retry.
	GenerateStory(ctx context.Context, req *StoryRequest) (*StoryDraft, error)

	// Name returns the generator identifier (e.g. "openai").
	Name() string
}

// ImageGenerator produces one illustration per call and returns a reference
// (URL) to the generated image.
type ImageGenerator interface {
	// GenerateImage renders the prompt in the given art style.
	GenerateImage(ctx context.Context, prompt string, style ArtStyle) (string, error)

	// Name returns the generator identifier.
	Name() string
}

// StoryRequest describes the story to generate.
type StoryRequest struct {
	Theme        string   `json:"theme"`
	Keywords     []string `json:"keywords,omitempty"`
	TargetAge    AgeGroup `json:"target_age"`
	PageCount    int      `json:"page_count"`
	CustomPrompt string   `json:"custom_prompt,omitempty"`
}

// StoryPage is one page of a generated story draft.
type StoryPage struct {
	PageNumber       int    `json:"page_number"`
	Text             string `json:"text"`
	SceneDescription string `json:"scene_description"`
	ImagePrompt      string `json:"image_prompt"`
}

// StoryDraft is the result of a text generation call.
type StoryDraft struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Pages       []StoryPage `json:"pages"`
}

// AgeGroup selects vocabulary and story complexity.
type AgeGroup string

const (
	AgeToddler         AgeGroup = "toddler"          // 0-2
	AgePreschool       AgeGroup = "preschool"        // 3-5
	AgeEarlyElementary AgeGroup = "early_elementary" // 6-8
	AgeElementary      AgeGroup = "elementary"       // 9-12
)

// ValidAgeGroup reports whether s names a known age group.
func ValidAgeGroup(s string) bool {
	switch AgeGroup(s) {
	case AgeToddler, AgePreschool, AgeEarlyElementary, AgeElementary:
		return true
	}
	return false
}

// writingGuidelines returns per-age prose constraints injected into the
// system prompt.
func (a AgeGroup) writingGuidelines() string {
	switch a {
	case AgeToddler:
		return `- Simple vocabulary and short sentences
- No more than 2-3 sentences per page
- Repetitive language patterns
- Familiar everyday scenes`
	case AgeEarlyElementary:
		return `- A fuller plot with a simple conflict and resolution
- 5-8 sentences per page
- A wider cast of characters
- Detailed background scenery`
	case AgeElementary:
		return `- A complete story arc with richer emotional themes
- Longer passages per page are fine
- Varied character relationships
- A developed setting`
	default: // preschool
		return `- A simple but engaging plot
- 3-5 sentences per page
- Gentle introduction of feelings and simple morals
- Friendly animal or child characters
- Colorful scenes`
	}
}

// ArtStyle selects the illustration style for image generation.
type ArtStyle string

const (
	StyleWatercolor  ArtStyle = "watercolor"
	StyleCartoon     ArtStyle = "cartoon"
	StyleRealistic   ArtStyle = "realistic"
	StyleFlat        ArtStyle = "flat"
	StyleHandDrawn   ArtStyle = "hand_drawn"
	StyleAnime       ArtStyle = "anime"
	StylePaperCut    ArtStyle = "paper_cut"
	StyleOilPainting ArtStyle = "oil_painting"
)

// ValidArtStyle reports whether s names a known art style.
func ValidArtStyle(s string) bool {
	switch ArtStyle(s) {
	case StyleWatercolor, StyleCartoon, StyleRealistic, StyleFlat,
		StyleHandDrawn, StyleAnime, StylePaperCut, StyleOilPainting:
		return true
	}
	return false
}

// promptFragment returns the style's image prompt fragment.
func (s ArtStyle) promptFragment() string {
	switch s {
	case StyleCartoon:
		return "cartoon style, bold outlines, vibrant colors, expressive characters"
	case StyleRealistic:
		return "realistic illustration, detailed textures, natural lighting, lifelike characters"
	case StyleFlat:
		return "flat design illustration, minimal shadows, geometric shapes, modern aesthetic"
	case StyleHandDrawn:
		return "hand-drawn sketch style, pencil textures, warm and cozy feeling"
	case StyleAnime:
		return "anime style illustration, big expressive eyes, dynamic poses"
	case StylePaperCut:
		return "paper cut art style, layered paper effect, traditional aesthetic"
	case StyleOilPainting:
		return "oil painting style, rich textures, classical art feeling, warm color palette"
	default:
		return "watercolor illustration style, soft colors, gentle brush strokes, dreamy atmosphere"
	}
}

// joinKeywords formats the keyword list for the user prompt.
func joinKeywords(keywords []string) string {
	if len(keywords) == 0 {
		return "none in particular"
	}
	return strings.Join(keywords, ", ")
}
