// Package prompts holds the generation prompt templates.
//
// The embedded .tmpl files are the source of truth. Callers render them
// through the typed functions below rather than touching the raw text, so
// every template variable is spelled out in one place.
package prompts

import (
	"bytes"
	_ "embed"
	"text/template"
)

//go:embed story_system.tmpl
var storySystemText string

//go:embed story_user.tmpl
var storyUserText string

//go:embed illustration.tmpl
var illustrationText string

var (
	storySystemTemplate  = template.Must(template.New("story_system").Parse(storySystemText))
	storyUserTemplate    = template.Must(template.New("story_user").Parse(storyUserText))
	illustrationTemplate = template.Must(template.New("illustration").Parse(illustrationText))
)

// Prompt keys
const (
	StorySystemKey  = "story.system"
	StoryUserKey    = "story.user"
	IllustrationKey = "illustration.scene"
)

// StoryData carries the variables for the story prompts.
type StoryData struct {
	AgeGroup     string
	Guidelines   string
	Theme        string
	Keywords     string
	PageCount    int
	CustomPrompt string
}

// IllustrationData carries the variables for the illustration prompt.
type IllustrationData struct {
	Style string
	Scene string
}

// StorySystem renders the system prompt for story generation.
func StorySystem(d StoryData) string {
	return render(storySystemTemplate, storySystemText, d)
}

// StoryUser renders the user prompt for story generation.
func StoryUser(d StoryData) string {
	return render(storyUserTemplate, storyUserText, d)
}

// Illustration renders the image generation prompt for one scene.
func Illustration(d IllustrationData) string {
	return render(illustrationTemplate, illustrationText, d)
}

// render executes a template, falling back to the raw text on error so a
// bad data shape never produces an empty prompt.
func render(t *template.Template, raw string, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return raw
	}
	return buf.String()
}

// EmbeddedPrompt describes one embedded template for inspection.
type EmbeddedPrompt struct {
	Key       string   `json:"key"`
	Text      string   `json:"text"`
	Variables []string `json:"variables,omitempty"`
	Hash      string   `json:"hash"`
}

// Catalog returns every embedded prompt with its extracted variables and a
// content hash for change detection.
func Catalog() []EmbeddedPrompt {
	entries := []struct {
		key  string
		text string
	}{
		{StorySystemKey, storySystemText},
		{StoryUserKey, storyUserText},
		{IllustrationKey, illustrationText},
	}

	catalog := make([]EmbeddedPrompt, 0, len(entries))
	for _, e := range entries {
		catalog = append(catalog, EmbeddedPrompt{
			Key:       e.key,
			Text:      e.text,
			Variables: ExtractVariables(e.text),
			Hash:      HashText(e.text),
		})
	}
	return catalog
}
