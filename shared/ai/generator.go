package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/krishng03/yt-sum/internal/models"
	"github.com/krishng03/yt-sum/shared/apperr"
	"github.com/krishng03/yt-sum/shared/config"
	"github.com/krishng03/yt-sum/shared/logging"
)

// FailureSummary replaces the summary when the model output cannot be parsed.
const FailureSummary = "Failed to generate summary"

// TextModel produces raw text for a prompt.
type TextModel interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

type geminiModel struct {
	client *genai.Client
	model  string
}

func (g *geminiModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

type Generator struct {
	model  TextModel
	logger zerolog.Logger
}

func NewGenerator(ctx context.Context, cfg *config.AIConfig) (*Generator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, apperr.Unavailable("Gemini API key is not configured", nil)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return NewGeneratorWithModel(&geminiModel{client: client, model: cfg.Model}), nil
}

// NewGeneratorWithModel builds a Generator over any TextModel.
func NewGeneratorWithModel(model TextModel) *Generator {
	return &Generator{
		model:  model,
		logger: logging.WithComponent("generator"),
	}
}

// Generate asks the model for study material about the video. Output that
// cannot be parsed degrades to the fallback content instead of failing; only
// a failed model call is an error.
func (g *Generator) Generate(ctx context.Context, video *models.VideoMetadata, language string) (*models.GeneratedContent, error) {
	if video == nil {
		return nil, fmt.Errorf("video metadata cannot be nil")
	}

	prompt := BuildPrompt(video, language)

	text, err := g.model.GenerateText(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, apperr.Unavailable("content generation failed", err)
	}

	content, err := ParseContent(text)
	if err != nil {
		g.logger.Warn().Err(err).Str("video_id", video.ID).Msg("model output not parseable, using fallback content")
		return FallbackContent(), nil
	}
	return content, nil
}

// BuildPrompt renders the single generation prompt.
func BuildPrompt(video *models.VideoMetadata, language string) string {
	return fmt.Sprintf(`Based on this YouTube video:
Title: %s
Description: %s

Generate the response in %s language.

Format your response EXACTLY as a JSON object with this structure and no other keys:
{
  "summary": string[],
  "flashcards": Array<{ "question": string, "answer": string }>,
  "tldr": string[]
}`,
		video.Title,
		video.Description,
		language,
	)
}

// FallbackContent is returned when the model output is malformed.
func FallbackContent() *models.GeneratedContent {
	return &models.GeneratedContent{
		Summary:    []string{FailureSummary},
		Flashcards: []models.Flashcard{},
		TLDR:       []string{},
		Degraded:   true,
	}
}

// stringList accepts either a JSON array of strings or a single string.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

type contentPayload struct {
	Summary    stringList         `json:"summary"`
	Flashcards []models.Flashcard `json:"flashcards"`
	TLDR       stringList         `json:"tldr"`
}

// ParseContent strips a surrounding code fence and decodes the model output.
func ParseContent(response string) (*models.GeneratedContent, error) {
	text := stripCodeFence(response)
	if text == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var payload contentPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		sanitized := sanitizeJSON(text)
		if sanitizedErr := json.Unmarshal([]byte(sanitized), &payload); sanitizedErr != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON: %w (sanitized version also failed: %v)", err, sanitizedErr)
		}
	}

	content := &models.GeneratedContent{
		Summary:    []string(payload.Summary),
		Flashcards: payload.Flashcards,
		TLDR:       []string(payload.TLDR),
	}
	if content.Summary == nil {
		content.Summary = []string{}
	}
	if content.Flashcards == nil {
		content.Flashcards = []models.Flashcard{}
	}
	if content.TLDR == nil {
		content.TLDR = []string{}
	}
	return content, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// drop the language tag line, e.g. ```json
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// sanitizeJSON escapes stray quotes inside "key": "value" lines, the most
// common defect in model-written JSON.
func sanitizeJSON(jsonStr string) string {
	lines := strings.Split(jsonStr, "\n")
	var sanitizedLines []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.Contains(line, ":") && strings.Contains(line, "\"") {
			colonIdx := strings.Index(line, "\":")
			if colonIdx != -1 {
				beforeColon := line[:colonIdx+2]
				afterColon := strings.TrimSpace(line[colonIdx+2:])

				if strings.HasPrefix(afterColon, "\"") {
					lastQuoteIdx := strings.LastIndex(afterColon, "\"")
					if lastQuoteIdx > 0 {
						stringContent := afterColon[1:lastQuoteIdx]
						stringContent = strings.ReplaceAll(stringContent, "\\\"", "\"")
						stringContent = strings.ReplaceAll(stringContent, "\"", "\\\"")
						remainder := afterColon[lastQuoteIdx+1:]
						line = beforeColon + " \"" + stringContent + "\"" + remainder
					}
				}
			}
		}

		sanitizedLines = append(sanitizedLines, line)
	}

	return strings.Join(sanitizedLines, "\n")
}
