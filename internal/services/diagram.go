package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"canvas-relay/internal/middleware"
	"canvas-relay/internal/openai"

	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrDescriptionRequired = errors.New("description is required")
	ErrDescriptionTooLong  = errors.New("description is too long")
)

// maxDescriptionLength caps prompts sent upstream, in bytes
const maxDescriptionLength = 8000

// Diagram is a generated drawing description. It is never attached to a
// room: clients decide what to do with it.
type Diagram struct {
	Description string `json:"description"`
	Content     string `json:"content"`
	Model       string `json:"model"`
}

// DiagramService turns a text description into a diagram through a chat model
type DiagramService struct {
	completer ChatCompleter
}

func NewDiagramService(completer ChatCompleter) *DiagramService {
	return &DiagramService{completer: completer}
}

// Generate sends description as a single user message at temperature 0
func (s *DiagramService) Generate(ctx context.Context, description string) (*Diagram, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, ErrDescriptionRequired
	}
	if len(description) > maxDescriptionLength {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrDescriptionTooLong, maxDescriptionLength)
	}

	ctx, span := middleware.StartSpan(ctx, "Diagram.Generate",
		attribute.Int("description.length", len(description)),
	)
	defer span.End()

	completion, err := s.completer.ChatCompletion(ctx, []openai.Message{
		{Role: "user", Content: description},
	}, 0)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to generate diagram: %w", err)
	}

	span.SetAttributes(attribute.String("llm.model", completion.Model))

	return &Diagram{
		Description: description,
		Content:     completion.Content,
		Model:       completion.Model,
	}, nil
}
