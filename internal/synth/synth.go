// Package synth assembles the synthesis prompt from packed context and
// calls the LLM provider (C12).
package synth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knoguchi/ragquery/internal/pipeline"
)

// Service synthesizes an answer from a packed candidate set.
type Service struct {
	llm LLM
}

// New builds a synthesis Service.
func New(llm LLM) *Service {
	return &Service{llm: llm}
}

// Synthesize builds the numbered-context prompt and calls the LLM,
// returning the raw answer text (citation markers intact, for C13 to
// parse) and a stage signal.
func (s *Service) Synthesize(ctx context.Context, query string, systemPrompt string, model string, candidates []pipeline.Candidate) (pipeline.Result[string], pipeline.StageSignal) {
	start := time.Now()
	signal := pipeline.StageSignal{Stage: "synthesis"}

	prompt := buildPrompt(query, candidates)
	text, err := s.llm.Generate(ctx, prompt, GenerateOptions{
		Model:        model,
		SystemPrompt: systemPrompt,
		Temperature:  0.2,
		MaxTokens:    1024,
	})
	signal.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		return pipeline.Failed[string](pipeline.NewError(pipeline.KindUpstreamFailure, "synthesis failed", err)), signal
	}
	return pipeline.Ok(text), signal
}

// buildPrompt lays out each packed candidate as a numbered, citable
// context block followed by the question, the same "[Doc N]" layering the
// teacher's prompt assembly uses, generalized to carry the `[^n]` marker
// convention C13 parses back out.
func buildPrompt(query string, candidates []pipeline.Candidate) string {
	var sb strings.Builder
	sb.WriteString("Context:\n\n")
	for i, c := range candidates {
		sb.WriteString(fmt.Sprintf("[%d] (cite as [^%d])\n", i+1, i+1))
		if title, ok := c.Metadata["title"]; ok && title != "" {
			sb.WriteString("Title: ")
			sb.WriteString(title)
			sb.WriteString("\n")
		}
		sb.WriteString(c.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer, citing sources inline with [^n] markers matching the context numbers above.")
	return sb.String()
}
