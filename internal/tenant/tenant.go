// Package tenant owns the tenant directory: identity, per-tenant pipeline
// configuration, usage counters, and the Repository interface persistence
// implementations satisfy.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested tenant does not exist.
var ErrNotFound = errors.New("tenant not found")

// Tenant is a registered caller of the query engine.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	APIKey    string
	Config    Config
	Usage     Usage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Config is the full per-tenant pipeline configuration surface (spec.md
// §6), with process-wide defaults (internal/config) filled in where a
// tenant has not overridden a field.
type Config struct {
	EmbeddingModel string `json:"embedding_model"`
	LLMModel       string `json:"llm_model"`

	TopK     int     `json:"top_k"`
	MinScore float32 `json:"min_score"`

	SystemPrompt string `json:"system_prompt"`

	FusionStrategy    string  `json:"fusion_strategy"`
	FusionRRFConstant float64 `json:"fusion_rrf_constant"`

	CrossEncoderEnabled bool `json:"cross_encoder_enabled"`

	ContextTokenBudget int `json:"context_token_budget"`

	ConfidenceStrategy string `json:"confidence_strategy"`

	GuardrailMinConfidence float64 `json:"guardrail_min_confidence"`
	GuardrailMinTopScore   float64 `json:"guardrail_min_top_score"`
	GuardrailMinMeanScore  float64 `json:"guardrail_min_mean_score"`
	GuardrailMinCount      int     `json:"guardrail_min_count"`
	GuardrailMaxStdDev     float64 `json:"guardrail_max_stddev"`

	SectionMinTriggerConfidence float64 `json:"section_min_trigger_confidence"`
	SectionMaxSectionsPerQuery  int     `json:"section_max_sections_per_query"`
	SectionMaxParts             int     `json:"section_max_parts"`
	SectionMergeStrategy        string  `json:"section_merge_strategy"`

	AllowedLanguages []string `json:"allowed_languages,omitempty"`
}

// Usage holds tenant usage counters, computed from the document/chunk
// tables owned by the (out-of-scope) ingestion system.
type Usage struct {
	DocumentCount   int   `json:"document_count"`
	ChunkCount      int   `json:"chunk_count"`
	QueryCountMonth int64 `json:"query_count_month"`
}

// Repository persists tenants.
type Repository interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
	Update(ctx context.Context, t *Tenant) error
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateAPIKey(ctx context.Context, id uuid.UUID, newAPIKey string) error
}
