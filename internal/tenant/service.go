package tenant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/ragquery/internal/config"
	"github.com/knoguchi/ragquery/internal/vectorstore"
)

// Service implements tenant directory management: creation, config
// merge/validation, and API key lifecycle.
type Service struct {
	repo        Repository
	vectorStore vectorstore.VectorStore
	cfg         *config.Config
}

// NewService builds a tenant Service.
func NewService(repo Repository, vectorStore vectorstore.VectorStore, cfg *config.Config) *Service {
	return &Service{repo: repo, vectorStore: vectorStore, cfg: cfg}
}

// CreateTenant creates a tenant with a generated API key and defaulted
// config, then provisions its vector collection.
func (s *Service) CreateTenant(ctx context.Context, name string, override *Config) (*Tenant, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	cfg := s.buildConfig(override)
	if err := s.validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	now := time.Now()
	t := &Tenant{
		ID:        uuid.New(),
		Name:      name,
		APIKey:    apiKey,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	if err := s.vectorStore.CreateCollection(ctx, t.ID.String(), s.cfg.EmbeddingDimension); err != nil {
		// The collection can be created later by an operator; a tenant
		// without a collection just returns empty result sets until then.
		_ = err
	}

	return t, nil
}

// GetTenant retrieves a tenant by ID.
func (s *Service) GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByAPIKey retrieves a tenant by API key, used by the auth middleware.
func (s *Service) GetByAPIKey(ctx context.Context, apiKey string) (*Tenant, error) {
	return s.repo.GetByAPIKey(ctx, apiKey)
}

// ListTenants lists tenants with pagination.
func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdateTenant updates a tenant's name and/or config.
func (s *Service) UpdateTenant(ctx context.Context, id uuid.UUID, name string, override *Config) (*Tenant, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if name != "" {
		t.Name = name
	}
	if override != nil {
		merged := s.mergeConfig(t.Config, *override)
		if err := s.validateConfig(merged); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		t.Config = merged
	}
	t.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	return t, nil
}

// DeleteTenant removes a tenant and its vector collection.
func (s *Service) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	if err := s.vectorStore.DeleteCollection(ctx, id.String()); err != nil {
		_ = err
	}
	return s.repo.Delete(ctx, id)
}

// RegenerateAPIKey issues a new API key for a tenant.
func (s *Service) RegenerateAPIKey(ctx context.Context, id uuid.UUID) (string, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return "", err
	}
	newKey, err := generateAPIKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	if err := s.repo.UpdateAPIKey(ctx, id, newKey); err != nil {
		return "", fmt.Errorf("failed to update API key: %w", err)
	}
	return newKey, nil
}

func generateAPIKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "rq_" + hex.EncodeToString(b), nil
}

func (s *Service) buildConfig(override *Config) Config {
	cfg := Config{
		EmbeddingModel:         "default",
		LLMModel:               "default",
		TopK:                   s.cfg.DefaultTopK,
		MinScore:               s.cfg.DefaultMinScore,
		SystemPrompt:           defaultSystemPrompt,
		FusionStrategy:         s.cfg.FusionStrategy,
		FusionRRFConstant:      s.cfg.FusionRRFConstant,
		CrossEncoderEnabled:    s.cfg.CrossEncoderEnabled,
		ContextTokenBudget:     s.cfg.ContextTokenBudget,
		ConfidenceStrategy:     s.cfg.ConfidenceStrategy,
		GuardrailMinConfidence: s.cfg.GuardrailMinConfidence,
		GuardrailMinTopScore:   s.cfg.GuardrailMinTopScore,
		GuardrailMinMeanScore:  s.cfg.GuardrailMinMeanScore,
		GuardrailMinCount:      s.cfg.GuardrailMinCount,
		GuardrailMaxStdDev:     s.cfg.GuardrailMaxStdDev,

		SectionMinTriggerConfidence: s.cfg.SectionMinTriggerConfidence,
		SectionMaxSectionsPerQuery:  s.cfg.SectionMaxSectionsPerQuery,
		SectionMaxParts:             s.cfg.SectionMaxParts,
		SectionMergeStrategy:        s.cfg.SectionMergeStrategy,
	}
	if override == nil {
		return cfg
	}
	return s.mergeConfig(cfg, *override)
}

func (s *Service) mergeConfig(existing, override Config) Config {
	if override.EmbeddingModel != "" {
		existing.EmbeddingModel = override.EmbeddingModel
	}
	if override.LLMModel != "" {
		existing.LLMModel = override.LLMModel
	}
	if override.TopK > 0 {
		existing.TopK = override.TopK
	}
	if override.MinScore > 0 {
		existing.MinScore = override.MinScore
	}
	if override.SystemPrompt != "" {
		existing.SystemPrompt = override.SystemPrompt
	}
	if override.FusionStrategy != "" {
		existing.FusionStrategy = override.FusionStrategy
	}
	if override.FusionRRFConstant > 0 {
		existing.FusionRRFConstant = override.FusionRRFConstant
	}
	if override.ContextTokenBudget > 0 {
		existing.ContextTokenBudget = override.ContextTokenBudget
	}
	if override.ConfidenceStrategy != "" {
		existing.ConfidenceStrategy = override.ConfidenceStrategy
	}
	if override.GuardrailMinConfidence > 0 {
		existing.GuardrailMinConfidence = override.GuardrailMinConfidence
	}
	if override.GuardrailMinTopScore > 0 {
		existing.GuardrailMinTopScore = override.GuardrailMinTopScore
	}
	if override.GuardrailMinMeanScore > 0 {
		existing.GuardrailMinMeanScore = override.GuardrailMinMeanScore
	}
	if override.GuardrailMinCount > 0 {
		existing.GuardrailMinCount = override.GuardrailMinCount
	}
	if override.GuardrailMaxStdDev > 0 {
		existing.GuardrailMaxStdDev = override.GuardrailMaxStdDev
	}
	if override.SectionMinTriggerConfidence > 0 {
		existing.SectionMinTriggerConfidence = override.SectionMinTriggerConfidence
	}
	if override.SectionMaxSectionsPerQuery > 0 {
		existing.SectionMaxSectionsPerQuery = override.SectionMaxSectionsPerQuery
	}
	if override.SectionMaxParts > 0 {
		existing.SectionMaxParts = override.SectionMaxParts
	}
	if override.SectionMergeStrategy != "" {
		existing.SectionMergeStrategy = override.SectionMergeStrategy
	}
	if len(override.AllowedLanguages) > 0 {
		existing.AllowedLanguages = override.AllowedLanguages
	}
	existing.CrossEncoderEnabled = override.CrossEncoderEnabled
	return existing
}

func (s *Service) validateConfig(cfg Config) error {
	if cfg.TopK < 0 {
		return fmt.Errorf("top_k cannot be negative")
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		return fmt.Errorf("min_score must be between 0 and 1")
	}
	validFusion := map[string]bool{"weighted_average": true, "rrf": true, "max": true, "borda_rank": true}
	if cfg.FusionStrategy != "" && !validFusion[cfg.FusionStrategy] {
		return fmt.Errorf("invalid fusion strategy: %s", cfg.FusionStrategy)
	}
	validConfidence := map[string]bool{"adaptive_weighted": true, "max_confidence": true, "conservative": true}
	if cfg.ConfidenceStrategy != "" && !validConfidence[cfg.ConfidenceStrategy] {
		return fmt.Errorf("invalid confidence strategy: %s", cfg.ConfidenceStrategy)
	}
	return nil
}

const defaultSystemPrompt = `You are a concise knowledge assistant. Answer questions using ONLY the provided documents.

Rules:
- Give the direct answer first, then brief supporting details only if needed
- Cite every factual claim with a [^n] marker referencing the supplied documents
- If the documents don't cover the topic, say so plainly
- Never invent information not in the provided documents`
