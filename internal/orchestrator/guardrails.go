package orchestrator

import (
	"fmt"
	"strings"

	"github.com/listforge/listforge/internal/pipeline"
)

// Signal weights for the guardrail aggregate. They sum to 1 so the score
// stays in [0, 1].
const (
	weightTitle       = 0.20
	weightDescription = 0.20
	weightImage       = 0.25
	weightPrice       = 0.20
	weightConfidence  = 0.15
)

// GuardrailConfig tunes the quality gate.
type GuardrailConfig struct {
	MinTitleLength       int
	MinDescriptionLength int
	MinConfidenceScore   float64
}

// Guardrails scores a product's publish-readiness. A rejection is terminal
// for the task: it takes re-extraction or a lowered threshold to clear it.
type Guardrails struct {
	cfg GuardrailConfig
}

// NewGuardrails builds the gate, applying defaults for unset fields.
func NewGuardrails(cfg GuardrailConfig) *Guardrails {
	if cfg.MinTitleLength <= 0 {
		cfg.MinTitleLength = 10
	}
	if cfg.MinDescriptionLength <= 0 {
		cfg.MinDescriptionLength = 30
	}
	if cfg.MinConfidenceScore <= 0 {
		cfg.MinConfidenceScore = 0.7
	}
	return &Guardrails{cfg: cfg}
}

// Evaluate computes a weighted score over the product's quality signals and
// compares it against threshold; a non-positive threshold falls back to the
// configured minimum. Raising the threshold can only turn passes into
// failures, never the reverse.
func (g *Guardrails) Evaluate(product pipeline.ProductRecord, threshold float64) pipeline.GuardrailResult {
	if threshold <= 0 {
		threshold = g.cfg.MinConfidenceScore
	}

	var score float64
	var reasons []string

	title := strings.TrimSpace(product.Title)
	score += weightTitle * ratio(len(title), g.cfg.MinTitleLength)
	if len(title) < g.cfg.MinTitleLength {
		reasons = append(reasons, fmt.Sprintf("title shorter than %d characters", g.cfg.MinTitleLength))
	}

	desc := strings.TrimSpace(product.DescriptionHTML)
	score += weightDescription * ratio(len(desc), g.cfg.MinDescriptionLength)
	if len(desc) < g.cfg.MinDescriptionLength {
		reasons = append(reasons, fmt.Sprintf("description shorter than %d characters", g.cfg.MinDescriptionLength))
	}

	if product.HasRealImage() {
		score += weightImage
	} else {
		reasons = append(reasons, "no real product image (placeholder only)")
	}

	if product.Price != nil {
		score += weightPrice
	} else {
		reasons = append(reasons, "no price extracted")
	}

	confidence := clamp01(product.ConfidenceScore)
	score += weightConfidence * confidence
	if confidence < threshold {
		reasons = append(reasons, fmt.Sprintf("extraction confidence %.2f below %.2f", confidence, threshold))
	}

	return pipeline.GuardrailResult{
		Passed:  score >= threshold,
		Score:   score,
		Reasons: reasons,
	}
}

func ratio(have, want int) float64 {
	if want <= 0 || have >= want {
		return 1
	}
	return float64(have) / float64(want)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
