// Package rulesets evaluates stored rule set artifacts against caller
// documents.
package rulesets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/metrics"
	"github.com/schemaflow/platform/internal/app/services/artifacts"
	"github.com/schemaflow/platform/internal/engine/expr"
	"github.com/schemaflow/platform/internal/engine/rules"
	"github.com/schemaflow/platform/pkg/logger"
)

// Service evaluates rule sets.
type Service struct {
	artifacts *artifacts.Service
	log       *logger.Logger
}

// New constructs a rule set service.
func New(artifactsSvc *artifacts.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rulesets")
	}
	return &Service{artifacts: artifactsSvc, log: log}
}

// Eval evaluates the published version of a stored rule set against doc.
func (s *Service) Eval(ctx context.Context, tenantID, key string, doc map[string]interface{}) (*rules.Outcome, error) {
	art, err := s.artifacts.Published(ctx, tenantID, artifact.KindRuleSet, key)
	if err != nil {
		return nil, err
	}
	return s.eval(ctx, art, doc)
}

// EvalVersion evaluates a pinned version of a stored rule set, drafts
// included, so authors can preview unpublished changes.
func (s *Service) EvalVersion(ctx context.Context, tenantID, key string, version int, doc map[string]interface{}) (*rules.Outcome, error) {
	art, err := s.artifacts.GetVersion(ctx, tenantID, artifact.KindRuleSet, key, version)
	if err != nil {
		return nil, err
	}
	return s.eval(ctx, art, doc)
}

// Test validates and evaluates an ad-hoc rule set without storing it.
func (s *Service) Test(ctx context.Context, rs rules.RuleSet, doc map[string]interface{}) (*rules.Outcome, error) {
	if err := rules.Validate(rs); err != nil {
		return nil, err
	}
	out, err := rules.EvalRuleSet(ctx, rs, expr.Context(doc))
	metrics.RecordRuleEval(out != nil && out.Matched, err)
	return out, err
}

func (s *Service) eval(ctx context.Context, art artifact.Artifact, doc map[string]interface{}) (*rules.Outcome, error) {
	rs, err := decode(art.Spec)
	if err != nil {
		return nil, fmt.Errorf("ruleset %s v%d: %w", art.Key, art.Version, err)
	}
	out, err := rules.EvalRuleSet(ctx, rs, expr.Context(doc))
	metrics.RecordRuleEval(out != nil && out.Matched, err)
	if err != nil {
		return nil, fmt.Errorf("ruleset %s v%d: %w", art.Key, art.Version, err)
	}
	s.log.Infof("ruleset %s v%d evaluated, matched=%t", art.Key, art.Version, out.Matched)
	return out, nil
}

func decode(spec json.RawMessage) (rules.RuleSet, error) {
	var rs rules.RuleSet
	if err := json.Unmarshal(spec, &rs); err != nil {
		return rules.RuleSet{}, fmt.Errorf("decode spec: %w", err)
	}
	return rs, nil
}
