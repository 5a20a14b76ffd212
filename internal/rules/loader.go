package rules

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ruleFile is the on-disk layout of a rule seed file.
type ruleFile struct {
	Rules []*domain.FraudRule `yaml:"rules"`
}

// LoadYAML reads rules from a YAML seed file. Every rule must name its
// organization.
func LoadYAML(path string) ([]*domain.FraudRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a rule seed document.
func ParseYAML(data []byte) ([]*domain.FraudRule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	for i, r := range f.Rules {
		if r.ID == "" || r.OrganizationID == "" {
			return nil, fmt.Errorf("%w: rule %d needs id and organizationId", domain.ErrInvalidRule, i)
		}
	}
	return f.Rules, nil
}

// RuleWriter persists rules.
type RuleWriter interface {
	SaveFraudRule(ctx context.Context, orgID string, rule *domain.FraudRule) error
}

// Seed validates and stores rules. It stops at the first invalid rule.
func Seed(ctx context.Context, w RuleWriter, e *Evaluator, rules []*domain.FraudRule) error {
	for _, r := range rules {
		if err := e.Validate(r); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if err := w.SaveFraudRule(ctx, r.OrganizationID, r); err != nil {
			return fmt.Errorf("failed to seed rule %s: %w", r.ID, err)
		}
	}
	return nil
}
