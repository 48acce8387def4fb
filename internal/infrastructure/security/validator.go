package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/opsai/assets"
	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/pkg/filesystem"
	"github.com/doeshing/opsai/internal/ports"
)

// Validator implements the CommandValidator port. Once built it never changes,
// so it is safe for concurrent use.
type Validator struct {
	blacklist []compiledRule
	warning   []compiledRule
	safe      []compiledRule
	logger    ports.Logger
}

type compiledRule struct {
	re   *regexp.Regexp
	rule Rule
}

// Rule describes a regex-based classification rule.
type Rule struct {
	Pattern       string `yaml:"pattern"`
	Message       string `yaml:"message,omitempty"`
	CaseSensitive bool   `yaml:"case_sensitive,omitempty"`
}

// RulesFile is the YAML schema root.
type RulesFile struct {
	Rules struct {
		Blacklist []Rule `yaml:"blacklist"`
		Warning   []Rule `yaml:"warning"`
		Safe      []Rule `yaml:"safe"`
	} `yaml:"rules"`
}

// NewValidator compiles the built-in tiers and appends the blacklist and
// warning rules found in extraRulesPath. A missing file is not an error.
// Extra safe rules are ignored: operators may only tighten classification.
func NewValidator(extraRulesPath string, logger ports.Logger) (*Validator, error) {
	builtin, err := parseRules(assets.DefaultRulesYAML)
	if err != nil {
		return nil, fmt.Errorf("built-in rules: %w", err)
	}
	extra, err := loadRules(extraRulesPath)
	if err != nil {
		return nil, err
	}

	v := &Validator{logger: logger}
	if v.blacklist, err = compileRules(builtin.Rules.Blacklist, extra.Rules.Blacklist); err != nil {
		return nil, err
	}
	if v.warning, err = compileRules(builtin.Rules.Warning, extra.Rules.Warning); err != nil {
		return nil, err
	}
	if v.safe, err = compileRules(builtin.Rules.Safe); err != nil {
		return nil, err
	}
	return v, nil
}

// ValidateCommand classifies a single command. The first matching tier wins.
func (v *Validator) ValidateCommand(command string) domain.ValidationResult {
	trimmed := strings.TrimSpace(command)

	if match(v.blacklist, trimmed) {
		if v.logger != nil {
			v.logger.Warn("blocked dangerous command", map[string]interface{}{"command": trimmed})
		}
		return domain.ValidationResult{
			IsValid:         false,
			RiskLevel:       domain.RiskCritical,
			BlockedCommands: []string{trimmed},
			WarningCommands: []string{},
			Reason:          domain.ReasonCommandBlocked,
		}
	}
	if match(v.warning, trimmed) {
		return domain.ValidationResult{
			IsValid:         true,
			RiskLevel:       domain.RiskHigh,
			BlockedCommands: []string{},
			WarningCommands: []string{trimmed},
			Reason:          domain.ReasonCommandWarning,
		}
	}

	level := domain.RiskMedium
	if match(v.safe, trimmed) {
		level = domain.RiskSafe
	}
	return domain.ValidationResult{
		IsValid:         true,
		RiskLevel:       level,
		BlockedCommands: []string{},
		WarningCommands: []string{},
	}
}

// ValidateCommands aggregates per-command verdicts preserving input order.
func (v *Validator) ValidateCommands(commands []string) domain.ValidationResult {
	result := domain.ValidationResult{
		RiskLevel:       domain.RiskSafe,
		BlockedCommands: []string{},
		WarningCommands: []string{},
	}
	for _, command := range commands {
		single := v.ValidateCommand(command)
		if !single.IsValid {
			result.BlockedCommands = append(result.BlockedCommands, single.BlockedCommands...)
		}
		result.WarningCommands = append(result.WarningCommands, single.WarningCommands...)
		result.RiskLevel = domain.MaxRisk(result.RiskLevel, single.RiskLevel)
	}

	result.IsValid = len(result.BlockedCommands) == 0
	switch {
	case !result.IsValid:
		result.Reason = domain.ReasonBatchBlocked
	case len(result.WarningCommands) > 0:
		result.Reason = domain.ReasonBatchNeedsApproval
	}
	return result
}

var (
	dollarSubstitution   = regexp.MustCompile(`\$\([^)]*\)`)
	backtickSubstitution = regexp.MustCompile("`[^`]*`")
)

// Sanitize strips command substitutions for display. It is not a security boundary.
func (v *Validator) Sanitize(command string) string {
	out := dollarSubstitution.ReplaceAllString(command, "")
	out = backtickSubstitution.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

func match(rules []compiledRule, command string) bool {
	for _, rule := range rules {
		if rule.re.MatchString(command) {
			return true
		}
	}
	return false
}

func compileRules(groups ...[]Rule) ([]compiledRule, error) {
	var compiled []compiledRule
	for _, group := range groups {
		for _, rule := range group {
			expr := rule.Pattern
			if !rule.CaseSensitive {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q: %w", rule.Pattern, err)
			}
			compiled = append(compiled, compiledRule{re: re, rule: rule})
		}
	}
	return compiled, nil
}

func loadRules(path string) (RulesFile, error) {
	if path == "" {
		return RulesFile{}, nil
	}
	data, err := os.ReadFile(filesystem.ExpandPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return RulesFile{}, nil
		}
		return RulesFile{}, fmt.Errorf("read rules file: %w", err)
	}
	rules, err := parseRules(data)
	if err != nil {
		return RulesFile{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return rules, nil
}

func parseRules(data []byte) (RulesFile, error) {
	var rules RulesFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RulesFile{}, err
	}
	return rules, nil
}

var _ ports.CommandValidator = (*Validator)(nil)
