package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

const rulePackSchema = `{
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "category"],
        "additionalProperties": false,
        "anyOf": [{"required": ["when"]}, {"required": ["match"]}],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "category": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
          "when": {"type": "string", "minLength": 1},
          "match": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "type_contains": {"type": "array", "items": {"type": "string"}},
              "message_contains": {"type": "array", "items": {"type": "string"}},
              "source": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

// PackRule is a user-supplied classification rule.
type PackRule struct {
	ID       string        `yaml:"id"`
	Category string        `yaml:"category"`
	When     string        `yaml:"when"`
	Match    PackRuleMatch `yaml:"match"`
}

// PackRuleMatch holds optional substring conditions. All set conditions must hold.
type PackRuleMatch struct {
	TypeContains    []string `yaml:"type_contains"`
	MessageContains []string `yaml:"message_contains"`
	Source          string   `yaml:"source"`
}

// RulePackFile is the YAML root structure.
type RulePackFile struct {
	Rules []PackRule `yaml:"rules"`
}

// LoadRulePack reads, validates and compiles the rule pack at path. A missing or empty
// path yields no rules.
func LoadRulePack(path string, logger *slog.Logger) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return ParseRulePack(data, logger)
}

// ParseRulePack validates a YAML rule pack against its schema and compiles every rule.
func ParseRulePack(data []byte, logger *slog.Logger) ([]Rule, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("rule pack: %w", err)
	}
	if err := validatePack(raw); err != nil {
		return nil, err
	}

	var file RulePackFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rule pack: %w", err)
	}

	env, err := cel.NewEnv(
		cel.Variable("error", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("rule pack: error creating CEL environment: %w", err)
	}

	rules := make([]Rule, 0, len(file.Rules))
	for _, pr := range file.Rules {
		rule, err := compileRule(env, pr, logger)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func validatePack(raw map[string]interface{}) error {
	doc, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("rule pack: failed to serialize document: %w", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(rulePackSchema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("rule pack: schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("rule pack: invalid document: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func compileRule(env *cel.Env, pr PackRule, logger *slog.Logger) (Rule, error) {
	preds := make([]Predicate, 0, 4)
	if len(pr.Match.TypeContains) > 0 {
		preds = append(preds, typeContains(lowerAll(pr.Match.TypeContains)...))
	}
	if len(pr.Match.MessageContains) > 0 {
		preds = append(preds, messageContains(lowerAll(pr.Match.MessageContains)...))
	}
	if pr.Match.Source != "" {
		source := pr.Match.Source
		preds = append(preds, func(e models.Error) bool { return e.Source == source })
	}

	if pr.When != "" {
		ast, issues := env.Compile(pr.When)
		if issues != nil && issues.Err() != nil {
			return Rule{}, fmt.Errorf("rule %s: error compiling expression: %w", pr.ID, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return Rule{}, fmt.Errorf("rule %s: expression must evaluate to bool, got %s", pr.ID, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %s: error building program: %w", pr.ID, err)
		}
		id := pr.ID
		preds = append(preds, func(e models.Error) bool {
			out, _, err := program.Eval(map[string]interface{}{
				"error": map[string]string{
					"type":     e.Type,
					"message":  e.Message,
					"source":   e.Source,
					"severity": string(e.Severity),
				},
			})
			if err != nil {
				logger.Debug("rule evaluation failed", slog.String("rule", id), slog.Any("error", err))
				return false
			}
			if out.Type() != types.BoolType {
				return false
			}
			matched, _ := out.Value().(bool)
			return matched
		})
	}

	return Rule{ID: pr.ID, Category: models.IssueType(pr.Category), Match: allOf(preds...)}, nil
}

func allOf(preds ...Predicate) Predicate {
	return func(e models.Error) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return len(preds) > 0
	}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
