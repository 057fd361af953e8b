package fixer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-selfheal/internal/models"
	"github.com/miradorstack/mirador-selfheal/internal/settings"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

// ActionRunner executes one kind of FixAction against an absolute target path.
type ActionRunner interface {
	Run(ctx context.Context, action models.FixAction) error
}

// RunnerFunc adapts a function to ActionRunner.
type RunnerFunc func(ctx context.Context, action models.FixAction) error

// Run implements ActionRunner.
func (f RunnerFunc) Run(ctx context.Context, action models.FixAction) error { return f(ctx, action) }

// DefaultRunners returns the built-in runner registry.
func DefaultRunners() map[models.ActionKind]ActionRunner {
	return map[models.ActionKind]ActionRunner{
		models.ActionSetConfig:         RunnerFunc(setConfig),
		models.ActionWriteMigration:    RunnerFunc(writeMigration),
		models.ActionAppendRequirement: RunnerFunc(appendRequirement),
		models.ActionPatchSource:       RunnerFunc(patchSource),
	}
}

// setConfig stores NewValue, parsed as YAML, at Key in the target settings file.
func setConfig(_ context.Context, action models.FixAction) error {
	if action.Key == "" {
		return utils.NewTargetError("set_config", action.Target, "missing key", nil)
	}
	doc, err := settings.Load(action.Target)
	if err != nil {
		return utils.NewTargetError("set_config", action.Target, "load settings", err)
	}

	var value interface{}
	if err := yaml.Unmarshal([]byte(action.NewValue), &value); err != nil {
		return utils.NewTargetError("set_config", action.Target, "parse value for "+action.Key, err)
	}
	if _, err := doc.Set(action.Key, value); err != nil {
		return utils.NewTargetError("set_config", action.Target, "set "+action.Key, err)
	}

	out, err := doc.Bytes()
	if err != nil {
		return utils.NewTargetError("set_config", action.Target, "encode settings", err)
	}
	if err := utils.WriteFileAtomic(action.Target, out, utils.FileMode(action.Target, 0o644)); err != nil {
		return utils.NewTargetError("set_config", action.Target, "write settings", err)
	}
	return nil
}

// writeMigration creates a new SQL file. Existing files are never overwritten.
func writeMigration(_ context.Context, action models.FixAction) error {
	if _, err := os.Stat(action.Target); err == nil {
		return utils.NewTargetError("write_migration", action.Target, "migration already exists", fs.ErrExist)
	}
	body := strings.TrimRight(action.NewValue, "\n") + "\n"
	if err := utils.WriteFileAtomic(action.Target, []byte(body), 0o644); err != nil {
		return utils.NewTargetError("write_migration", action.Target, "write migration", err)
	}
	return nil
}

// appendRequirement adds NewValue as a line unless a requirement for the same package exists.
func appendRequirement(_ context.Context, action models.FixAction) error {
	data, err := os.ReadFile(action.Target)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return utils.NewTargetError("append_requirement", action.Target, "read manifest", err)
	}

	name := requirementName(action.NewValue)
	for _, line := range strings.Split(string(data), "\n") {
		if requirementName(line) == name && name != "" {
			return nil
		}
	}

	var buf bytes.Buffer
	buf.Write(data)
	if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(strings.TrimSpace(action.NewValue))
	buf.WriteByte('\n')

	if err := utils.WriteFileAtomic(action.Target, buf.Bytes(), utils.FileMode(action.Target, 0o644)); err != nil {
		return utils.NewTargetError("append_requirement", action.Target, "write manifest", err)
	}
	return nil
}

var requirementSplit = regexp.MustCompile(`[\s=<>!~\[;]`)

func requirementName(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	name := requirementSplit.Split(line, 2)[0]
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

// patchSource rewrites every match of Matcher with NewValue. A file with no match is an error.
func patchSource(_ context.Context, action models.FixAction) error {
	re, err := regexp.Compile(action.Matcher)
	if err != nil {
		return utils.NewTargetError("patch_source", action.Target, "compile matcher", err)
	}
	data, err := os.ReadFile(action.Target)
	if err != nil {
		return utils.NewTargetError("patch_source", action.Target, "read source", err)
	}
	if !re.Match(data) {
		return utils.NewTargetError("patch_source", action.Target, fmt.Sprintf("matcher %q not found", action.Matcher), nil)
	}
	out := re.ReplaceAll(data, []byte(action.NewValue))
	if err := utils.WriteFileAtomic(action.Target, out, utils.FileMode(action.Target, 0o644)); err != nil {
		return utils.NewTargetError("patch_source", action.Target, "write source", err)
	}
	return nil
}
