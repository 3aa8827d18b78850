// Package skillmem implements the skill and memory tools. Skills are
// directories holding a SKILL.md with YAML frontmatter; memory is a
// markdown store under per-user and per-project roots.
package skillmem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coworklabs/cowork/internal/tools"
)

// Skill is one discovered skill document.
type Skill struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Path        string `yaml:"-" json:"-"`
}

// DiscoverSkills scans the given roots for <root>/<dir>/SKILL.md entries.
// Later roots win on name collision, so project skills shadow user ones.
func DiscoverSkills(roots ...string) []Skill {
	byName := map[string]Skill{}
	for _, root := range roots {
		if root == "" {
			continue
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(root, entry.Name(), "SKILL.md")
			skill, err := parseSkillFile(path)
			if err != nil {
				continue
			}
			byName[skill.Name] = skill
		}
	}

	skills := make([]Skill, 0, len(byName))
	for _, s := range byName {
		skills = append(skills, s)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills
}

// parseSkillFile reads the YAML frontmatter between --- markers.
func parseSkillFile(path string) (Skill, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	content := string(raw)
	if !strings.HasPrefix(content, "---") {
		return Skill{}, fmt.Errorf("%s: missing frontmatter", path)
	}
	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return Skill{}, fmt.Errorf("%s: unterminated frontmatter", path)
	}

	var skill Skill
	if err := yaml.Unmarshal([]byte(parts[1]), &skill); err != nil {
		return Skill{}, fmt.Errorf("%s: parse frontmatter: %w", path, err)
	}
	if skill.Name == "" || skill.Description == "" {
		return Skill{}, fmt.Errorf("%s: name and description are required", path)
	}
	skill.Path = path
	return skill, nil
}

// SkillTool lists available skills or loads one by name.
type SkillTool struct {
	// Roots are scanned in order; later roots shadow earlier ones.
	Roots []string
}

type skillArgs struct {
	Name string `json:"name"`
}

func (t *SkillTool) Name() string { return "skill" }

func (t *SkillTool) Description() string {
	return "List available skills, or load a skill's instructions by name."
}

func (t *SkillTool) Schema() json.RawMessage {
	return tools.Schema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Skill to load; omit to list all skills",
			},
		},
	})
}

func (t *SkillTool) Execute(ctx context.Context, tc *tools.Context, raw json.RawMessage) (*tools.Result, error) {
	var args skillArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return tools.ErrorResult("invalid arguments: %v", err), nil
	}

	skills := DiscoverSkills(t.Roots...)
	if args.Name == "" {
		if len(skills) == 0 {
			return tools.TextResult("no skills installed"), nil
		}
		var b strings.Builder
		for _, s := range skills {
			fmt.Fprintf(&b, "%s: %s\n", s.Name, s.Description)
		}
		return &tools.Result{Content: b.String()}, nil
	}

	for _, s := range skills {
		if s.Name != args.Name {
			continue
		}
		raw, err := os.ReadFile(s.Path)
		if err != nil {
			return tools.ErrorResult("read skill %s: %v", args.Name, err), nil
		}
		return &tools.Result{Content: string(raw)}, nil
	}
	return tools.ErrorResult("unknown skill: %s", args.Name), nil
}
