package enrichment

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
)

//go:embed workflows.yaml
var defaultWorkflowsYAML []byte

// Rule routes an asset to a workflow when its metadata matches. Exactly one
// of Contains, Equals or GreaterThan is used; AssetTypes, when set, must also
// match.
type Rule struct {
	Workflow    string             `yaml:"workflow"`
	Field       string             `yaml:"field"`
	Contains    string             `yaml:"contains"`
	Equals      string             `yaml:"equals"`
	GreaterThan *float64           `yaml:"greater_than"`
	AssetTypes  []domain.AssetType `yaml:"asset_types"`
}

type routingFile struct {
	DefaultWorkflow string            `yaml:"default_workflow"`
	Workflows       []domain.Workflow `yaml:"workflows"`
	Rules           []Rule            `yaml:"rules"`
}

// Router picks the workflow for an asset from its pre-existing metadata.
type Router struct {
	workflows map[string]domain.Workflow
	rules     []Rule
	fallback  string
}

// DefaultRouter uses the routing table compiled into the binary.
func DefaultRouter() (*Router, error) {
	return ParseRouting(defaultWorkflowsYAML)
}

// LoadRouting reads a routing table from path, or the built-in table when
// path is empty.
func LoadRouting(path string) (*Router, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRouter()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflows file: %w", err)
	}
	return ParseRouting(raw)
}

func ParseRouting(raw []byte) (*Router, error) {
	var file routingFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse workflows", err)
	}

	r := &Router{
		workflows: make(map[string]domain.Workflow, len(file.Workflows)),
		rules:     file.Rules,
		fallback:  strings.TrimSpace(file.DefaultWorkflow),
	}
	for _, wf := range file.Workflows {
		name := strings.TrimSpace(wf.Name)
		if name == "" {
			return nil, invalidRouting("workflow without a name")
		}
		if len(wf.Capabilities) == 0 {
			return nil, invalidRouting("workflow %s has no capabilities", name)
		}
		wf.Name = name
		r.workflows[name] = wf
	}
	if r.fallback == "" {
		return nil, invalidRouting("default_workflow is required")
	}
	if _, ok := r.workflows[r.fallback]; !ok {
		return nil, invalidRouting("default workflow %s is not defined", r.fallback)
	}
	for i, rule := range r.rules {
		if _, ok := r.workflows[rule.Workflow]; !ok {
			return nil, invalidRouting("rule %d targets unknown workflow %q", i, rule.Workflow)
		}
		if strings.TrimSpace(rule.Field) == "" && len(rule.AssetTypes) == 0 {
			return nil, invalidRouting("rule %d has neither field nor asset_types", i)
		}
	}
	return r, nil
}

func invalidRouting(format string, args ...any) error {
	return domain.WrapError(domain.ErrInvalidInput, "validate workflows", fmt.Errorf(format, args...))
}

// Select returns the first matching rule's workflow, else the default.
func (r *Router) Select(asset domain.Asset) domain.Workflow {
	for _, rule := range r.rules {
		if rule.matches(asset) {
			return r.workflows[rule.Workflow]
		}
	}
	return r.workflows[r.fallback]
}

// Workflow looks a workflow up by name.
func (r *Router) Workflow(name string) (domain.Workflow, bool) {
	wf, ok := r.workflows[name]
	return wf, ok
}

// CapabilityNames lists every capability referenced by any workflow.
func (r *Router) CapabilityNames() []string {
	seen := map[string]bool{}
	var out []string
	for _, wf := range r.workflows {
		for _, step := range wf.Capabilities {
			if !seen[step.Name] {
				seen[step.Name] = true
				out = append(out, step.Name)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (rule Rule) matches(asset domain.Asset) bool {
	if len(rule.AssetTypes) > 0 {
		ok := false
		for _, t := range rule.AssetTypes {
			if t == asset.AssetType {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if rule.Field == "" {
		return true
	}

	switch {
	case rule.Contains != "":
		value := asset.Metadata.String(rule.Field)
		return strings.Contains(strings.ToLower(value), strings.ToLower(rule.Contains))
	case rule.Equals != "":
		return strings.EqualFold(strings.TrimSpace(asset.Metadata.String(rule.Field)), rule.Equals)
	case rule.GreaterThan != nil:
		value, ok := asset.Metadata.Number(rule.Field)
		return ok && value > *rule.GreaterThan
	default:
		_, ok := asset.Metadata[rule.Field]
		return ok
	}
}
