// ABOUTME: Rule catalog loading and registry for security-hardening checks.
// ABOUTME: Parses the YAML catalog, validates it, and applies category exclusions.

package catalog

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/complyd/complyd/internal/types"

	"gopkg.in/yaml.v3"
)

// ConfigError marks a malformed catalog. The process must not start with one.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "catalog config error: " + e.Reason
}

// Rule is one check definition. Immutable at scan time; the target fields
// used depend on the category.
type Rule struct {
	ID          string         `yaml:"id"`
	Category    types.Category `yaml:"category"`
	Title       string         `yaml:"title"`
	Severity    types.Severity `yaml:"severity"`
	Description string         `yaml:"description"`
	Fix         string         `yaml:"fix"`
	Enabled     *bool          `yaml:"enabled"` // nil means enabled

	// file_permission target
	Path  string `yaml:"path,omitempty"`
	Mode  string `yaml:"mode,omitempty"` // octal, e.g. "0644"
	Owner string `yaml:"owner,omitempty"`
	Group string `yaml:"group,omitempty"`

	// user_group target
	User           string `yaml:"user,omitempty"`
	Assert         string `yaml:"assert,omitempty"` // "exists", "absent", "password_max_age"
	MaxPasswordAge int    `yaml:"max_password_age,omitempty"`

	// service target
	Service      string `yaml:"service,omitempty"`
	State        string `yaml:"state,omitempty"` // "active" or "inactive"
	WantEnabled  *bool  `yaml:"want_enabled,omitempty"`

	// network target
	Port      int    `yaml:"port,omitempty"`
	PortState string `yaml:"port_state,omitempty"` // "closed" or "open"
}

// IsEnabled reports whether the rule itself is enabled (default true).
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Target returns the value matched against the category exclusion list.
func (r *Rule) Target() string {
	switch r.Category {
	case types.CategoryFilePermission:
		return r.Path
	case types.CategoryUserGroup:
		return r.User
	case types.CategoryService:
		return r.Service
	case types.CategoryNetwork:
		return strconv.Itoa(r.Port)
	}
	return ""
}

// CategoryConfig is the per-category scanner configuration.
type CategoryConfig struct {
	Enabled    *bool    `yaml:"enabled"` // nil means enabled
	Exclusions []string `yaml:"exclusions"`
}

func (c CategoryConfig) isEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type catalogFile struct {
	Categories map[types.Category]CategoryConfig `yaml:"categories"`
	Rules      []Rule                            `yaml:"rules"`
}

// Catalog holds the validated rule set. Read-only after Load.
type Catalog struct {
	rules      []Rule
	categories map[types.Category]CategoryConfig
}

// Load reads and validates the catalog from a YAML file. Duplicate rule ids
// and unknown categories are fatal load-time errors.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse validates catalog bytes. Split from Load for testability.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &ConfigError{Reason: "invalid YAML: " + err.Error()}
	}

	for category := range file.Categories {
		if !category.Valid() {
			return nil, &ConfigError{Reason: fmt.Sprintf("unknown category %q in category config", category)}
		}
	}

	seen := make(map[string]bool, len(file.Rules))
	for i, rule := range file.Rules {
		if rule.ID == "" {
			return nil, &ConfigError{Reason: fmt.Sprintf("rule %d has no id", i)}
		}
		if seen[rule.ID] {
			return nil, &ConfigError{Reason: fmt.Sprintf("duplicate rule id %q", rule.ID)}
		}
		seen[rule.ID] = true
		if !rule.Category.Valid() {
			return nil, &ConfigError{Reason: fmt.Sprintf("rule %q has unknown category %q", rule.ID, rule.Category)}
		}
		if !rule.Severity.Valid() {
			return nil, &ConfigError{Reason: fmt.Sprintf("rule %q has invalid severity %q", rule.ID, rule.Severity)}
		}
	}

	if file.Categories == nil {
		file.Categories = make(map[types.Category]CategoryConfig)
	}

	return &Catalog{rules: file.Rules, categories: file.Categories}, nil
}

// Rules returns every rule in catalog order, regardless of enablement.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// EnabledRules returns the rules in scope for a scan, in catalog order:
// rule enabled, category enabled, and target not excluded. When categories
// are given, only rules from those categories are returned.
//
// An excluded rule is skipped entirely; it produces no finding and does not
// count toward a scan's total checks.
func (c *Catalog) EnabledRules(categories ...types.Category) []Rule {
	var wanted map[types.Category]bool
	if len(categories) > 0 {
		wanted = make(map[types.Category]bool, len(categories))
		for _, cat := range categories {
			wanted[cat] = true
		}
	}

	var out []Rule
	for _, rule := range c.rules {
		if wanted != nil && !wanted[rule.Category] {
			continue
		}
		if !rule.IsEnabled() {
			continue
		}
		cfg := c.categories[rule.Category]
		if !cfg.isEnabled() {
			continue
		}
		if c.excluded(rule, cfg.Exclusions) {
			continue
		}
		out = append(out, rule)
	}
	return out
}

func (c *Catalog) excluded(rule Rule, exclusions []string) bool {
	target := rule.Target()
	if target == "" {
		return false
	}
	for _, entry := range exclusions {
		if rule.Category == types.CategoryFilePermission {
			if pathExcluded(target, entry) {
				return true
			}
		} else if target == entry {
			return true
		}
	}
	return false
}

// pathExcluded matches on whole path segments: a target is excluded when it
// equals the entry or lies under the entry treated as a directory. "/etc/ssh"
// excludes "/etc/ssh/sshd_config" but not "/etc/sshd".
func pathExcluded(target, entry string) bool {
	entry = strings.TrimSuffix(entry, "/")
	if entry == "" {
		return false
	}
	return target == entry || strings.HasPrefix(target, entry+"/")
}
