// Package policy decides which tools the server exposes and which paths
// file-reading tools may touch.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Policy is the tool access policy.
type Policy struct {
	DefaultDeny bool
	Workspace   string
	HomeDir     string
	Tools       map[string]*ToolPolicy
}

// ToolPolicy is the policy for one tool.
type ToolPolicy struct {
	Enabled bool
	Allow   []string
	Deny    []string
}

// New creates a permissive policy: every tool enabled, every path allowed.
func New() *Policy {
	homeDir, _ := os.UserHomeDir()
	workspace, _ := os.Getwd()
	return &Policy{
		Workspace: workspace,
		HomeDir:   homeDir,
		Tools:     make(map[string]*ToolPolicy),
	}
}

// LoadFile loads a policy from a TOML file. Relative $WORKSPACE patterns
// resolve against the current directory.
func LoadFile(path string) (*Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(string(content))
}

// Parse parses a policy from TOML content:
//
//	default_deny = true
//	workspace = "/srv/project"
//
//	[analyze_file]
//	allow = ["$WORKSPACE/**"]
//	deny = ["$WORKSPACE/.git/**"]
//
//	[log_work]
//	enabled = false
func Parse(content string) (*Policy, error) {
	var base struct {
		DefaultDeny bool   `toml:"default_deny"`
		Workspace   string `toml:"workspace"`
	}
	if _, err := toml.Decode(content, &base); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	pol := New()
	pol.DefaultDeny = base.DefaultDeny
	if base.Workspace != "" {
		pol.Workspace = base.Workspace
	}

	// Every table is a tool section.
	var raw map[string]interface{}
	if _, err := toml.Decode(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	for key, value := range raw {
		toolMap, ok := value.(map[string]interface{})
		if !ok {
			continue
		}

		tp := &ToolPolicy{Enabled: true}
		if v, ok := toolMap["enabled"].(bool); ok {
			tp.Enabled = v
		}
		if v, ok := toolMap["allow"].([]interface{}); ok {
			tp.Allow = toStringSlice(v)
		}
		if v, ok := toolMap["deny"].([]interface{}); ok {
			tp.Deny = toStringSlice(v)
		}
		pol.Tools[key] = tp
	}

	return pol, nil
}

func toStringSlice(v []interface{}) []string {
	result := make([]string, 0, len(v))
	for _, item := range v {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// GetToolPolicy returns the policy for a tool, with defaults.
func (p *Policy) GetToolPolicy(tool string) *ToolPolicy {
	if p == nil || p.Tools == nil {
		return &ToolPolicy{Enabled: true}
	}
	if tp, ok := p.Tools[tool]; ok {
		return tp
	}
	return &ToolPolicy{Enabled: true}
}

// IsToolEnabled checks if a tool is enabled.
func (p *Policy) IsToolEnabled(tool string) bool {
	return p.GetToolPolicy(tool).Enabled
}

// CheckPath checks if a path is allowed for a tool. Deny patterns win over
// allow patterns. Symlinks are resolved before matching.
func (p *Policy) CheckPath(tool, path string) (bool, string) {
	tp := p.GetToolPolicy(tool)
	if !tp.Enabled {
		return false, fmt.Sprintf("tool %s is disabled", tool)
	}

	absPath := resolvePath(path)

	for _, pattern := range tp.Deny {
		if matchPath(p.expandPattern(pattern), absPath) {
			return false, fmt.Sprintf("path %s matches deny pattern %s", path, pattern)
		}
	}

	if len(tp.Allow) > 0 {
		for _, pattern := range tp.Allow {
			if matchPath(p.expandPattern(pattern), absPath) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("path %s not in allow list", path)
	}

	if p != nil && p.DefaultDeny {
		return false, fmt.Sprintf("path %s not in allow list (default_deny=true)", path)
	}
	return true, ""
}

// resolvePath makes path absolute and resolves symlinks where it exists.
func resolvePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if real, err := filepath.EvalSymlinks(absPath); err == nil {
		return real
	}
	return absPath
}

// expandPattern expands $WORKSPACE and ~ in patterns.
func (p *Policy) expandPattern(pattern string) string {
	if p == nil {
		return pattern
	}
	if strings.HasPrefix(pattern, "$WORKSPACE") {
		pattern = strings.Replace(pattern, "$WORKSPACE", p.Workspace, 1)
	}
	if strings.HasPrefix(pattern, "~") {
		pattern = strings.Replace(pattern, "~", p.HomeDir, 1)
	}
	return pattern
}

// matchPath matches a path against a glob pattern. "**" matches any number
// of path segments; "*" stays within one segment.
func matchPath(pattern, path string) bool {
	pattern = filepath.Clean(pattern)
	path = filepath.Clean(path)
	sep := string(filepath.Separator)

	if strings.Contains(pattern, "**") {
		parts := strings.SplitN(pattern, "**", 2)
		prefix := strings.TrimSuffix(parts[0], sep)
		suffix := strings.TrimPrefix(parts[1], sep)

		remaining := path
		if prefix != "" {
			if path != prefix && !strings.HasPrefix(path, prefix+sep) {
				return false
			}
			remaining = strings.TrimPrefix(strings.TrimPrefix(path, prefix), sep)
		}

		if suffix == "" {
			return true
		}
		if strings.HasSuffix(remaining, suffix) {
			return true
		}
		matched, _ := filepath.Match(suffix, filepath.Base(remaining))
		return matched
	}

	matched, _ := filepath.Match(pattern, path)
	return matched
}
