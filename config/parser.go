package config

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/autoglean/types"
)

const redacted = "********"

// secretPaths are masked by Parser.Render.
var secretPaths = []string{"api.token"}

// Parser gives dotted-path access to a configuration, e.g. "cache.config.path".
// It works on the YAML view of the config, so keys are the yaml tag names.
type Parser struct {
	tree map[string]interface{}
}

func NewParser(config *types.ServiceConfig) (*Parser, error) {
	raw, err := yaml.Marshal(config)
	if err != nil {
		return nil, types.Wrap(types.ErrConfigParseFailed, err)
	}

	tree := make(map[string]interface{})
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, types.Wrap(types.ErrConfigParseFailed, err)
	}

	return &Parser{tree: tree}, nil
}

// Lookup returns the value at path. The empty path is the whole tree.
func (p *Parser) Lookup(path string) (interface{}, bool) {
	if path == "" {
		return p.tree, true
	}

	var node interface{} = p.tree
	for _, key := range strings.Split(path, ".") {
		branch, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if node, ok = branch[key]; !ok || node == nil {
			return nil, false
		}
	}

	return node, true
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	if value, ok := p.Lookup(path); ok {
		return value
	}
	return defaultValue
}

// GetAs decodes the subtree at path into target using its yaml tags.
func (p *Parser) GetAs(path string, target interface{}) error {
	value, ok := p.Lookup(path)
	if !ok {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return types.Wrap(types.ErrConfigParseFailed, err)
	}

	if err := node.Decode(target); err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "path %s: %v", path, err)
	}

	return nil
}

// Render returns the subtree at path as YAML with secrets masked.
func (p *Parser) Render(path string) ([]byte, error) {
	masked, err := p.clone()
	if err != nil {
		return nil, err
	}
	masked.mask()

	value, ok := masked.Lookup(path)
	if !ok {
		return nil, types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	return yaml.Marshal(value)
}

func (p *Parser) clone() (*Parser, error) {
	raw, err := yaml.Marshal(p.tree)
	if err != nil {
		return nil, types.Wrap(types.ErrConfigParseFailed, err)
	}

	clone := make(map[string]interface{})
	if err := yaml.Unmarshal(raw, &clone); err != nil {
		return nil, types.Wrap(types.ErrConfigParseFailed, err)
	}

	return &Parser{tree: clone}, nil
}

func (p *Parser) mask() {
	for _, path := range secretPaths {
		keys := strings.Split(path, ".")
		parent, ok := p.Lookup(strings.Join(keys[:len(keys)-1], "."))
		if !ok {
			continue
		}
		branch, ok := parent.(map[string]interface{})
		if !ok {
			continue
		}
		if value, ok := branch[keys[len(keys)-1]].(string); ok && value != "" {
			branch[keys[len(keys)-1]] = redacted
		}
	}
}
