package config

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-sync/types"
)

type Parser struct {
	data map[string]interface{}
}

func NewParser(rawData *map[string]interface{}) *Parser {
	parser := &Parser{
		data: make(map[string]interface{}),
	}

	if rawData != nil {
		parser.data = *rawData
	}

	return parser
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	value := p.navigateToPath(path)
	if value == nil {
		return defaultValue
	}
	return value
}

func (p *Parser) GetAs(path string, target interface{}) error {
	value := p.navigateToPath(path)
	if value == nil {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	valueBytes, err := yaml.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to marshal config value")
	}

	if err = yaml.Unmarshal(valueBytes, target); err != nil {
		return types.WrapError(err, "failed to unmarshal config value")
	}

	return nil
}

func (p *Parser) GetAllPaths() ([]string, error) {
	var paths []string
	collectPaths("", p.data, &paths)
	sort.Strings(paths)
	return paths, nil
}

func collectPaths(prefix string, value interface{}, paths *[]string) {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, child := range v {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			*paths = append(*paths, path)
			collectPaths(path, child, paths)
		}
	case map[interface{}]interface{}:
		for key, child := range v {
			keyStr, ok := key.(string)
			if !ok {
				continue
			}
			path := keyStr
			if prefix != "" {
				path = prefix + "." + keyStr
			}
			*paths = append(*paths, path)
			collectPaths(path, child, paths)
		}
	}
}

func (p *Parser) navigateToPath(path string) interface{} {
	if path == "" {
		return p.data
	}

	parts := strings.Split(path, ".")
	var current interface{} = p.data

	for _, part := range parts {
		switch v := current.(type) {
		case map[string]interface{}:
			if val, exists := v[part]; exists {
				current = val
			} else {
				return nil
			}
		case map[interface{}]interface{}:
			if val, exists := v[part]; exists {
				current = val
			} else {
				return nil
			}
		default:
			return nil
		}

		if current == nil {
			return nil
		}
	}

	return current
}
