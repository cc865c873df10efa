package vocabulary

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// wordFile is the structured form of an ignore-list file:
//
//	ignore:
//	  - Agenda
//	  - 議事録
type wordFile struct {
	Ignore []string `yaml:"ignore" json:"ignore"`
}

// LoadFile reads an ignore list from path.
//
//   - .yaml / .yml: either a top-level sequence or a mapping with an "ignore" key
//   - .json: either an array of strings or {"ignore": [...]}
//   - anything else: one word per line, blank lines and "#" comments skipped
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ignore file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		words, err := parseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return words, nil
	case ".json":
		words, err := parseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return words, nil
	default:
		return parseLines(data), nil
	}
}

func parseYAML(data []byte) ([]string, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var words []string
		if err := root.Decode(&words); err != nil {
			return nil, err
		}
		return words, nil
	case yaml.MappingNode:
		var f wordFile
		if err := root.Decode(&f); err != nil {
			return nil, err
		}
		return f.Ignore, nil
	default:
		return nil, fmt.Errorf("expected a list or an 'ignore' mapping, got %s", root.Tag)
	}
}

func parseJSON(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var words []string
		err := json.Unmarshal(trimmed, &words)
		return words, err
	}
	var f wordFile
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, err
	}
	return f.Ignore, nil
}

func parseLines(data []byte) []string {
	var words []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	return words
}
