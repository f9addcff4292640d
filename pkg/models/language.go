package models

import (
	_ "embed"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Language is a translatable language known to the system.
// Mutation is limited to IsActive; Code and Name are immutable once bootstrapped.
type Language struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

//go:embed languages.yaml
var defaultLanguagesYAML []byte

type defaultLanguagesFile struct {
	Languages []struct {
		Code string `yaml:"code"`
		Name string `yaml:"name"`
	} `yaml:"languages"`
}

// DefaultLanguages returns the bootstrap language list embedded in the
// binary, used to seed the languages table on first startup.
func DefaultLanguages() ([]Language, error) {
	var parsed defaultLanguagesFile
	if err := yaml.Unmarshal(defaultLanguagesYAML, &parsed); err != nil {
		return nil, fmt.Errorf("parsing embedded default languages: %w", err)
	}

	out := make([]Language, 0, len(parsed.Languages))
	for _, l := range parsed.Languages {
		if err := ValidateLanguageCode(l.Code); err != nil {
			return nil, fmt.Errorf("default language %q: %w", l.Code, err)
		}
		out = append(out, Language{Code: l.Code, Name: l.Name, IsActive: true})
	}
	return out, nil
}

// ValidateLanguageCode checks that code is a parseable BCP-47 tag, the
// format Language.Code is expected to follow (e.g. "en-US", "es").
func ValidateLanguageCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("language code must not be empty")
	}
	if _, err := language.Parse(code); err != nil {
		return fmt.Errorf("invalid BCP-47 language code %q: %w", code, err)
	}
	return nil
}
