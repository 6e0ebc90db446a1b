package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PartnerConfig はパートナー設定ファイルの1エントリ。
type PartnerConfig struct {
	Identifier string            `yaml:"identifier"`
	Name       string            `yaml:"name"`
	URL        string            `yaml:"url"`
	Key        string            `yaml:"key"`
	Enabled    *bool             `yaml:"enabled"`
	Metadata   map[string]string `yaml:"metadata"`
}

// IsEnabled は有効フラグを返す。未指定の場合は有効とみなす。
func (p PartnerConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type partnersFile struct {
	Partners []PartnerConfig `yaml:"partners"`
}

// LoadPartnersFile はYAMLファイルからパートナー設定を読み込む。
func LoadPartnersFile(path string) ([]PartnerConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read partners file: %w", err)
	}
	return ParsePartners(bytes.NewReader(b))
}

// ParsePartners はYAMLからパートナー設定を読み込み、検証する。
func ParsePartners(r io.Reader) ([]PartnerConfig, error) {
	var f partnersFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse partners file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Partners))
	for i := range f.Partners {
		p := &f.Partners[i]
		p.Identifier = strings.TrimSpace(p.Identifier)
		p.URL = strings.TrimSpace(p.URL)
		if p.Identifier == "" {
			return nil, fmt.Errorf("partners[%d]: identifier is required", i)
		}
		if p.URL == "" {
			return nil, fmt.Errorf("partners[%d] (%s): url is required", i, p.Identifier)
		}
		if _, dup := seen[p.Identifier]; dup {
			return nil, fmt.Errorf("partners[%d]: duplicate identifier %q", i, p.Identifier)
		}
		seen[p.Identifier] = struct{}{}
		if p.Name == "" {
			p.Name = p.Identifier
		}
	}
	return f.Partners, nil
}
