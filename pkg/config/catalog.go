package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/docugen-labs/docugen/pkg/contracts"
	"github.com/docugen-labs/docugen/pkg/prompt"
)

// LoadCatalog reads the service catalog YAML, a map keyed by service code:
//
//	LETTER:
//	  name: Compliance Letter
//	  doc_type: LETTER
//	  active: true
func LoadCatalog(path string) (map[string]contracts.ServiceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load service catalog: %w", err)
	}

	var services map[string]contracts.ServiceDefinition
	if err := yaml.Unmarshal(data, &services); err != nil {
		return nil, fmt.Errorf("parse service catalog: %w", err)
	}

	for code, svc := range services {
		if svc.Code == "" {
			svc.Code = code
		}
		if svc.DocType == "" {
			svc.DocType = code
		}
		services[code] = svc
	}
	return services, nil
}

// LoadTemplate loads one managed template YAML file.
func LoadTemplate(path string) (*prompt.ManagedTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load template %q: %w", path, err)
	}

	var tmpl prompt.ManagedTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parse template %q: %w", path, err)
	}

	if tmpl.TemplateID == "" {
		// Derive from filename: template_letter.yaml -> letter
		base := filepath.Base(path)
		tmpl.TemplateID = strings.TrimSuffix(strings.TrimPrefix(base, "template_"), ".yaml")
	}
	return &tmpl, nil
}

// LoadAllTemplates loads every template_*.yaml under dir into a managed
// prompt source.
func LoadAllTemplates(dir string) ([]prompt.ManagedTemplate, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "template_*.yaml"))
	if err != nil {
		return nil, err
	}

	templates := make([]prompt.ManagedTemplate, 0, len(matches))
	for _, path := range matches {
		tmpl, err := LoadTemplate(path)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tmpl)
	}
	return templates, nil
}
