package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"

	v1alpha1 "converge/pkg/apis/converge/v1alpha1"
	"converge/pkg/logging"
)

// LoadApplications reads every application definition under dir, one
// YAML file per application. A missing directory yields an empty set; a
// malformed or invalid definition fails the whole load so the engine
// never starts with a partial application inventory.
func LoadApplications(dir string) ([]*v1alpha1.Application, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		logging.Info("ConfigLoader", "No applications directory at %s", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading applications directory %s: %w", dir, err)
	}

	var apps []*v1alpha1.Application
	seen := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		app, err := LoadApplication(path)
		if err != nil {
			return nil, err
		}

		name := app.QualifiedName()
		if other, dup := seen[name]; dup {
			return nil, fmt.Errorf("application %s defined in both %s and %s", name, other, path)
		}
		seen[name] = path
		apps = append(apps, app)
	}

	sort.Slice(apps, func(i, j int) bool { return apps[i].QualifiedName() < apps[j].QualifiedName() })
	logging.Info("ConfigLoader", "Loaded %d application(s) from %s", len(apps), dir)
	return apps, nil
}

// LoadApplication reads and validates a single application definition.
func LoadApplication(path string) (*v1alpha1.Application, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading application from %s: %w", path, err)
	}

	var app v1alpha1.Application
	if err := yaml.UnmarshalStrict(data, &app); err != nil {
		return nil, fmt.Errorf("error parsing application from %s: %w", path, err)
	}
	if err := app.Validate(); err != nil {
		return nil, fmt.Errorf("invalid application in %s: %w", path, err)
	}
	return &app, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
