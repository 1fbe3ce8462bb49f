package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	utilyaml "k8s.io/apimachinery/pkg/util/yaml"

	"converge/internal/api"
	"converge/internal/source"
	v1alpha1 "converge/pkg/apis/converge/v1alpha1"
)

// Renderer normalizes raw manifest snapshots into the typed, uniquely
// keyed desired resource set for one application at one revision.
//
// A render failure is total: implementations never return a partial
// resource set, so the engine never syncs an incomplete desired state.
type Renderer interface {
	Render(app *v1alpha1.Application, revision string, manifests []source.Manifest) ([]api.Resource, error)
}

// Normalizer is the default Renderer. It decodes multi-document YAML or
// JSON manifests into generic value trees, validates identity fields,
// defaults missing namespaces from the application destination, and
// rejects duplicate resource keys.
type Normalizer struct{}

// NewNormalizer creates the default renderer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Render implements Renderer.
func (n *Normalizer) Render(app *v1alpha1.Application, _ string, manifests []source.Manifest) ([]api.Resource, error) {
	var resources []api.Resource
	seen := make(map[api.ResourceKey]string)

	for _, manifest := range manifests {
		decoder := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(manifest.Data), 4096)
		for doc := 0; ; doc++ {
			var obj map[string]any
			err := decoder.Decode(&obj)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, &api.RenderError{Manifest: manifest.Path, Document: doc, Err: err}
			}
			if len(obj) == 0 {
				continue
			}

			res, err := normalize(app, obj)
			if err != nil {
				return nil, &api.RenderError{Manifest: manifest.Path, Document: doc, Err: err}
			}
			if prev, dup := seen[res.Key]; dup {
				return nil, &api.RenderError{
					Manifest: manifest.Path,
					Document: doc,
					Err:      fmt.Errorf("duplicate resource %s (first declared in %s)", res.Key, prev),
				}
			}
			seen[res.Key] = manifest.Path
			resources = append(resources, res)
		}
	}
	return resources, nil
}

// normalize validates identity fields and builds the resource descriptor.
func normalize(app *v1alpha1.Application, obj map[string]any) (api.Resource, error) {
	kind, _ := obj["kind"].(string)
	if kind == "" {
		return api.Resource{}, fmt.Errorf("missing kind")
	}

	meta, _ := obj["metadata"].(map[string]any)
	if meta == nil {
		return api.Resource{}, fmt.Errorf("%s: missing metadata", kind)
	}
	name, _ := meta["name"].(string)
	if name == "" {
		return api.Resource{}, fmt.Errorf("%s: missing metadata.name", kind)
	}

	namespace, _ := meta["namespace"].(string)
	if namespace == "" && app.Spec.Destination.Namespace != "" && kind != "Namespace" {
		namespace = app.Spec.Destination.Namespace
		meta["namespace"] = namespace
	}

	return api.Resource{
		Key:    api.ResourceKey{Kind: kind, Namespace: namespace, Name: name},
		Object: obj,
	}, nil
}
