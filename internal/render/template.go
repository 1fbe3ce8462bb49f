package render

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"converge/internal/api"
	"converge/internal/source"
	v1alpha1 "converge/pkg/apis/converge/v1alpha1"
)

// TemplateContext is what manifest templates can reference.
type TemplateContext struct {
	// App is the owning application's identity.
	App struct {
		Name  string
		Scope string
	}

	// Revision is the resolved immutable revision being rendered.
	Revision string

	// Destination is where the rendered state will be applied.
	Destination v1alpha1.Destination
}

// TemplateRenderer expands manifests as Go text templates with the sprig
// function map before handing them to the normalizer. Referencing an
// undefined value fails the whole render.
type TemplateRenderer struct {
	next Renderer
}

// NewTemplateRenderer wraps a renderer with template expansion.
func NewTemplateRenderer(next Renderer) *TemplateRenderer {
	return &TemplateRenderer{next: next}
}

// Render implements Renderer.
func (r *TemplateRenderer) Render(app *v1alpha1.Application, revision string, manifests []source.Manifest) ([]api.Resource, error) {
	tctx := TemplateContext{Revision: revision, Destination: app.Spec.Destination}
	tctx.App.Name = app.Metadata.Name
	tctx.App.Scope = app.Metadata.Scope

	expanded := make([]source.Manifest, 0, len(manifests))
	for _, manifest := range manifests {
		tmpl, err := template.New(manifest.Path).
			Funcs(sprig.TxtFuncMap()).
			Option("missingkey=error").
			Parse(string(manifest.Data))
		if err != nil {
			return nil, &api.RenderError{Manifest: manifest.Path, Document: -1, Err: err}
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, tctx); err != nil {
			return nil, &api.RenderError{Manifest: manifest.Path, Document: -1, Err: err}
		}
		expanded = append(expanded, source.Manifest{Path: manifest.Path, Data: buf.Bytes()})
	}

	return r.next.Render(app, revision, expanded)
}
