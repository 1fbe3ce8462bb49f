package v1alpha1

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
)

// RevisionLatest is the revision selector that follows the newest commit
// of the repository's default line of history.
const RevisionLatest = "latest"

// SyncOption is a named flag modifying sync behavior.
type SyncOption string

const (
	// SyncOptionCreateNamespace auto-creates the destination namespace
	// before the first wave if it does not exist.
	SyncOptionCreateNamespace SyncOption = "CreateNamespace"
)

// ApplicationMeta identifies an Application.
type ApplicationMeta struct {
	// Name is the unique application name within its scope.
	Name string `json:"name" yaml:"name"`

	// Scope is the logical grouping the application belongs to, for
	// example a project or a team. Optional.
	Scope string `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// Source declares where the desired state of an Application lives.
type Source struct {
	// Repository is the repository coordinate within the configured
	// source root.
	Repository string `json:"repository" yaml:"repository"`

	// Revision selects which revision to sync: a branch, a tag, a commit,
	// or "latest" for the newest commit.
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`

	// Path is the sub-path within the repository containing the
	// application's manifests.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Destination declares where an Application's state is applied.
type Destination struct {
	// Target identifies the target environment.
	Target string `json:"target" yaml:"target"`

	// Namespace is the namespace resources are applied into when the
	// manifest does not declare one.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// Automated configures automatic sync behavior.
type Automated struct {
	// SelfHeal re-syncs automatically when live state drifts from the
	// desired state.
	SelfHeal bool `json:"selfHeal,omitempty" yaml:"selfHeal,omitempty"`

	// Prune allows the engine to delete live resources that are no longer
	// present in the desired state.
	Prune bool `json:"prune,omitempty" yaml:"prune,omitempty"`
}

// SyncPolicy governs when and how an Application syncs.
type SyncPolicy struct {
	// Automated enables automatic syncing. When nil the application is
	// manual-only: drift and new revisions are surfaced but never acted
	// on without an explicit sync request.
	Automated *Automated `json:"automated,omitempty" yaml:"automated,omitempty"`

	// Options is a set of named flags, e.g. CreateNamespace.
	Options []SyncOption `json:"options,omitempty" yaml:"options,omitempty"`
}

// HasOption reports whether the policy carries the named option.
func (p SyncPolicy) HasOption(opt SyncOption) bool {
	for _, o := range p.Options {
		if o == opt {
			return true
		}
	}
	return false
}

// IsAutomated reports whether automatic syncing is enabled.
func (p SyncPolicy) IsAutomated() bool { return p.Automated != nil }

// SelfHeal reports whether drift triggers an automatic re-sync.
func (p SyncPolicy) SelfHeal() bool { return p.Automated != nil && p.Automated.SelfHeal }

// Prune reports whether pruning of unmanaged-from-desired resources is
// allowed.
func (p SyncPolicy) Prune() bool { return p.Automated != nil && p.Automated.Prune }

// ApplicationSpec defines the desired state of an Application.
type ApplicationSpec struct {
	Source      Source      `json:"source" yaml:"source"`
	Destination Destination `json:"destination" yaml:"destination"`
	SyncPolicy  SyncPolicy  `json:"syncPolicy,omitempty" yaml:"syncPolicy,omitempty"`
}

// Application is the unit of reconciliation. Exactly one Source and one
// Destination are active per Application.
type Application struct {
	APIVersion string          `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
	Kind       string          `json:"kind,omitempty" yaml:"kind,omitempty"`
	Metadata   ApplicationMeta `json:"metadata" yaml:"metadata"`
	Spec       ApplicationSpec `json:"spec" yaml:"spec"`
}

// QualifiedName returns scope/name, or just the name for unscoped
// applications.
func (a *Application) QualifiedName() string {
	if a.Metadata.Scope == "" {
		return a.Metadata.Name
	}
	return a.Metadata.Scope + "/" + a.Metadata.Name
}

// Validate checks structural invariants of the Application declaration.
func (a *Application) Validate() error {
	if a.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if errs := validation.IsDNS1123Subdomain(a.Metadata.Name); len(errs) > 0 {
		return fmt.Errorf("metadata.name %q invalid: %s", a.Metadata.Name, strings.Join(errs, "; "))
	}
	if a.Metadata.Scope != "" {
		if errs := validation.IsDNS1123Label(a.Metadata.Scope); len(errs) > 0 {
			return fmt.Errorf("metadata.scope %q invalid: %s", a.Metadata.Scope, strings.Join(errs, "; "))
		}
	}
	if a.Spec.Source.Repository == "" {
		return fmt.Errorf("spec.source.repository is required")
	}
	if a.Spec.Destination.Target == "" {
		return fmt.Errorf("spec.destination.target is required")
	}
	if a.Spec.Destination.Namespace != "" {
		if errs := validation.IsDNS1123Label(a.Spec.Destination.Namespace); len(errs) > 0 {
			return fmt.Errorf("spec.destination.namespace %q invalid: %s", a.Spec.Destination.Namespace, strings.Join(errs, "; "))
		}
	}
	for _, opt := range a.Spec.SyncPolicy.Options {
		if opt != SyncOptionCreateNamespace {
			return fmt.Errorf("unknown sync option %q", opt)
		}
	}
	return nil
}

// EffectiveRevision returns the configured revision selector, defaulting
// to "latest" when unset.
func (a *Application) EffectiveRevision() string {
	if a.Spec.Source.Revision == "" {
		return RevisionLatest
	}
	return a.Spec.Source.Revision
}
