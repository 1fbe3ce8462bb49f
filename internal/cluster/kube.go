package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	memcache "k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"converge/internal/api"
	"converge/pkg/logging"
)

// fieldManager identifies the engine in server-side apply operations.
const fieldManager = "converge"

// Kube adapts a Kubernetes cluster to the engine's capability set using
// the dynamic client, so arbitrary resource kinds unknown at build time
// can be managed.
type Kube struct {
	client    dynamic.Interface
	discovery discovery.CachedDiscoveryInterface
	namespace string
	target    string

	mu    sync.RWMutex
	kinds map[string]kindMapping
}

// kindMapping resolves a manifest kind to its API coordinates.
type kindMapping struct {
	gvr        schema.GroupVersionResource
	apiVersion string
	namespaced bool
}

// NewKube creates a Kubernetes cluster adapter scoped to the given
// namespace. The target string is only used in error messages.
func NewKube(restConfig *rest.Config, target, namespace string) (*Kube, error) {
	client, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	discoClient, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}

	return &Kube{
		client:    client,
		discovery: memcache.NewMemCacheClient(discoClient),
		namespace: namespace,
		target:    target,
		kinds:     make(map[string]kindMapping),
	}, nil
}

// LoadRestConfig returns the in-cluster REST config when running inside a
// cluster, falling back to the standard kubeconfig resolution otherwise.
// A non-empty kubeconfig path overrides both.
func LoadRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		if config, err := rest.InClusterConfig(); err == nil {
			return config, nil
		}
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	rules.ExplicitPath = kubeconfig
	config := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{})
	return config.ClientConfig()
}

// Get returns the live resource for the given key.
func (k *Kube) Get(ctx context.Context, key api.ResourceKey) (api.Resource, error) {
	ri, err := k.resourceClient(key)
	if err != nil {
		return api.Resource{}, err
	}

	obj, err := ri.Get(ctx, key.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return api.Resource{}, api.NewNotFoundError("resource", key.String())
	}
	if err != nil {
		return api.Resource{}, &api.TargetUnavailableError{Target: k.target, Err: err}
	}
	return toResource(obj), nil
}

// List returns every engine-managed resource in the adapter's namespace.
// Resources are selected by the application tracking label the executor
// stamps on apply.
func (k *Kube) List(ctx context.Context) ([]api.Resource, error) {
	lists, err := k.discovery.ServerPreferredNamespacedResources()
	if err != nil {
		// Partial discovery (e.g. a broken aggregated API) still returns
		// usable lists; only fail when nothing was discovered.
		if lists == nil {
			return nil, &api.TargetUnavailableError{Target: k.target, Err: err}
		}
		logging.Warn("KubeCluster", "Partial discovery results: %v", err)
	}

	opts := metav1.ListOptions{LabelSelector: api.ApplicationLabel}
	var out []api.Resource

	for _, list := range lists {
		gv, err := schema.ParseGroupVersion(list.GroupVersion)
		if err != nil {
			continue
		}
		for _, res := range list.APIResources {
			if strings.Contains(res.Name, "/") || !hasVerb(res, "list") {
				continue
			}
			gvr := gv.WithResource(res.Name)
			items, err := k.client.Resource(gvr).Namespace(k.namespace).List(ctx, opts)
			if err != nil {
				logging.Debug("KubeCluster", "Skipping %s: %v", gvr, err)
				continue
			}
			for i := range items.Items {
				out = append(out, toResource(&items.Items[i]))
			}
		}
	}
	return out, nil
}

// Apply creates or replaces the resource via server-side apply.
func (k *Kube) Apply(ctx context.Context, res api.Resource) error {
	ri, err := k.resourceClient(res.Key)
	if err != nil {
		return err
	}

	obj := &unstructured.Unstructured{Object: res.DeepCopy().Object}
	if obj.GetAPIVersion() == "" {
		if mapping, ok := k.lookupKind(res.Key.Kind); ok {
			obj.SetAPIVersion(mapping.apiVersion)
		}
	}
	obj.SetName(res.Key.Name)
	if res.Key.Namespace != "" {
		obj.SetNamespace(res.Key.Namespace)
	}

	_, err = ri.Apply(ctx, res.Key.Name, obj, metav1.ApplyOptions{FieldManager: fieldManager, Force: true})
	if err != nil {
		return &api.OperationFailedError{Key: res.Key, Operation: api.OperationUpdate, Err: err}
	}
	return nil
}

// Delete removes the resource. Absent resources are not an error.
func (k *Kube) Delete(ctx context.Context, key api.ResourceKey) error {
	ri, err := k.resourceClient(key)
	if err != nil {
		return err
	}

	err = ri.Delete(ctx, key.Name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return &api.OperationFailedError{Key: key, Operation: api.OperationDelete, Err: err}
	}
	return nil
}

// EnsureNamespace creates the namespace if it does not exist.
func (k *Kube) EnsureNamespace(ctx context.Context, namespace string) error {
	gvr := schema.GroupVersionResource{Version: "v1", Resource: "namespaces"}

	_, err := k.client.Resource(gvr).Get(ctx, namespace, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return &api.TargetUnavailableError{Target: k.target, Err: err}
	}

	ns := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "v1",
		"kind":       "Namespace",
		"metadata":   map[string]any{"name": namespace},
	}}
	_, err = k.client.Resource(gvr).Create(ctx, ns, metav1.CreateOptions{FieldManager: fieldManager})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create namespace %s: %w", namespace, err)
	}
	return nil
}

// resourceClient resolves the key's kind and returns a namespaced or
// cluster-scoped resource client for it.
func (k *Kube) resourceClient(key api.ResourceKey) (dynamic.ResourceInterface, error) {
	mapping, ok := k.lookupKind(key.Kind)
	if !ok {
		if err := k.refreshKinds(); err != nil {
			return nil, err
		}
		if mapping, ok = k.lookupKind(key.Kind); !ok {
			return nil, fmt.Errorf("kind %q not served by target %s", key.Kind, k.target)
		}
	}

	if !mapping.namespaced {
		return k.client.Resource(mapping.gvr), nil
	}
	namespace := key.Namespace
	if namespace == "" {
		namespace = k.namespace
	}
	return k.client.Resource(mapping.gvr).Namespace(namespace), nil
}

func (k *Kube) lookupKind(kind string) (kindMapping, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	mapping, ok := k.kinds[kind]
	return mapping, ok
}

// refreshKinds rebuilds the kind lookup table from discovery. Preferred
// versions win; the first group serving a kind wins on conflicts.
func (k *Kube) refreshKinds() error {
	k.discovery.Invalidate()
	lists, err := k.discovery.ServerPreferredResources()
	if err != nil && lists == nil {
		return &api.TargetUnavailableError{Target: k.target, Err: err}
	}

	kinds := make(map[string]kindMapping)
	for _, list := range lists {
		gv, err := schema.ParseGroupVersion(list.GroupVersion)
		if err != nil {
			continue
		}
		for _, res := range list.APIResources {
			if strings.Contains(res.Name, "/") {
				continue
			}
			if _, exists := kinds[res.Kind]; exists {
				continue
			}
			kinds[res.Kind] = kindMapping{
				gvr:        gv.WithResource(res.Name),
				apiVersion: list.GroupVersion,
				namespaced: res.Namespaced,
			}
		}
	}

	k.mu.Lock()
	k.kinds = kinds
	k.mu.Unlock()
	return nil
}

func hasVerb(res metav1.APIResource, verb string) bool {
	for _, v := range res.Verbs {
		if v == verb {
			return true
		}
	}
	return false
}

func toResource(obj *unstructured.Unstructured) api.Resource {
	return api.Resource{
		Key: api.ResourceKey{
			Kind:      obj.GetKind(),
			Namespace: obj.GetNamespace(),
			Name:      obj.GetName(),
		},
		Object:          obj.Object,
		ResourceVersion: obj.GetResourceVersion(),
	}
}
