// Package v1alpha1 contains the schema definitions for the converge
// v1alpha1 API group.
//
// # API Group: converge.io/v1alpha1
//
// ## Application
//
// Application is the unit of reconciliation an operator submits to the
// engine. It declares where the desired state lives (a repository
// coordinate, a revision selector and a sub-path), where it is applied
// (a target environment and namespace), and the sync policy governing
// automation, self-healing and pruning.
//
// Example:
//
//	apiVersion: converge.io/v1alpha1
//	kind: Application
//	metadata:
//	  name: guestbook
//	  scope: team-a
//	spec:
//	  source:
//	    repository: infra-manifests
//	    revision: latest
//	    path: dev
//	  destination:
//	    target: in-cluster
//	    namespace: guestbook
//	  syncPolicy:
//	    automated:
//	      selfHeal: true
//	      prune: false
//	    options:
//	      - CreateNamespace
package v1alpha1
