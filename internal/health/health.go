package health

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"converge/internal/api"
)

// AssessResource derives a health status from a live resource using
// conventionally-understood readiness signals. Kinds with no known
// convention are Healthy once present: absence of information is not
// treated as failure.
func AssessResource(res api.Resource) api.HealthStatus {
	switch res.Key.Kind {
	case "Deployment", "StatefulSet", "ReplicaSet":
		return assessReplicated(res.Object)
	case "Job":
		return assessJob(res.Object)
	case "Pod":
		return assessPod(res.Object)
	default:
		return assessGeneric(res.Object)
	}
}

// Aggregate computes per-key statuses for every desired key plus the
// application-level worst-case reduction. Desired keys absent from live
// are Missing.
func Aggregate(desiredKeys []api.ResourceKey, live map[api.ResourceKey]api.Resource) (map[api.ResourceKey]api.HealthStatus, api.HealthStatus) {
	statuses := make(map[api.ResourceKey]api.HealthStatus, len(desiredKeys))
	aggregate := api.HealthHealthy

	for _, key := range desiredKeys {
		res, ok := live[key]
		status := api.HealthMissing
		if ok {
			status = AssessResource(res)
		}
		statuses[key] = status
		aggregate = api.WorseHealth(aggregate, status)
	}
	return statuses, aggregate
}

// assessReplicated models "resource exists, desired state applied, runtime
// convergence not yet observed" as Progressing until the ready replica
// count reaches the declared one.
func assessReplicated(obj map[string]any) api.HealthStatus {
	if hasCondition(obj, "ReplicaFailure", "True") {
		return api.HealthDegraded
	}

	declared := int64(1)
	if v, ok := nestedNumber(obj, "spec", "replicas"); ok {
		declared = v
	}

	ready, ok := nestedNumber(obj, "status", "readyReplicas")
	if !ok {
		if declared == 0 {
			return api.HealthHealthy
		}
		return api.HealthProgressing
	}
	if ready >= declared {
		return api.HealthHealthy
	}
	return api.HealthProgressing
}

func assessJob(obj map[string]any) api.HealthStatus {
	if failed, ok := nestedNumber(obj, "status", "failed"); ok && failed > 0 {
		return api.HealthDegraded
	}
	if succeeded, ok := nestedNumber(obj, "status", "succeeded"); ok && succeeded > 0 {
		return api.HealthHealthy
	}
	return api.HealthProgressing
}

func assessPod(obj map[string]any) api.HealthStatus {
	phase, ok, _ := unstructured.NestedString(obj, "status", "phase")
	if !ok {
		return api.HealthProgressing
	}
	switch phase {
	case "Running", "Succeeded":
		return api.HealthHealthy
	case "Pending":
		return api.HealthProgressing
	case "Failed":
		return api.HealthDegraded
	default:
		return api.HealthUnknown
	}
}

// assessGeneric scans status conditions for a Ready or Available flag.
func assessGeneric(obj map[string]any) api.HealthStatus {
	for _, condType := range []string{"Ready", "Available"} {
		if hasCondition(obj, condType, "False") {
			return api.HealthDegraded
		}
		if hasCondition(obj, condType, "True") {
			return api.HealthHealthy
		}
	}
	return api.HealthHealthy
}

func hasCondition(obj map[string]any, condType, condStatus string) bool {
	conditions, ok, _ := unstructured.NestedSlice(obj, "status", "conditions")
	if !ok {
		return false
	}
	for _, raw := range conditions {
		cond, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		t, _ := cond["type"].(string)
		s, _ := cond["status"].(string)
		if t == condType && s == condStatus {
			return true
		}
	}
	return false
}

// nestedNumber reads an integer-valued field regardless of whether the
// decoder produced int64 or float64.
func nestedNumber(obj map[string]any, fields ...string) (int64, bool) {
	raw, ok, _ := unstructured.NestedFieldNoCopy(obj, fields...)
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
