package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"converge/internal/api"
)

func deployment(declared, ready any) api.Resource {
	obj := map[string]any{
		"kind":     "Deployment",
		"metadata": map[string]any{"name": "web", "namespace": "default"},
		"spec":     map[string]any{"replicas": declared},
	}
	if ready != nil {
		obj["status"] = map[string]any{"readyReplicas": ready}
	}
	return api.Resource{
		Key:    api.ResourceKey{Kind: "Deployment", Namespace: "default", Name: "web"},
		Object: obj,
	}
}

func TestAssessDeployment(t *testing.T) {
	assert.Equal(t, api.HealthProgressing, AssessResource(deployment(float64(2), nil)),
		"applied but no status yet")
	assert.Equal(t, api.HealthProgressing, AssessResource(deployment(float64(2), float64(1))))
	assert.Equal(t, api.HealthHealthy, AssessResource(deployment(float64(2), float64(2))))
	// Decoders that keep integers as int64 work too.
	assert.Equal(t, api.HealthHealthy, AssessResource(deployment(int64(3), int64(3))))
	assert.Equal(t, api.HealthHealthy, AssessResource(deployment(float64(0), nil)), "scaled to zero")
}

func TestAssessDeploymentReplicaFailure(t *testing.T) {
	res := deployment(float64(2), float64(2))
	res.Object["status"].(map[string]any)["conditions"] = []any{
		map[string]any{"type": "ReplicaFailure", "status": "True"},
	}
	assert.Equal(t, api.HealthDegraded, AssessResource(res))
}

func TestAssessJob(t *testing.T) {
	job := func(status map[string]any) api.Resource {
		obj := map[string]any{"kind": "Job", "metadata": map[string]any{"name": "j"}}
		if status != nil {
			obj["status"] = status
		}
		return api.Resource{Key: api.ResourceKey{Kind: "Job", Name: "j"}, Object: obj}
	}

	assert.Equal(t, api.HealthProgressing, AssessResource(job(nil)))
	assert.Equal(t, api.HealthProgressing, AssessResource(job(map[string]any{"active": float64(1)})))
	assert.Equal(t, api.HealthHealthy, AssessResource(job(map[string]any{"succeeded": float64(1)})))
	assert.Equal(t, api.HealthDegraded, AssessResource(job(map[string]any{"failed": float64(2)})))
}

func TestAssessPod(t *testing.T) {
	pod := func(phase string) api.Resource {
		obj := map[string]any{"kind": "Pod", "metadata": map[string]any{"name": "p"}}
		if phase != "" {
			obj["status"] = map[string]any{"phase": phase}
		}
		return api.Resource{Key: api.ResourceKey{Kind: "Pod", Name: "p"}, Object: obj}
	}

	assert.Equal(t, api.HealthHealthy, AssessResource(pod("Running")))
	assert.Equal(t, api.HealthProgressing, AssessResource(pod("Pending")))
	assert.Equal(t, api.HealthDegraded, AssessResource(pod("Failed")))
	assert.Equal(t, api.HealthUnknown, AssessResource(pod("Evicted")))
	assert.Equal(t, api.HealthProgressing, AssessResource(pod("")))
}

func TestAssessUnknownKindDefaultsHealthy(t *testing.T) {
	cm := api.Resource{
		Key:    api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "cm"},
		Object: map[string]any{"kind": "ConfigMap", "data": map[string]any{}},
	}
	assert.Equal(t, api.HealthHealthy, AssessResource(cm))
}

func TestAssessGenericConditions(t *testing.T) {
	custom := func(condStatus string) api.Resource {
		return api.Resource{
			Key: api.ResourceKey{Kind: "Widget", Name: "w"},
			Object: map[string]any{
				"kind": "Widget",
				"status": map[string]any{
					"conditions": []any{map[string]any{"type": "Ready", "status": condStatus}},
				},
			},
		}
	}

	assert.Equal(t, api.HealthHealthy, AssessResource(custom("True")))
	assert.Equal(t, api.HealthDegraded, AssessResource(custom("False")))
}

func TestAggregateWorstCase(t *testing.T) {
	healthy := deployment(float64(1), float64(1))
	progressing := deployment(float64(2), float64(0))
	progressing.Key.Name = "slow"

	missingKey := api.ResourceKey{Kind: "ConfigMap", Namespace: "default", Name: "gone"}

	keys := []api.ResourceKey{healthy.Key, progressing.Key, missingKey}
	live := map[api.ResourceKey]api.Resource{
		healthy.Key:     healthy,
		progressing.Key: progressing,
	}

	statuses, aggregate := Aggregate(keys, live)
	assert.Equal(t, api.HealthHealthy, statuses[healthy.Key])
	assert.Equal(t, api.HealthProgressing, statuses[progressing.Key])
	assert.Equal(t, api.HealthMissing, statuses[missingKey])
	assert.Equal(t, api.HealthProgressing, aggregate, "Progressing outranks Missing")
}

func TestAggregateEmptyIsHealthy(t *testing.T) {
	_, aggregate := Aggregate(nil, nil)
	assert.Equal(t, api.HealthHealthy, aggregate)
}
