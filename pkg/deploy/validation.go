/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package deploy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Validator is the safety gate between model output and the cluster API.
// It checks schema, the allowed-kind set, and security constraints, and
// corrects namespace mismatches instead of rejecting them.
type Validator struct{}

const (
	maxManifests       = 50
	maxReplicas        = 2
	maxCPULimitMilli   = 2000
	maxMemoryLimitMi   = 2048
	needsBuildPrefix   = "NEEDS_BUILD:"
	defaultServiceType = "ClusterIP"
)

var (
	allowedKinds       = []string{"Deployment", "Service", "Ingress", "PersistentVolumeClaim", "ConfigMap", "Secret"}
	allowedAPIVersions = []string{"apps/v1", "v1", "networking.k8s.io/v1"}
	// Service types that would expose a preview environment outside the cluster.
	forbiddenServiceTypes = []string{"NodePort", "LoadBalancer", "ExternalName"}

	dnsLabelRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?$`)
)

// ValidationResult carries the outcome of validating one manifest set.
type ValidationResult struct {
	IsValid   bool
	Errors    []string
	Warnings  []string
	Corrected []map[string]any
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.IsValid = false
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateAll runs every check across a manifest list. When validation passes,
// Corrected holds the manifests with namespaces forced to the expected value
// and replica counts capped.
func (v *Validator) ValidateAll(manifests []any, expectedNamespace string) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	if len(manifests) == 0 {
		result.addError("no manifests generated")
		return result
	}
	if len(manifests) > maxManifests {
		result.addError("too many manifests: %d (max %d)", len(manifests), maxManifests)
		return result
	}

	var corrected []map[string]any
	for i, manifest := range manifests {
		if m := v.validateAndCorrect(manifest, expectedNamespace, i, result); m != nil {
			corrected = append(corrected, m)
		}
	}
	if result.IsValid {
		result.Corrected = corrected
	}
	return result
}

func (v *Validator) validateAndCorrect(raw any, expectedNamespace string, index int, result *ValidationResult) map[string]any {
	prefix := fmt.Sprintf("manifest[%d]", index)

	manifest, ok := raw.(map[string]any)
	if !ok {
		result.addError("%s: not an object", prefix)
		return nil
	}

	kind, _ := manifest["kind"].(string)
	if kind == "" {
		result.addError("%s: missing 'kind'", prefix)
		return nil
	}
	apiVersion, _ := manifest["apiVersion"].(string)
	if apiVersion == "" {
		result.addError("%s: missing 'apiVersion'", prefix)
		return nil
	}
	metadata, ok := manifest["metadata"].(map[string]any)
	if !ok {
		result.addError("%s: missing or invalid 'metadata'", prefix)
		return nil
	}
	name, _ := metadata["name"].(string)
	if name == "" {
		result.addError("%s (%s): missing 'metadata.name'", prefix, kind)
		return nil
	}

	if !lo.Contains(allowedKinds, kind) {
		result.addError("%s: disallowed kind %q, allowed: %s", prefix, kind, strings.Join(allowedKinds, ", "))
		return nil
	}
	if !lo.Contains(allowedAPIVersions, apiVersion) {
		result.addError("%s (%s/%s): disallowed apiVersion %q", prefix, kind, name, apiVersion)
		return nil
	}
	if !dnsLabelRegexp.MatchString(name) {
		result.addError("%s (%s/%s): invalid resource name, must be a valid DNS label", prefix, kind, name)
		return nil
	}

	if actual, _ := metadata["namespace"].(string); actual != expectedNamespace {
		if actual != "" {
			result.addWarning("%s (%s/%s): corrected namespace from %q to %q", prefix, kind, name, actual, expectedNamespace)
		}
		metadata["namespace"] = expectedNamespace
	}

	spec, _ := manifest["spec"].(map[string]any)
	switch kind {
	case "Deployment":
		v.validateDeployment(prefix, name, spec, result)
	case "Service":
		v.validateService(prefix, name, spec, result)
	case "Ingress":
		if rules, _ := spec["rules"].([]any); len(rules) == 0 {
			result.addWarning("%s (Ingress/%s): no rules defined", prefix, name)
		}
	case "PersistentVolumeClaim":
		v.validatePVC(prefix, name, spec, result)
	}
	return manifest
}

func (v *Validator) validateDeployment(prefix, name string, spec map[string]any, result *ValidationResult) {
	if replicas, ok := asInt(spec["replicas"]); ok && replicas > maxReplicas {
		result.addWarning("%s (Deployment/%s): capped replicas from %d to %d", prefix, name, replicas, maxReplicas)
		spec["replicas"] = maxReplicas
	}

	template, _ := spec["template"].(map[string]any)
	podSpec, ok := template["spec"].(map[string]any)
	if !ok {
		result.addError("%s (Deployment/%s): missing spec.template.spec", prefix, name)
		return
	}

	for _, field := range []string{"hostNetwork", "hostPID", "hostIPC"} {
		if enabled, _ := podSpec[field].(bool); enabled {
			result.addError("%s (Deployment/%s): %s is not allowed", prefix, name, field)
			return
		}
	}

	containers, _ := podSpec["containers"].([]any)
	if len(containers) == 0 {
		result.addError("%s (Deployment/%s): no containers defined", prefix, name)
		return
	}
	for i, raw := range containers {
		v.validateContainer(raw, fmt.Sprintf("%s (Deployment/%s/container[%d])", prefix, name, i), result)
	}

	volumes, _ := podSpec["volumes"].([]any)
	for _, raw := range volumes {
		if volume, ok := raw.(map[string]any); ok {
			if _, hasHostPath := volume["hostPath"]; hasHostPath {
				result.addError("%s (Deployment/%s): hostPath volumes are not allowed", prefix, name)
				return
			}
		}
	}
}

func (v *Validator) validateContainer(raw any, prefix string, result *ValidationResult) {
	container, ok := raw.(map[string]any)
	if !ok {
		result.addError("%s: container is not an object", prefix)
		return
	}
	if name, _ := container["name"].(string); name == "" {
		result.addError("%s: missing container name", prefix)
		return
	}
	image, _ := container["image"].(string)
	if image == "" {
		result.addError("%s: missing container image", prefix)
		return
	}
	if strings.HasPrefix(image, needsBuildPrefix) {
		result.addWarning("%s: image %q requires a build step, the service will not start until a pre-built image is pushed", prefix, image)
	}

	if securityContext, ok := container["securityContext"].(map[string]any); ok {
		if privileged, _ := securityContext["privileged"].(bool); privileged {
			result.addError("%s: privileged containers are not allowed", prefix)
			return
		}
	}

	resources, _ := container["resources"].(map[string]any)
	limits, _ := resources["limits"].(map[string]any)
	if cpu := stringValue(limits["cpu"]); cpu != "" {
		if milli, err := parseCPUMillicores(cpu); err != nil {
			result.addWarning("%s: could not parse cpu limit %q", prefix, cpu)
		} else if milli > maxCPULimitMilli {
			result.addWarning("%s: CPU limit %s exceeds maximum %dm, will be capped", prefix, cpu, maxCPULimitMilli)
		}
	}
	if memory := stringValue(limits["memory"]); memory != "" {
		if mi, err := parseMemoryMi(memory); err != nil {
			result.addWarning("%s: could not parse memory limit %q", prefix, memory)
		} else if mi > maxMemoryLimitMi {
			result.addWarning("%s: memory limit %s exceeds maximum %dMi, will be capped", prefix, memory, maxMemoryLimitMi)
		}
	}
}

func (v *Validator) validateService(prefix, name string, spec map[string]any, result *ValidationResult) {
	serviceType, _ := spec["type"].(string)
	if serviceType == "" {
		serviceType = defaultServiceType
	}
	if lo.Contains(forbiddenServiceTypes, serviceType) {
		result.addError("%s (Service/%s): service type %q is not allowed in preview environments, use ClusterIP", prefix, name, serviceType)
	}
	if ports, _ := spec["ports"].([]any); len(ports) == 0 {
		result.addWarning("%s (Service/%s): no ports defined", prefix, name)
	}
}

func (v *Validator) validatePVC(prefix, name string, spec map[string]any, result *ValidationResult) {
	if accessModes, _ := spec["accessModes"].([]any); len(accessModes) == 0 {
		result.addWarning("%s (PVC/%s): no accessModes specified", prefix, name)
	}
	resources, _ := spec["resources"].(map[string]any)
	requests, _ := resources["requests"].(map[string]any)
	if storage := stringValue(requests["storage"]); storage == "" {
		result.addWarning("%s (PVC/%s): no storage request specified", prefix, name)
	}
}

// parseCPUMillicores converts a CPU quantity to millicores: a trailing "m"
// means millicores, anything else is cores.
func parseCPUMillicores(value string) (int, error) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "m") {
		return strconv.Atoi(strings.TrimSuffix(value, "m"))
	}
	cores, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return int(cores * 1000), nil
}

// parseMemoryMi converts a memory quantity to MiB. Unsuffixed values are
// treated as bytes.
func parseMemoryMi(value string) (int, error) {
	value = strings.TrimSpace(value)
	switch {
	case strings.HasSuffix(value, "Gi"):
		gi, err := strconv.ParseFloat(strings.TrimSuffix(value, "Gi"), 64)
		return int(gi * 1024), err
	case strings.HasSuffix(value, "Mi"):
		mi, err := strconv.ParseFloat(strings.TrimSuffix(value, "Mi"), 64)
		return int(mi), err
	case strings.HasSuffix(value, "Ki"):
		ki, err := strconv.ParseFloat(strings.TrimSuffix(value, "Ki"), 64)
		return int(ki / 1024), err
	default:
		bytes, err := strconv.Atoi(value)
		return bytes / (1024 * 1024), err
	}
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
