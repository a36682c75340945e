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

// Package compose parses container-compose documents and synthesizes the
// deterministic baseline manifest set from them.
package compose

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is a parsed compose document. Only the sections the synthesizer
// consumes are modeled.
type File struct {
	Services map[string]Service `yaml:"services"`
}

// Service is one compose service entry.
type Service struct {
	Image       string        `yaml:"image"`
	Build       *BuildSpec    `yaml:"build"`
	Environment EnvVars       `yaml:"environment"`
	Ports       []PortMapping `yaml:"ports"`
	Volumes     []string      `yaml:"volumes"`
}

// HasBuild reports whether the service declares a build section, meaning its
// image does not exist in a registry.
func (s Service) HasBuild() bool {
	return s.Build != nil
}

// BuildSpec accepts both the short string form ("./dir") and the map form.
type BuildSpec struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile"`
}

func (b *BuildSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		b.Context = node.Value
		return nil
	}
	type plain BuildSpec
	return node.Decode((*plain)(b))
}

// EnvVar is one environment variable. Order is preserved from the document.
type EnvVar struct {
	Name  string
	Value string
}

// EnvVars accepts both the compose map form ({K: V}) and the list form
// (["K=V"]).
type EnvVars []EnvVar

func (e *EnvVars) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i < len(node.Content)-1; i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if value.Kind != yaml.ScalarNode {
				return fmt.Errorf("environment value for %q is not a scalar", key.Value)
			}
			*e = append(*e, EnvVar{Name: key.Value, Value: value.Value})
		}
		return nil
	case yaml.SequenceNode:
		for _, item := range node.Content {
			name, value, found := strings.Cut(item.Value, "=")
			if !found {
				continue
			}
			*e = append(*e, EnvVar{Name: name, Value: value})
		}
		return nil
	default:
		return fmt.Errorf("environment must be a map or a list")
	}
}

// PortMapping is one compose port entry. The container side is what workloads
// listen on; the host side becomes the Service port.
type PortMapping struct {
	HostPort      int32
	ContainerPort int32
}

// UnmarshalYAML accepts the integer form (8000), the bare string form
// ("8000") and the mapping form ("8080:8000", optionally "/protocol").
func (p *PortMapping) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("port entry must be a scalar")
	}
	value, _, _ := strings.Cut(node.Value, "/")
	parts := strings.Split(value, ":")
	container, err := strconv.ParseInt(parts[len(parts)-1], 10, 32)
	if err != nil {
		return fmt.Errorf("parsing port %q, %w", node.Value, err)
	}
	p.ContainerPort = int32(container)
	p.HostPort = p.ContainerPort
	if len(parts) == 2 {
		host, err := strconv.ParseInt(parts[0], 10, 32)
		if err != nil {
			return fmt.Errorf("parsing port %q, %w", node.Value, err)
		}
		p.HostPort = int32(host)
	}
	return nil
}

// Parse decodes a compose document. A top-level services map is required.
func Parse(content []byte) (*File, error) {
	file := &File{}
	if err := yaml.Unmarshal(content, file); err != nil {
		return nil, fmt.Errorf("parsing compose document, %w", err)
	}
	if len(file.Services) == 0 {
		return nil, fmt.Errorf("parsing compose document, no services defined")
	}
	return file, nil
}
