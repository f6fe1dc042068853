// Package taskdef renders and parses ECS task-definition templates.
package taskdef

import (
	"encoding/json"
	"fmt"
)

// Definition is the parsed body of a rendered task-definition template. It
// mirrors the subset of the ECS task-definition schema the templates use.
type Definition struct {
	Family               string                `json:"family"`
	CPU                  string                `json:"cpu"`
	Memory               string                `json:"memory"`
	NetworkMode          string                `json:"networkMode"`
	ExecutionRoleARN     string                `json:"executionRoleArn"`
	TaskRoleARN          string                `json:"taskRoleArn,omitempty"`
	ContainerDefinitions []ContainerDefinition `json:"containerDefinitions"`
}

// ContainerDefinition describes one container in the task.
type ContainerDefinition struct {
	Name             string            `json:"name"`
	Image            string            `json:"image"`
	Essential        bool              `json:"essential"`
	PortMappings     []PortMapping     `json:"portMappings,omitempty"`
	Environment      []EnvVar          `json:"environment,omitempty"`
	LogConfiguration *LogConfiguration `json:"logConfiguration,omitempty"`
}

// PortMapping exposes one container port.
type PortMapping struct {
	ContainerPort int    `json:"containerPort"`
	Protocol      string `json:"protocol,omitempty"`
}

// EnvVar is one container environment variable.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LogConfiguration selects the log driver and its options.
type LogConfiguration struct {
	LogDriver string            `json:"logDriver"`
	Options   map[string]string `json:"options,omitempty"`
}

// Parse decodes a rendered task-definition body and validates the fields the
// control plane would reject anyway, so malformed templates fail before any
// remote call.
func Parse(body []byte) (Definition, error) {
	var def Definition
	if err := json.Unmarshal(body, &def); err != nil {
		return Definition{}, fmt.Errorf("parse task definition: %w", err)
	}

	if def.Family == "" {
		return Definition{}, fmt.Errorf("task definition missing family")
	}
	if len(def.ContainerDefinitions) == 0 {
		return Definition{}, fmt.Errorf("task definition %q has no container definitions", def.Family)
	}
	for i, c := range def.ContainerDefinitions {
		if c.Name == "" {
			return Definition{}, fmt.Errorf("task definition %q: container %d missing name", def.Family, i)
		}
		if c.Image == "" {
			return Definition{}, fmt.Errorf("task definition %q: container %q missing image", def.Family, c.Name)
		}
	}

	return def, nil
}
