package orchestrator

import (
	"time"

	"github.com/atimmer/devservers/internal/catalog"
)

// ServiceInfo is the per-service projection returned by GET /services: the
// merged catalog entry annotated with observed runtime status and resolved
// port (spec.md §3, §6).
type ServiceInfo struct {
	Name          string            `json:"name"`
	Source        catalog.Source    `json:"source"`
	ProjectName   string            `json:"projectName,omitempty"`
	Cwd           string            `json:"cwd"`
	Command       string            `json:"command"`
	Env           map[string]string `json:"env,omitempty"`
	PortMode      catalog.PortMode  `json:"portMode"`
	DependsOn     []string          `json:"dependsOn,omitempty"`
	Status        catalog.Status    `json:"status"`
	Port          int               `json:"port,omitempty"`
	LastStartedAt *time.Time        `json:"lastStartedAt,omitempty"`
}

// ServiceConfig is returned by GET /services/:name/config (spec.md §6).
type ServiceConfig struct {
	Source      catalog.Source `json:"source"`
	ServiceName string         `json:"serviceName"`
	ProjectName string         `json:"projectName,omitempty"`
	Path        string         `json:"path"`
	Definition  interface{}    `json:"definition"`
}
