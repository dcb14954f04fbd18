// Package template generates start-request scaffolds for common dev server
// setups, ready to send to the daemon's start endpoint.
package template

import (
	"encoding/json"
	"fmt"
)

// TemplateType selects the framework preset to generate.
type TemplateType string

const (
	TypeVite    TemplateType = "vite"
	TypeNext    TemplateType = "next"
	TypeNextJS  TemplateType = "nextjs"
	TypeCRA     TemplateType = "cra"
	TypeReact   TemplateType = "react"
	TypeAstro   TemplateType = "astro"
	TypeNode    TemplateType = "node"
	TypeExpress TemplateType = "express"
	TypeSimple  TemplateType = "simple"
	TypeBasic   TemplateType = "basic"
)

// StartTemplate is a ready-to-edit start request for one project.
type StartTemplate struct {
	ProjectID string   `json:"project_id"`
	Command   string   `json:"command"`
	WorkDir   string   `json:"work_dir"`
	Port      int      `json:"port,omitempty"`
	Env       []string `json:"env,omitempty"`
}

// Generator provides template generation functionality.
type Generator struct{}

// NewGenerator creates a new template generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a start template for the given framework preset.
func (g *Generator) Generate(templateType TemplateType, projectID string) (*StartTemplate, error) {
	switch templateType {
	case TypeVite:
		return g.viteTemplate(projectID), nil
	case TypeNext, TypeNextJS:
		return g.nextTemplate(projectID), nil
	case TypeCRA, TypeReact:
		return g.craTemplate(projectID), nil
	case TypeAstro:
		return g.astroTemplate(projectID), nil
	case TypeNode, TypeExpress:
		return g.nodeTemplate(projectID), nil
	case TypeSimple, TypeBasic:
		return g.simpleTemplate(projectID), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: vite, next, cra, astro, node, simple)", templateType)
	}
}

// GenerateJSON creates an indented JSON representation of the template.
func (g *Generator) GenerateJSON(templateType TemplateType, projectID string) ([]byte, error) {
	tmpl, err := g.Generate(templateType, projectID)
	if err != nil {
		return nil, err
	}
	jsonData, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return jsonData, nil
}

// GetSupportedTypes returns the canonical template type names.
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeVite),
		string(TypeNext),
		string(TypeCRA),
		string(TypeAstro),
		string(TypeNode),
		string(TypeSimple),
	}
}

func (g *Generator) viteTemplate(projectID string) *StartTemplate {
	return &StartTemplate{
		ProjectID: projectID,
		Command:   "npm run dev -- --port 3001 --host",
		WorkDir:   "/srv/" + projectID,
		Port:      3001,
		Env:       []string{"NODE_ENV=development"},
	}
}

func (g *Generator) nextTemplate(projectID string) *StartTemplate {
	return &StartTemplate{
		ProjectID: projectID,
		Command:   "npm run dev -- --port 3001",
		WorkDir:   "/srv/" + projectID,
		Port:      3001,
		Env:       []string{"NODE_ENV=development", "NEXT_TELEMETRY_DISABLED=1"},
	}
}

func (g *Generator) craTemplate(projectID string) *StartTemplate {
	return &StartTemplate{
		ProjectID: projectID,
		Command:   "npm start",
		WorkDir:   "/srv/" + projectID,
		Port:      3001,
		Env:       []string{"PORT=3001", "BROWSER=none"},
	}
}

func (g *Generator) astroTemplate(projectID string) *StartTemplate {
	return &StartTemplate{
		ProjectID: projectID,
		Command:   "npm run dev -- --port 3001 --host",
		WorkDir:   "/srv/" + projectID,
		Port:      3001,
	}
}

func (g *Generator) nodeTemplate(projectID string) *StartTemplate {
	return &StartTemplate{
		ProjectID: projectID,
		Command:   "node server.js",
		WorkDir:   "/srv/" + projectID,
		Port:      3001,
		Env:       []string{"PORT=3001", "NODE_ENV=development"},
	}
}

func (g *Generator) simpleTemplate(projectID string) *StartTemplate {
	return &StartTemplate{
		ProjectID: projectID,
		Command:   "npm run dev",
		WorkDir:   "/srv/" + projectID,
	}
}
