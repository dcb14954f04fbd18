package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/appforge/runnerd/pkg/template"
)

// TemplateFlags holds flags for the template command.
type TemplateFlags struct {
	Type      string
	ProjectID string
}

func createTemplateCommand(flags *TemplateFlags) *cobra.Command {
	gen := template.NewGenerator()
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Generate a start-request JSON scaffold",
		Long: fmt.Sprintf(`Generate a start-request scaffold for a framework preset, ready to edit
and POST to the daemon's start endpoint.

Supported types: %s

Examples:
  runnerd template --type=vite --project=web
  runnerd template --type=next --project=storefront > start.json`,
			strings.Join(gen.GetSupportedTypes(), ", ")),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := gen.GenerateJSON(template.TemplateType(flags.Type), flags.ProjectID)
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Type, "type", "simple", "framework preset")
	cmd.Flags().StringVar(&flags.ProjectID, "project", "", "project id (required)")
	if err := cmd.MarkFlagRequired("project"); err != nil {
		panic(err)
	}
	return cmd
}
