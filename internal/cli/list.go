package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kdeploy-dev/kdeploy/internal/config"
)

// newListCommand creates the "list" subcommand that prints the configured
// applications with their components.
func newListCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications found in the apps directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.ConfigPath, opts.Env)
			if err != nil {
				return err
			}

			apps := cfg.ListApps()

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"App", "Components", "Config"})

			for _, app := range apps {
				appDir := filepath.Join(cfg.AppsDir(), app)

				components := listComponents(appDir)
				componentCell := strings.Join(components, ", ")
				if componentCell == "" {
					componentCell = "-"
				}

				configCell := "no"
				if appHasConfig(appDir) {
					configCell = "yes"
				}

				t.AppendRow(table.Row{app, componentCell, configCell})
			}

			t.Render()
			return nil
		},
	}

	return cmd
}

// listComponents returns the component directories of an application, i.e.
// subdirectories carrying their own templates tree.
func listComponents(appDir string) []string {
	entries, err := os.ReadDir(appDir)
	if err != nil {
		return nil
	}

	var components []string
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "templates" {
			continue
		}
		templatesDir := filepath.Join(appDir, entry.Name(), "templates")
		if _, err := os.Stat(templatesDir); err == nil {
			components = append(components, entry.Name())
		}
	}
	return components
}

// appHasConfig reports whether the application directory carries a config file.
func appHasConfig(appDir string) bool {
	for _, name := range []string{"config.yml", "config.yaml"} {
		if _, err := os.Stat(filepath.Join(appDir, name)); err == nil {
			return true
		}
	}
	return false
}
