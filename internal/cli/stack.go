package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/n0emo/wassel/internal/buildpipeline"
	"github.com/n0emo/wassel/internal/manifest"
	"github.com/n0emo/wassel/internal/server"
	"github.com/n0emo/wassel/internal/serverconfig"
)

var stackPath string

var stackCmd = &cobra.Command{
	Use:   "stack",
	Short: "Build or serve every plugin listed in wassel.toml",
}

var stackBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build every plugin in wassel.toml and deploy to ./plugins/",
	RunE: func(cmd *cobra.Command, args []string) error {
		return buildStack(stackPath)
	},
}

var stackServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build the stack, then start the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := buildStack(stackPath); err != nil {
			return err
		}
		cfg, err := serverconfig.Load()
		if err != nil {
			return err
		}
		return server.Serve(context.Background(), cfg, stackPath)
	},
}

func buildStack(baseDir string) error {
	sm, err := manifest.LoadStackManifest(baseDir)
	if err != nil {
		return err
	}

	pluginsDir := filepath.Join(baseDir, "plugins")
	for _, rel := range sm.Stack.Plugins {
		dir := rel
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(baseDir, rel)
		}
		info, err := buildpipeline.BuildPluginAt(dir)
		if err != nil {
			return fmt.Errorf("stack build: plugin at %q: %w", dir, err)
		}
		if err := buildpipeline.DeployPlugin(pluginsDir, info); err != nil {
			return fmt.Errorf("stack build: deploying plugin at %q: %w", dir, err)
		}
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{stackBuildCmd, stackServeCmd} {
		c.Flags().StringVarP(&stackPath, "path", "p", ".", "stack directory containing wassel.toml")
	}
	stackCmd.AddCommand(stackBuildCmd)
	stackCmd.AddCommand(stackServeCmd)
}
