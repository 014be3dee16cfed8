package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/n0emo/wassel/internal/buildpipeline"
	"github.com/n0emo/wassel/internal/server"
	"github.com/n0emo/wassel/internal/serverconfig"
)

var pluginPath string

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Build or serve a single plugin",
}

var pluginBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a single plugin's component",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := buildpipeline.BuildPluginAt(pluginPath)
		return err
	},
}

var pluginServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build a plugin, deploy it, and start the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := buildpipeline.BuildPluginAt(pluginPath)
		if err != nil {
			return err
		}
		if err := buildpipeline.DeployPlugin("plugins", info); err != nil {
			return err
		}

		cfg, err := serverconfig.Load()
		if err != nil {
			return err
		}
		return server.Serve(context.Background(), cfg, ".")
	},
}

func init() {
	for _, c := range []*cobra.Command{pluginBuildCmd, pluginServeCmd} {
		c.Flags().StringVarP(&pluginPath, "path", "p", ".", "plugin directory")
	}
	pluginCmd.AddCommand(pluginBuildCmd)
	pluginCmd.AddCommand(pluginServeCmd)
}
