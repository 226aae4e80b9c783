package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"convx/internal/adapter"
	"convx/internal/config"
)

// effectiveConfig is the printed form: the merged settings plus the input
// root each source would read from.
type effectiveConfig struct {
	*config.Config `yaml:",inline"`
	ConfigFiles    []string          `yaml:"config_files"`
	InputRoots     map[string]string `yaml:"input_roots"`
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _ := currentRepo()
			cfg, err := a.loadConfig(cmd, repo)
			if err != nil {
				return err
			}

			eff := effectiveConfig{Config: cfg, InputRoots: map[string]string{}}
			if p := config.GlobalConfigPath(); p != "" {
				eff.ConfigFiles = append(eff.ConfigFiles, p)
			}
			if repo != "" {
				eff.ConfigFiles = append(eff.ConfigFiles, config.ProjectConfigPath(repo))
			}
			for _, source := range adapter.Names() {
				root, err := cfg.InputPath(source)
				if err != nil {
					root = "error: " + err.Error()
				}
				eff.InputRoots[source] = root
			}

			data, err := yaml.Marshal(eff)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
