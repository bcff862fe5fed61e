package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTrainCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run a self-supervised training job from a config file",
		Long: "Reads a YAML config naming a data module and a pl module, builds the\n" +
			"pair through the component registry, and runs the training loop.\n" +
			"When the config sets model_path, trained weights are saved there.",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", configPath, err)
			}
			return RunTraining(cmd.Context(), v)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Training config file")
	return cmd
}
