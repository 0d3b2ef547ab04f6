package app

import (
	"github.com/spf13/cobra"
)

func newRootCommand(resources *applicationResources) *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           defaultApplicationName,
		Short:         "Convert plain text into HTML paragraphs while keeping <pre> blocks intact",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigurationFile(cmd); err != nil {
				return err
			}
			return resources.updateLogger(resources.configurationManager.GetString(configKeyLoggingType))
		},
	}

	rootCommand.PersistentFlags().String(flagNameConfigFile, "", "Path to configuration file")
	rootCommand.PersistentFlags().String(flagNameLoggingType, resources.configurationManager.GetString(configKeyLoggingType), "Logging type (CONSOLE or JSON)")
	_ = resources.configurationManager.BindPFlag(configKeyLoggingType, rootCommand.PersistentFlags().Lookup(flagNameLoggingType))

	rootCommand.AddCommand(newRenderCommand(resources))
	rootCommand.AddCommand(newServeCommand(resources))

	return rootCommand
}
