package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-indexer/internal/adapters/driven/config/file"
	"github.com/custodia-labs/sercha-indexer/internal/core/services"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// settingsOpener opens the configuration without the data directory.
var settingsOpener = func() (*services.SettingsService, error) {
	dir := configDir
	if dir == "" {
		var err error
		if dir, err = file.DefaultDir(); err != nil {
			return nil, err
		}
	}
	if err := file.LoadDotEnv(dir); err != nil {
		logger.Warn("%v", err)
	}
	store, err := file.NewConfigStore(dir)
	if err != nil {
		return nil, err
	}
	return services.NewSettingsService(store), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and change settings",
	Long: `Settings live in config.toml under --config-dir. SERCHA_* environment
variables override the file, for example SERCHA_EMBEDDING_API_KEY for
embedding.api_key. A running indexer picks up changes when restarted.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	settings, err := settingsOpener()
	if err != nil {
		return err
	}
	entries, err := settings.Entries()
	if err != nil {
		return err
	}

	width := 0
	for _, e := range entries {
		if len(e[0]) > width {
			width = len(e[0])
		}
	}
	for _, e := range entries {
		cmd.Printf("%-*s = %s\n", width, e[0], e[1])
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	settings, err := settingsOpener()
	if err != nil {
		return err
	}
	if err := settings.Set(args[0], args[1]); err != nil {
		return err
	}
	cmd.Printf("Set %s = %s\n", args[0], args[1])
	return nil
}
