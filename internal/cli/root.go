package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ticketbot",
	Short: "Ticket sale purchase bot",
	Long: `ticketbot waits for a ticket sale to open, acquires a purchase token,
passes any verification challenge and submits the order until it is
confirmed or the provider reports a condition that cannot be retried.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// flagKeys maps persistent flags to the viper keys they override.
var flagKeys = map[string]string{
	"verbose":    "verbose",
	"log-level":  "log.level",
	"log-format": "log.format",
	"db":         "database.path",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default ./ticketbot.yaml)")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("log-format", "", "log format (console|json)")
	flags.String("db", "", "journal database path")

	for name, key := range flagKeys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads the config file and the TICKETBOT_* environment.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("ticketbot")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("TICKETBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
