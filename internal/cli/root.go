// Package cli wires the de-identification engine into a command line:
// run, plan, validate and derive subcommands over a shared profile.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "deid-export",
	Short: "Anonymize DICOM metadata with a de-identification profile",
	Long: `deid-export applies a declarative de-identification profile to DICOM
files: removing, replacing, date-shifting and hashing tagged elements,
and filtering which container metadata may propagate alongside them.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging(viper.GetString("log-dir"), viper.GetBool("verbose"))
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.deid-export.yaml)")
	rootCmd.PersistentFlags().StringP("profile", "p", "", "path to the de-identification profile (YAML)")
	rootCmd.PersistentFlags().String("log-dir", "", "directory for the rotated log file (default: stderr)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
	viper.BindPFlag("log-dir", rootCmd.PersistentFlags().Lookup("log-dir"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".deid-export")
		}
	}

	viper.SetEnvPrefix("DEID")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
