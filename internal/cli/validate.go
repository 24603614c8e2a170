package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deid-export/internal/template"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate a de-identification profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := template.Load(viper.GetString("profile"))
		if err != nil {
			return err
		}
		color.Green("Profile %q is valid: %d rules, %d export container(s)",
			profile.Name, len(profile.Rules), len(profile.Export))
		for kind, cc := range profile.Export {
			fmt.Printf("  %s: %d info key(s), %d metadata key(s)\n",
				kind, len(cc.Whitelist.Info), len(cc.Whitelist.Metadata))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
