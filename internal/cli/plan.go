package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deid-export/internal/deid"
	"deid-export/internal/dicomio"
	"deid-export/internal/template"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview which rules would apply, without writing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(cmd)
	},
}

func init() {
	planCmd.Flags().StringP("input", "i", "", "input directory containing DICOM files")
	planCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command) error {
	profile, err := template.Load(viper.GetString("profile"))
	if err != nil {
		return err
	}
	input, _ := cmd.Flags().GetString("input")
	files, err := dicomio.Find(input, true)
	if err != nil {
		return fmt.Errorf("could not find DICOM files: %w", err)
	}

	fmt.Printf("[PLAN] profile %q: %d rule(s), %d file(s)\n\n", profile.Name, len(profile.Rules), len(files))
	for _, path := range files {
		f, err := dicomio.ReadMetadataOnly(path)
		if err != nil {
			fmt.Printf("  %s: unreadable (%v)\n", path, err)
			continue
		}
		hits := 0
		for _, rule := range profile.Rules {
			targets, err := deid.Resolve(f.Record, rule.Address)
			if err != nil {
				if errors.Is(err, deid.ErrAddressNotFound) || errors.Is(err, deid.ErrIndexOutOfRange) {
					continue
				}
				return err
			}
			hits += len(targets)
		}
		fmt.Printf("  %s: %d element(s) would change\n", path, hits)
	}
	return nil
}
