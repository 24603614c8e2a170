package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deid-export/internal/template"
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive per-subject profiles from a CSV mapping",
	Long: `derive reads a CSV whose header cells are dotted template paths
(dicom.date-increment, dicom.fields.PatientID.replace-with,
export.subject.code) and writes one profile per row, keyed by the
required subject.code column.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		csvPath, _ := cmd.Flags().GetString("csv")
		outDir, _ := cmd.Flags().GetString("out")
		paths, err := template.ApplyCSV(viper.GetString("profile"), csvPath, outDir)
		if err != nil {
			return err
		}
		fmt.Printf("Derived %d profile(s) in %s\n", len(paths), outDir)
		return nil
	},
}

func init() {
	deriveCmd.Flags().String("csv", "", "CSV mapping file")
	deriveCmd.Flags().String("out", ".", "output directory for derived profiles")
	deriveCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(deriveCmd)
}
