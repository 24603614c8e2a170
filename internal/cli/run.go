package cli

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deid-export/internal/deid"
	"deid-export/internal/dicomio"
	"deid-export/internal/report"
	"deid-export/internal/template"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Anonymize all DICOM files under the input directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd)
	},
}

func init() {
	runCmd.Flags().StringP("input", "i", "", "input directory containing DICOM files")
	runCmd.Flags().StringP("output", "o", "", "output directory (default: <input>/anonymized)")
	runCmd.Flags().String("report", "", "job report path (default: <output>/.report.json)")
	runCmd.Flags().Bool("retry", false, "reprocess files that failed in a previous run")
	runCmd.MarkFlagRequired("input")

	viper.BindPFlag("input", runCmd.Flags().Lookup("input"))
	viper.BindPFlag("output", runCmd.Flags().Lookup("output"))
	viper.BindPFlag("report", runCmd.Flags().Lookup("report"))

	rootCmd.AddCommand(runCmd)
}

func runExport(cmd *cobra.Command) error {
	input := viper.GetString("input")
	output := viper.GetString("output")
	if output == "" {
		output = filepath.Join(input, "anonymized")
	}
	reportPath := viper.GetString("report")
	if reportPath == "" {
		reportPath = filepath.Join(output, ".report.json")
	}

	profile, err := template.Load(viper.GetString("profile"))
	if err != nil {
		return err
	}
	engine := deid.NewEngine(profile.Rules, profile.Options)
	rep := report.New(reportPath)
	if retry, _ := cmd.Flags().GetBool("retry"); retry {
		rep.ClearFailed()
	}

	files, err := dicomio.Find(input, true)
	if err != nil {
		return fmt.Errorf("could not find DICOM files: %w", err)
	}
	files = lo.Filter(files, func(f string, _ int) bool {
		rel, err := filepath.Rel(output, f)
		return err != nil || len(rel) < 2 || rel[:2] == ".."
	})
	if len(files) == 0 {
		fmt.Printf("No DICOM files found in %s\n", input)
		return nil
	}
	fmt.Printf("Found %d DICOM file(s) in %s\n", len(files), input)
	log.Infof("job %s: applying profile %q to %d files", rep.JobID(), profile.Name, len(files))

	for _, path := range files {
		if rep.IsProcessed(path) {
			log.Debugf("already processed, skipping %s", path)
			continue
		}
		entry := processFile(engine, input, output, path)
		rep.Add(path, entry)
		if entry.Status == report.StatusFailed {
			color.Red("  %s: %s", filepath.Base(path), entry.Error)
		}
	}

	success, failed, skipped := rep.Counts()
	fmt.Println()
	color.Green("Complete! %d succeeded, %d failed, %d skipped", success, failed, skipped)
	fmt.Printf("Output: %s\nReport: %s\n", output, reportPath)
	return nil
}

// processFile anonymizes one file. Failures are per-record: the file is
// excluded from output and the omission lands in the report.
func processFile(engine *deid.Engine, input, output, path string) report.RecordEntry {
	f, err := dicomio.Read(path)
	if err != nil {
		return report.RecordEntry{Status: report.StatusFailed, Error: err.Error()}
	}

	outcome, err := engine.Anonymize(f.Record)
	if err != nil {
		return report.RecordEntry{Status: report.StatusFailed, Error: err.Error()}
	}

	rel, err := filepath.Rel(input, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	outputPath := filepath.Join(output, rel)
	if err := f.Save(outputPath); err != nil {
		return report.RecordEntry{Status: report.StatusFailed, Error: err.Error()}
	}

	return report.RecordEntry{
		Status:       report.StatusSuccess,
		Output:       outputPath,
		AppliedRules: outcome.Applied,
		SkippedRules: lo.Map(outcome.Skipped, func(s deid.Skip, _ int) string {
			return fmt.Sprintf("%s: %s", s.Address, s.Reason)
		}),
		Warnings: outcome.Warnings,
	}
}
