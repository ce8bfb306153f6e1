package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/herdline/breeding-cli/internal/export"
	"github.com/herdline/breeding-cli/internal/loader"
	"github.com/herdline/breeding-cli/internal/matrix"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "Build the cow x bull candidate matrix",
	Long:  "Loads the herd tables and writes each cow's top recommended bulls per class, filtered by the matrix risk cutoff.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "candidates"))

		if err := cfg.Validate("allocate"); err != nil {
			return err
		}
		paths, format, outDir, err := inputFlags(cmd)
		if err != nil {
			return err
		}

		ds, err := loader.LoadAll(ctx, paths, cfg.LoaderOptions())
		if err != nil {
			return eris.Wrap(err, "load input")
		}

		m := matrix.NewBuilder(cfg.MatrixPolicy(), ds.Eligibility).Build(ds.Cows, ds.Bulls)
		m.Warnings = append(ds.Warnings, m.Warnings...)

		written, err := export.WriteCandidates(outDir, format, m)
		if err != nil {
			return err
		}

		log.Info("candidate matrix written",
			zap.Int("cows", len(m.Rows)),
			zap.Int("skipped", len(m.Skipped)),
			zap.Int("defaulted_pairs", m.DefaultedPairs),
			zap.Int("warnings", len(m.Warnings)),
		)
		for _, p := range written {
			fmt.Fprintln(os.Stdout, p)
		}
		return nil
	},
}

// inputFlags reads the input and output flags shared by candidates and
// allocate. Output settings fall back to config.
func inputFlags(cmd *cobra.Command) (loader.Paths, export.Format, string, error) {
	bulls, _ := cmd.Flags().GetString("bulls")
	cows, _ := cmd.Flags().GetString("cows")
	elig, _ := cmd.Flags().GetString("eligibility")
	formatName, _ := cmd.Flags().GetString("format")
	outDir, _ := cmd.Flags().GetString("out")

	if formatName == "" {
		formatName = cfg.Output.Format
	}
	if outDir == "" {
		outDir = cfg.Output.Dir
	}
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return loader.Paths{}, "", "", err
	}
	return loader.Paths{Bulls: bulls, Cows: cows, Eligibility: elig}, format, outDir, nil
}

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("bulls", "", "bull inventory table (csv, tsv or xlsx)")
	cmd.Flags().String("cows", "", "cow table with group and score columns")
	cmd.Flags().String("eligibility", "", "pairwise risk and defect table (optional)")
	cmd.Flags().String("format", "", "output format: csv, xlsx or json (default from config)")
	cmd.Flags().String("out", "", "output directory (default from config)")
	_ = cmd.MarkFlagRequired("bulls")
	_ = cmd.MarkFlagRequired("cows")
}

func init() {
	addInputFlags(candidatesCmd)
	rootCmd.AddCommand(candidatesCmd)
}
