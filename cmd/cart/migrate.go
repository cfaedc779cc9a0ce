package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cartsync/cart/internal/cart/migrate"
	"github.com/cartsync/cart/internal/ui"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "server",
	Short:   "Write the active group's items to a file or stdout",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := openList(cmd)
		if err != nil {
			return err
		}
		defer lc.close()

		output, _ := cmd.Flags().GetString("output")
		formatFlag, _ := cmd.Flags().GetString("format")

		var format migrate.Format
		switch {
		case formatFlag != "":
			format, err = migrate.ParseFormat(formatFlag)
		case output != "":
			format, err = migrate.FormatFromPath(output)
		default:
			format = migrate.FormatJSON
		}
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if output != "" {
			// #nosec G304 - controlled path from CLI
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}

		n, err := migrate.Export(cmd.Context(), lc.backend, lc.group.ID, w, format)
		if err != nil {
			return err
		}
		if output != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Exported %d items to %s\n", ui.RenderPass("✓"), n, output)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import FILE",
	GroupID: "server",
	Short:   "Add items from an export file to the active group",
	Long: `Import items from a JSON, YAML or JSONL export. Items keep their IDs, so
importing the same file again updates them instead of duplicating them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := openList(cmd)
		if err != nil {
			return err
		}
		defer lc.close()

		opts := migrate.ImportOptions{Path: args[0], GroupID: lc.group.ID}
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
		if f, _ := cmd.Flags().GetString("format"); f != "" {
			if opts.Format, err = migrate.ParseFormat(f); err != nil {
				return err
			}
		}

		res, err := migrate.Import(cmd.Context(), lc.backend, opts)
		if err != nil {
			return err
		}

		for _, e := range res.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", ui.RenderWarn("⚠"), e)
		}
		verb, n := "Imported", res.Written
		if opts.DryRun {
			verb, n = "Would import", res.Read-res.Invalid
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d of %d items into %s\n",
			ui.RenderPass("✓"), verb, n, res.Read, lc.group.Name)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	exportCmd.Flags().String("format", "", "json, yaml or jsonl (default: from file name, else json)")
	importCmd.Flags().String("format", "", "json, yaml or jsonl (default: from file name)")
	importCmd.Flags().Bool("dry-run", false, "Validate without writing")

	rootCmd.AddCommand(exportCmd, importCmd)
}
