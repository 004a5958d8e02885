package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"autolist/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import listings from a JSON array or JSON lines file (- for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		in := os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrapf(err, "open %s", args[0])
			}
			defer f.Close()
			in = f
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := importer.New(store, logger).Import(ctx, in)
		if res != nil {
			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("read: %d  imported: %s  skipped: %d  failed: %s\n",
				res.Read, green(res.Imported), res.Skipped, red(res.Failed))
			for _, msg := range res.Errors {
				fmt.Printf("  %s %s\n", red("x"), msg)
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
