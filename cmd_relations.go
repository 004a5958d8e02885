package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"autolist/apperrors"
)

var (
	relationsListing string
	relationsLimit   int
)

var relationsCmd = &cobra.Command{
	Use:   "relations",
	Short: "List persisted duplicate relations, highest score first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var listingID *uuid.UUID
		if relationsListing != "" {
			id, err := uuid.Parse(relationsListing)
			if err != nil {
				return eris.Wrapf(apperrors.ErrValidation, "--listing %q is not a UUID", relationsListing)
			}
			listingID = &id
		}
		if relationsLimit <= 0 {
			return eris.Wrapf(apperrors.ErrValidation, "--limit must be positive, got %d", relationsLimit)
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		relations, err := store.ListSimilarityRelations(ctx, listingID, relationsLimit)
		if err != nil {
			return err
		}

		if len(relations) == 0 {
			fmt.Println(color.YellowString("No relations found"))
			return nil
		}
		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, r := range relations {
			fmt.Printf("%s <-> %s  %.3f  %-15s %s\n",
				r.ListingA, r.ListingB, r.Score, r.Type, gray(r.UpdatedAt.Format("2006-01-02 15:04")))
		}
		return nil
	},
}

func init() {
	relationsCmd.Flags().StringVar(&relationsListing, "listing", "", "only relations touching this listing id")
	relationsCmd.Flags().IntVar(&relationsLimit, "limit", 50, "max relations to print")
	rootCmd.AddCommand(relationsCmd)
}
