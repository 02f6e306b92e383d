package main

import (
	"fmt"

	"github.com/sarthi-app/sarthi/internal/sarthi"
	"github.com/spf13/cobra"
)

var (
	languageCmd = &cobra.Command{
		Use:     "language [name]",
		Aliases: []string{"lang"},
		Short:   "Show or set the language of explanations",
		Example: paragraph("sarthi language\nsarthi language hindi"),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(r *runtime) error {
				ctx := cmd.Context()
				if len(args) == 0 {
					st, err := r.app.State(ctx)
					if err != nil {
						return err //nolint:wrapcheck
					}
					fmt.Println(" ", st.LanguageName)
					return nil
				}

				lang, err := sarthi.ResolveLanguage(args[0])
				if err != nil {
					return err //nolint:wrapcheck
				}
				if err := r.app.SetLanguage(ctx, lang); err != nil {
					return err //nolint:wrapcheck
				}
				fmt.Printf("  Language set to %s\n", keyword(sarthi.LanguageName(lang)))
				return nil
			})
		},
	}

	languageListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the supported languages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(r *runtime) error {
				current, err := r.app.Language(cmd.Context())
				if err != nil {
					return err //nolint:wrapcheck
				}
				for _, lang := range sarthi.Languages {
					if lang == current {
						fmt.Println(" ", keyword("• "+sarthi.LanguageName(lang)))
						continue
					}
					fmt.Println("   ", sarthi.LanguageName(lang))
				}
				return nil
			})
		},
	}
)

func init() {
	languageCmd.AddCommand(languageListCmd)
}
