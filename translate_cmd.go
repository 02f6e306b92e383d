package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/sarthi-app/sarthi/internal/gemini"
	"github.com/sarthi-app/sarthi/internal/sarthi"
	"github.com/spf13/cobra"
)

var (
	translateLang  string
	translatePlain bool
	translateCopy  bool

	translateCmd = &cobra.Command{
		Use:   "translate <chapter> <verse>",
		Short: "Explain a verse in your language",
		Long: paragraph(fmt.Sprintf("\n%s a verse with the AI guide. Each verse is explained once per language and remembered.",
			keyword("Explain"))),
		Example: paragraph("sarthi translate 2 47\nsarthi translate 2.47 --lang hindi"),
		Args:    cobra.RangeArgs(1, 2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			chapter, verse, err := parseRef(args, false)
			if err != nil {
				return err
			}

			return withRuntime(func(r *runtime) error {
				ctx := cmd.Context()
				var lang string
				if translateLang != "" {
					lang, err = sarthi.ResolveLanguage(translateLang)
					if err != nil {
						return err //nolint:wrapcheck
					}
				} else if lang, err = r.app.Language(ctx); err != nil {
					return err //nolint:wrapcheck
				}

				t, err := r.app.TranslateIn(ctx, chapter, verse, lang)
				if err != nil {
					return userError(err)
				}

				if translateCopy {
					// OSC 52 reaches the local terminal over SSH
					termenv.Copy(t.Text)
					if err := clipboard.WriteAll(t.Text); err != nil {
						log.Warn("unable to copy to clipboard", "error", err)
					} else {
						fmt.Fprintln(os.Stderr, subtle("  Copied to clipboard."))
					}
				}

				if translatePlain {
					fmt.Print(renderPlain(t.Text))
					return nil
				}
				md := fmt.Sprintf("## Chapter %d, Verse %d · %s\n\n%s\n",
					t.Verse.Chapter, t.Verse.Number, sarthi.LanguageName(t.Language), t.Text)
				out, err := renderMarkdown(md)
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			})
		},
	}
)

func init() {
	translateCmd.Flags().StringVarP(&translateLang, "lang", "l", "", "language to explain in (default the saved one)")
	translateCmd.Flags().BoolVar(&translatePlain, "plain", false, "print without markdown styling")
	translateCmd.Flags().BoolVarP(&translateCopy, "copy", "c", false, "copy the explanation to the clipboard")
}

// userError replaces generation failures with the message shown to readers,
// keeping the cause in the log.
func userError(err error) error {
	if errors.Is(err, gemini.ErrNoCredential) {
		return fmt.Errorf("%s Run %s.", gemini.UserMessage(err), keyword("sarthi key set")) //nolint:err113
	}
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) || isGenerationError(err) {
		log.Error("generation failed", "error", err)
		return errors.New(gemini.UserMessage(err)) //nolint:err113
	}
	return err
}

func isGenerationError(err error) bool {
	for _, target := range []error{
		gemini.ErrNoCandidates,
		gemini.ErrEmptyResponse,
		gemini.ErrBlocked,
		gemini.ErrTruncated,
		gemini.ErrNoContent,
		gemini.ErrNoText,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
