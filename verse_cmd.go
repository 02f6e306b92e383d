package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sarthi-app/sarthi/internal/sarthi"
	"github.com/spf13/cobra"
)

var errBadRef = errors.New("expected a chapter and verse, like 2 47 or 2.47")

var (
	versePlain bool

	verseCmd = &cobra.Command{
		Use:     "verse <chapter> [verse]",
		Aliases: []string{"sloka"},
		Short:   "Read a verse, or a whole chapter",
		Example: paragraph("sarthi verse 2 47\nsarthi verse 2.47\nsarthi verse 12"),
		Args:    cobra.RangeArgs(1, 2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			chapter, verse, err := parseRef(args, true)
			if err != nil {
				return err
			}
			return withRuntime(func(r *runtime) error {
				ctx := cmd.Context()
				var verses []sarthi.Verse
				if verse == 0 {
					verses, err = r.app.ChapterVerses(ctx, chapter)
					if err != nil {
						return err //nolint:wrapcheck
					}
					if len(verses) == 0 {
						return fmt.Errorf("%w: chapter %d", sarthi.ErrVerseNotFound, chapter)
					}
				} else {
					v, err := r.app.Verse(ctx, chapter, verse)
					if err != nil {
						return err //nolint:wrapcheck
					}
					verses = []sarthi.Verse{v}
				}
				return printMarkdown(versesMarkdown(verses))
			})
		},
	}

	chaptersCmd = &cobra.Command{
		Use:   "chapters",
		Short: "List the chapters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(r *runtime) error {
				chapters, err := r.app.Chapters(cmd.Context())
				if err != nil {
					return err //nolint:wrapcheck
				}
				return printMarkdown(chaptersMarkdown(chapters))
			})
		},
	}
)

func init() {
	verseCmd.PersistentFlags().BoolVar(&versePlain, "plain", false, "print without markdown styling")
	verseCmd.AddCommand(chaptersCmd)
}

// parseRef reads "c v", "c.v" or "c:v". When chapterOnly is set a lone
// chapter is accepted and verse is zero.
func parseRef(args []string, chapterOnly bool) (chapter, verse int, err error) {
	parts := args
	if len(args) == 1 {
		parts = strings.FieldsFunc(args[0], func(r rune) bool { return r == '.' || r == ':' })
	}
	if len(parts) == 0 || len(parts) > 2 || (len(parts) == 1 && !chapterOnly) {
		return 0, 0, errBadRef
	}

	chapter, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || chapter < 1 {
		return 0, 0, errBadRef
	}
	if len(parts) == 2 { //nolint:mnd
		verse, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || verse < 1 {
			return 0, 0, errBadRef
		}
	}
	return chapter, verse, nil
}

func versesMarkdown(verses []sarthi.Verse) string {
	var b strings.Builder
	for i, v := range verses {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "## Chapter %d, Verse %d\n\n", v.Chapter, v.Number)
		for _, line := range strings.Split(strings.TrimSpace(v.Text), "\n") {
			fmt.Fprintf(&b, "> %s\n", strings.TrimSpace(line))
		}
		if t := strings.TrimSpace(v.Transliteration); t != "" {
			fmt.Fprintf(&b, "\n*%s*\n", strings.Join(strings.Fields(t), " "))
		}
		if wm := strings.TrimSpace(v.WordMeanings); wm != "" {
			fmt.Fprintf(&b, "\n%s\n", wm)
		}
	}
	return b.String()
}

func chaptersMarkdown(chapters []sarthi.Chapter) string {
	var b strings.Builder
	b.WriteString("# Chapters\n\n")
	for _, c := range chapters {
		fmt.Fprintf(&b, "%d. **%s** (%s), %d verses\n", c.Number, c.Name, c.NameMeaning, c.VersesCount)
	}
	return b.String()
}

// printMarkdown renders md unless plain output was asked for.
func printMarkdown(md string) error {
	if versePlain {
		fmt.Print(renderPlain(md))
		return nil
	}
	out, err := renderMarkdown(md)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
