package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	reciteOutput string

	reciteCmd = &cobra.Command{
		Use:     "recite <chapter> <verse>",
		Short:   "Download the recitation of a verse",
		Long:    paragraph(fmt.Sprintf("\n%s the recitation of a verse. The network is tried first, a copy from an earlier download is used offline.", keyword("Download"))),
		Example: paragraph("sarthi recite 2 47 -o 2-47.mp3\nsarthi recite 2.47 | mpv -"),
		Args:    cobra.RangeArgs(1, 2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			chapter, verse, err := parseRef(args, false)
			if err != nil {
				return err
			}
			if reciteOutput == "" && term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec
				return errors.New("refusing to write audio to a terminal, use -o or a pipe") //nolint:err113
			}

			return withRuntime(func(r *runtime) error {
				resp, err := r.app.Recitation(cmd.Context(), chapter, verse)
				if err != nil {
					return err //nolint:wrapcheck
				}

				if reciteOutput == "" {
					_, err := os.Stdout.Write(resp.Body)
					return err //nolint:wrapcheck
				}
				if err := os.WriteFile(reciteOutput, resp.Body, 0o644); err != nil { //nolint:gosec
					return fmt.Errorf("unable to write recitation: %w", err)
				}
				source := "network"
				if resp.FromCache {
					source = "cache"
				}
				fmt.Printf("  Wrote %s (%s, from %s)\n", reciteOutput, humanize.Bytes(uint64(len(resp.Body))), source)
				return nil
			})
		},
	}
)

func init() {
	reciteCmd.Flags().StringVarP(&reciteOutput, "output", "o", "", "file to write the audio to")
}
