package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/sarthi-app/sarthi/internal/cache"
	"github.com/sarthi-app/sarthi/internal/offline"
	"github.com/spf13/cobra"
)

var (
	cacheJSON bool

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline cache",
		Long: paragraph(fmt.Sprintf("\n%s the versioned buckets that keep the reader usable without a network.",
			keyword("Inspect and update"))),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cacheShowCmd.RunE(cmd, args)
		},
	}

	cacheShowCmd = &cobra.Command{
		Use:   "show",
		Short: "List the cache buckets",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withRuntime(func(r *runtime) error {
				st, err := r.app.Offline().Status()
				if err != nil {
					return err //nolint:wrapcheck
				}
				if cacheJSON {
					return writeJSON(os.Stdout, st)
				}
				fmt.Print(formatStatus(st, time.Now()))
				if ds, ok := r.storage.(*cache.DiskStorage); ok {
					if hs, ok := ds.HotStats(); ok {
						fmt.Println(subtle(fmt.Sprintf("  hot layer: %s of %s, %.0f%% hits",
							humanize.Bytes(uint64(hs.Size)), humanize.Bytes(uint64(hs.Capacity)), hs.HitRate*100))) //nolint:gosec,mnd
					}
				}
				return nil
			})
		},
	}

	cacheInstallCmd = &cobra.Command{
		Use:   "install",
		Short: "Precache every manifest resource into the current bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(r *runtime) error {
				m := r.app.Offline()
				if err := m.Install(cmd.Context()); err != nil {
					return fmt.Errorf("install of %s failed: %w", m.Version(), err)
				}
				fmt.Printf("  Installed %s\n", keyword(m.Version()))
				return nil
			})
		},
	}

	cacheActivateCmd = &cobra.Command{
		Use:   "activate",
		Short: "Delete every bucket but the current one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(r *runtime) error {
				deleted, err := r.app.Offline().Activate(cmd.Context())
				printDeleted(deleted)
				return err //nolint:wrapcheck
			})
		},
	}

	cacheUpdateCmd = &cobra.Command{
		Use:   "update",
		Short: "Install the current version, then activate it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(r *runtime) error {
				m := r.app.Offline()
				deleted, err := m.Update(cmd.Context())
				if err != nil {
					return fmt.Errorf("update to %s failed: %w", m.Version(), err)
				}
				fmt.Printf("  Installed %s\n", keyword(m.Version()))
				printDeleted(deleted)
				return nil
			})
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete every bucket, including the current one",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withRuntime(func(r *runtime) error {
				names, err := r.storage.Names()
				if err != nil {
					return err //nolint:wrapcheck
				}
				var deleted []string
				for _, name := range names {
					ok, err := r.storage.Delete(name)
					if err != nil {
						return err //nolint:wrapcheck
					}
					if ok {
						deleted = append(deleted, name)
					}
				}
				printDeleted(deleted)
				return nil
			})
		},
	}

	cacheVersionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the current cache version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			fmt.Println(cfg.Cache.Version)
			return nil
		},
	}

	cacheGetCmd = &cobra.Command{
		Use:     "get <path>",
		Short:   "Fetch a resource through the cache",
		Example: paragraph("sarthi cache get /assets/verse.json > verse.json"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(r *runtime) error {
				resp, err := r.app.Offline().Get(cmd.Context(), args[0])
				if err != nil {
					return err //nolint:wrapcheck
				}
				source := "network"
				if resp.FromCache {
					source = "cache"
				}
				fmt.Fprintln(os.Stderr, subtle(fmt.Sprintf("%d from %s, %s", resp.Status, source, humanize.Bytes(uint64(len(resp.Body))))))
				if !resp.OK() {
					return &offline.FetchError{URL: resp.URL, StatusCode: resp.Status}
				}
				_, err = os.Stdout.Write(resp.Body)
				return err //nolint:wrapcheck
			})
		},
	}

	cacheTranslationsCmd = &cobra.Command{
		Use:   "translations",
		Short: "Count the remembered translations per chapter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(r *runtime) error {
				ctx := cmd.Context()
				groups, err := r.app.Memo().Groups(ctx)
				if err != nil {
					return err //nolint:wrapcheck
				}
				counts := make(map[string]int, len(groups))
				for _, g := range groups {
					entries, err := r.app.Memo().Entries(ctx, g)
					if err != nil {
						return err //nolint:wrapcheck
					}
					counts[g] = len(entries)
				}
				if cacheJSON {
					return writeJSON(os.Stdout, counts)
				}
				if len(groups) == 0 {
					fmt.Println(subtle("  No translations yet."))
					return nil
				}
				for _, g := range groups {
					fmt.Printf("  Chapter %s  %s\n", runewidth.FillLeft(g, 2), subtle(humanize.Comma(int64(counts[g]))+" translations")) //nolint:mnd
				}
				return nil
			})
		},
	}
)

func init() {
	cacheCmd.PersistentFlags().BoolVar(&cacheJSON, "json", false, "print JSON")
	cacheCmd.AddCommand(
		cacheShowCmd,
		cacheInstallCmd,
		cacheActivateCmd,
		cacheUpdateCmd,
		cacheClearCmd,
		cacheVersionCmd,
		cacheGetCmd,
		cacheTranslationsCmd,
	)
}

// withRuntime opens the runtime for the duration of fn.
func withRuntime(fn func(r *runtime) error) error {
	r, err := openRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	return fn(r)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("unable to encode JSON: %w", err)
	}
	return nil
}

func printDeleted(names []string) {
	if len(names) == 0 {
		fmt.Println(subtle("  Nothing to delete."))
		return
	}
	for _, name := range names {
		fmt.Printf("  Deleted %s\n", name)
	}
}

const (
	itemsWidth = 6
	sizeWidth  = 8
)

// formatStatus renders the buckets of st as an aligned table.
func formatStatus(st offline.Status, now time.Time) string {
	var b strings.Builder

	state := warning("not installed")
	if st.Installed {
		state = keyword("installed")
	}
	fmt.Fprintf(&b, "  %s %s (%s)\n", heading("Version"), st.Version, state)
	if st.Origin != "" {
		fmt.Fprintf(&b, "  %s %s\n", heading("Origin "), st.Origin)
	}
	if len(st.Buckets) == 0 {
		b.WriteString(subtle("  No buckets.") + "\n")
		return b.String()
	}
	b.WriteString("\n")

	nameWidth := len("BUCKET")
	for _, info := range st.Buckets {
		nameWidth = max(nameWidth, runewidth.StringWidth(info.Name))
	}

	header := fmt.Sprintf("  %s  %s  %s  %s",
		runewidth.FillRight("BUCKET", nameWidth),
		runewidth.FillLeft("ITEMS", itemsWidth),
		runewidth.FillLeft("SIZE", sizeWidth),
		"CREATED")
	b.WriteString(subtle(header) + "\n")

	for _, info := range st.Buckets {
		line := fmt.Sprintf("  %s  %s  %s  %s",
			runewidth.FillRight(info.Name, nameWidth),
			runewidth.FillLeft(humanize.Comma(info.ItemCount), itemsWidth),
			runewidth.FillLeft(humanize.Bytes(uint64(info.Size)), sizeWidth), //nolint:gosec
			humanize.RelTime(info.Created, now, "ago", "from now"))
		if info.Name != st.Version {
			line += " " + warning("stale")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
