package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	keyCmd = &cobra.Command{
		Use:   "key",
		Short: "Manage the Gemini API key",
		Long: paragraph(fmt.Sprintf("\n%s the Gemini API key used by the AI guide. %s takes precedence over the saved key.",
			keyword("Manage"), keyword("GEMINI_API_KEY"))),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return keyShowCmd.RunE(cmd, args)
		},
	}

	keySetCmd = &cobra.Command{
		Use:     "set [key]",
		Short:   "Save the API key",
		Example: paragraph("sarthi key set\nsarthi key set AIza..."),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				var err error
				if key, err = readSecret("Gemini API key: "); err != nil {
					return err
				}
			}
			return withRuntime(func(r *runtime) error {
				if err := r.app.SetAPIKey(cmd.Context(), key); err != nil {
					return err //nolint:wrapcheck
				}
				fmt.Println(keyword("  API key saved successfully!"))
				return nil
			})
		},
	}

	keyShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show whether a key is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(r *runtime) error {
				key, err := r.app.APIKey(cmd.Context())
				if err != nil {
					return err //nolint:wrapcheck
				}
				if key == "" {
					fmt.Println(warning("  No API key configured."), subtle("Run sarthi key set."))
					return nil
				}
				source := "saved"
				if envCfg.GeminiAPIKey != "" {
					source = "from GEMINI_API_KEY"
				}
				fmt.Printf("  %s %s\n", maskKey(key), subtle("("+source+")"))
				return nil
			})
		},
	}

	keyClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete the saved API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(r *runtime) error {
				if err := r.app.ClearAPIKey(cmd.Context()); err != nil {
					return err //nolint:wrapcheck
				}
				fmt.Println(subtle("  API key removed."))
				return nil
			})
		},
	}
)

func init() {
	keyCmd.AddCommand(keySetCmd, keyShowCmd, keyClearCmd)
}

// readSecret prompts on stderr and reads a line without echo when stdin is
// a terminal.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("unable to read key: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("unable to read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// maskKey shows only the ends of a key.
func maskKey(key string) string {
	const visible = 4
	if len(key) <= 2*visible {
		return strings.Repeat("*", len(key))
	}
	return key[:visible] + strings.Repeat("*", len(key)-2*visible) + key[len(key)-visible:]
}
