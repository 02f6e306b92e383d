package main

import (
	"fmt"
	"strings"

	"github.com/sarthi-app/sarthi/internal/sarthi"
	"github.com/spf13/cobra"
)

var (
	askPlain     bool
	historyClear bool

	askCmd = &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask the AI guide for relevant verses",
		Long: paragraph(fmt.Sprintf("\n%s a question and get three verses that speak to it. Questions and answers are kept in the chat history.",
			keyword("Ask"))),
		Example: paragraph("sarthi ask how do I deal with anxiety about results"),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return withRuntime(func(r *runtime) error {
				ctx := cmd.Context()
				asked, err := r.app.HasUserMessages(ctx)
				if err != nil {
					return err //nolint:wrapcheck
				}
				if !asked {
					fmt.Print(renderPlain(sarthi.Welcome))
					fmt.Println()
				}

				msg, err := r.app.Ask(ctx, question)
				if err != nil {
					return userError(err)
				}
				return printMessage(msg)
			})
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show the chat history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(func(r *runtime) error {
				ctx := cmd.Context()
				if historyClear {
					if err := r.app.ClearHistory(ctx); err != nil {
						return err //nolint:wrapcheck
					}
					fmt.Println(subtle("  Chat history cleared."))
					return nil
				}

				msgs, err := r.app.History(ctx)
				if err != nil {
					return err //nolint:wrapcheck
				}
				if len(msgs) == 0 {
					fmt.Print(renderPlain(sarthi.Welcome))
					return nil
				}
				for _, m := range msgs {
					if err := printMessage(m); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
)

func init() {
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "print without markdown styling")
	historyCmd.Flags().BoolVar(&askPlain, "plain", false, "print without markdown styling")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "delete the chat history")
}

func messageMarkdown(m sarthi.Message) string {
	if m.Sender == sarthi.SenderUser {
		return "**You:** " + m.Text + "\n"
	}
	var b strings.Builder
	b.WriteString("**Sarthi AI:**\n\n")
	b.WriteString(strings.TrimSpace(m.Text))
	b.WriteString("\n")
	if len(m.References) > 0 {
		b.WriteString("\nRead them with: ")
		for i, ref := range m.References {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "`sarthi verse %s`", ref)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func printMessage(m sarthi.Message) error {
	md := messageMarkdown(m)
	if askPlain {
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
