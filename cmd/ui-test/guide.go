package main

import (
	_ "embed"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

//go:embed guide.md
var guideMarkdown string

func newGuideCmd() *cobra.Command {
	var (
		raw   bool
		width int
	)
	cmd := &cobra.Command{
		Use:   "guide",
		Short: "Show the test file and selector guide",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			noColor, _ := cmd.Flags().GetBool("no-color")
			if raw {
				fmt.Fprint(cmd.OutOrStdout(), guideMarkdown)
				return nil
			}
			out, err := renderGuide(width, !noColor)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the Markdown source")
	cmd.Flags().IntVar(&width, "width", 80, "Wrap width")
	return cmd
}

// renderGuide styles the guide for the terminal. Without color it uses
// glamour's plain style.
func renderGuide(width int, color bool) (string, error) {
	style := glamour.WithStandardStyle("notty")
	if color {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	out, err := r.Render(guideMarkdown)
	if err != nil {
		return "", fmt.Errorf("render guide: %w", err)
	}
	return out, nil
}
