package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"conversa/internal/config"
	discussionSvc "conversa/internal/domain/services/discussion"
)

func newWindowCmd(cfg **config.Config, logger **slog.Logger) *cobra.Command {
	var (
		mode     string
		policy   string
		start    int
		end      int
		anchor   string
		author   string
		detail   bool
		jsonOut  bool
		showIdea bool
	)

	cmd := &cobra.Command{
		Use:   "window",
		Short: "Print one window of the discussion",
		Long: `Load the discussion once and print one window of it.

Examples:
  mirror window                        # first page, threaded
  mirror window --mode flat --policy popularity
  mirror window --anchor p42 --detail  # page around a message, with bodies
  mirror window --ideas                # the idea tree`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, *cfg, *logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if showIdea {
				items, err := a.views.IdeaTree(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(os.Stdout, items)
				}
				return printIdeas(os.Stdout, items)
			}

			req := &discussionSvc.WindowRequest{
				Mode:     mode,
				Policy:   policy,
				AnchorID: anchor,
				AuthorID: author,
				Detail:   detail,
			}
			if cmd.Flags().Changed("start") {
				req.Start = &start
				if cmd.Flags().Changed("end") {
					req.End = &end
				}
			}

			page, err := a.views.Window(ctx, req)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(os.Stdout, page)
			}
			return printWindow(os.Stdout, page)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "threaded", "threaded or flat")
	cmd.Flags().StringVar(&policy, "policy", "chronological", "Sort policy")
	cmd.Flags().IntVar(&start, "start", 0, "First index of the window")
	cmd.Flags().IntVar(&end, "end", 0, "Last index of the window")
	cmd.Flags().StringVar(&anchor, "anchor", "", "Center the window on this message")
	cmd.Flags().StringVar(&author, "author", "", "Only messages by this author")
	cmd.Flags().BoolVar(&detail, "detail", false, "Load message bodies")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	cmd.Flags().BoolVar(&showIdea, "ideas", false, "Print the idea tree instead")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printWindow(w io.Writer, page *discussionSvc.WindowPage) error {
	fmt.Fprintf(w, "%s / %s, items %d-%d of %d\n\n",
		page.Mode, page.Policy, page.Range.Start, page.Range.End, page.Total)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, item := range page.Items {
		m := item.Message
		label := m.Subject
		if label == "" {
			label = m.ID
		}
		replies := ""
		if item.DescendantCount > 0 {
			replies = fmt.Sprintf("%d replies", item.DescendantCount)
		}
		fmt.Fprintf(tw, "%d\t%s%s\t%s\t%s\t%s\n",
			item.Index,
			item.Prefix,
			label,
			m.CreatorID,
			m.CreatedAt.Format("2006-01-02 15:04"),
			replies,
		)
		if m.Body != "" {
			fmt.Fprintf(tw, "\t%s  %s\t\t\t\n", strings.Repeat(" ", len([]rune(item.Prefix))), excerpt(m.Body, 60))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(page.Unavailable) > 0 {
		fmt.Fprintf(w, "\nbodies unavailable: %s\n", strings.Join(page.Unavailable, ", "))
	}
	return nil
}

func printIdeas(w io.Writer, items []discussionSvc.IdeaItem) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, item := range items {
		fmt.Fprintf(tw, "%s%s\t%d\n", item.Prefix, item.Idea.ShortTitle, item.DescendantCount)
	}
	return tw.Flush()
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
