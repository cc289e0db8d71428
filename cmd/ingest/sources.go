package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/processors"
)

func newSourcesCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List sources and the processor each one resolves to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg).With().Str("component", "sources").Logger()

			a, err := wire(cmd.Context(), cfg, logger, wireOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			var sources []domain.Source
			if all {
				sources, err = a.sources.List(cmd.Context())
			} else {
				sources, err = a.sources.ListIngestible(cmd.Context(), nil)
			}
			if err != nil {
				return fmt.Errorf("list sources: %w", err)
			}
			return renderSources(cmd.OutOrStdout(), sources, a.registries)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include inactive and non-RSS sources")
	return cmd
}

// renderSources writes one row per source. Sources that fail validation
// show the validation error in place of a processor.
func renderSources(w io.Writer, sources []domain.Source, registries processors.Registries) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)

	rows := make([][]string, 0, len(sources))
	for _, src := range sources {
		processor := "-"
		if err := src.Validate(); err != nil {
			processor = "invalid: " + err.Error()
		} else if p := registries.Select(src); p != nil {
			processor = p.Name()
		}
		rows = append(rows, []string{
			strconv.FormatInt(src.ID, 10),
			src.Name,
			src.Kind.String(),
			strconv.FormatBool(src.Active),
			processor,
			src.KeywordFilter,
			src.FeedURL,
		})
	}

	table.Header([]string{"id", "name", "kind", "active", "processor", "keyword filter", "feed url"})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
