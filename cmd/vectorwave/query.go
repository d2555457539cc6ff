package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/vectorwave-go/core"
	"github.com/becomeliminal/vectorwave-go/search"
)

func newFunctionsCmd(a *app) *cobra.Command {
	var (
		limit   int
		filters []string
	)
	cmd := &cobra.Command{
		Use:   "functions QUERY",
		Short: "Search functions by meaning",
		Long: `Search recorded functions by semantic similarity to QUERY.

Examples:
  vectorwave functions "payment processing"
  vectorwave functions "payment processing" --filter team=billing --limit 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFilters(filters)
			if err != nil {
				return err
			}
			return a.withSearcher(cmd.Context(), func(s *search.Searcher) error {
				results, err := s.SearchFunctions(cmd.Context(), args[0], limit, f)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), search.FormatFunctions(results))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of results")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "equality filter key=value (repeatable)")
	return cmd
}

func newExecutionsCmd(a *app) *cobra.Command {
	var (
		limit     int
		filters   []string
		sortBy    string
		ascending bool
	)
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List execution records",
		Long: `List execution records, newest first by default.

Examples:
  vectorwave executions --filter team=billing --filter status=ERROR
  vectorwave executions --sort duration_ms --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFilters(filters)
			if err != nil {
				return err
			}
			return a.withSearcher(cmd.Context(), func(s *search.Searcher) error {
				records, err := s.SearchExecutions(cmd.Context(), search.ExecutionQuery{
					Filters:   f,
					SortBy:    sortBy,
					Ascending: ascending,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), search.Format(records))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "equality filter key=value (repeatable)")
	cmd.Flags().StringVar(&sortBy, "sort", core.PropTimestampUTC, "property to sort by")
	cmd.Flags().BoolVar(&ascending, "asc", false, "sort ascending")
	return cmd
}

func newErrorsCmd(a *app) *cobra.Command {
	var (
		since time.Duration
		limit int
		codes []string
	)
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List recent failed executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSearcher(cmd.Context(), func(s *search.Searcher) error {
				records, err := s.FindRecentErrors(cmd.Context(), since, limit, nil, codes...)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), search.Format(records))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", time.Hour, "how far back to look")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().StringArrayVar(&codes, "code", nil, "only this error code (repeatable)")
	return cmd
}

func newSlowestCmd(a *app) *cobra.Command {
	var (
		limit int
		minMs float64
	)
	cmd := &cobra.Command{
		Use:   "slowest",
		Short: "List the slowest executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSearcher(cmd.Context(), func(s *search.Searcher) error {
				records, err := s.FindSlowestExecutions(cmd.Context(), limit, minMs)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), search.Format(records))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of results")
	cmd.Flags().Float64Var(&minMs, "min-ms", 0, "skip executions faster than this many milliseconds")
	return cmd
}

func newTraceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "trace TRACE_ID",
		Short: "Show every span of a trace in start order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSearcher(cmd.Context(), func(s *search.Searcher) error {
				spans, err := s.FindByTraceID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), search.Format(spans))
				return nil
			})
		},
	}
}
