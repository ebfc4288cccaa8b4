package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/srault95/dlstats/internal/fetchers"
)

var calendarProvider string

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Print a provider's upcoming release schedule",
	RunE:  runCalendar,
}

func init() {
	calendarCmd.Flags().StringVarP(&calendarProvider, "provider", "p", "", "provider name (BIS, ECB)")
	_ = calendarCmd.MarkFlagRequired("provider")
}

func runCalendar(cmd *cobra.Command, args []string) error {
	fetcher, err := fetchers.New(calendarProvider, logger)
	if err != nil {
		return err
	}

	source, ok := fetcher.(fetchers.CalendarFetcher)
	if !ok {
		return fmt.Errorf("provider %s publishes no release calendar", calendarProvider)
	}

	entries, err := source.Calendar(cmd.Context())
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].RunDate.Equal(entries[j].RunDate) {
			return entries[i].RunDate.Before(entries[j].RunDate)
		}
		return entries[i].DatasetCode < entries[j].DatasetCode
	})

	for _, entry := range entries {
		fmt.Printf("%s  %s/%s (%s)\n",
			entry.RunDate.Format("2006-01-02 15:04"),
			entry.ProviderName,
			entry.DatasetCode,
			entry.Timezone)
	}
	return nil
}
