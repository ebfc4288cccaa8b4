package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/srault95/dlstats/internal/model"
)

var (
	exportProvider string
	exportOut      string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a provider's datasets and series as JSON files",
	Long: `Writes meta.json, datasets.json and one series file per dataset under
the output directory, from the contents of the store.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportProvider, "provider", "p", "", "provider name (BIS, ECB, IMF)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "site/data", "output directory")
	_ = exportCmd.MarkFlagRequired("provider")
}

type metaFile struct {
	GeneratedAt string `json:"generated_at"`
	Provider    string `json:"provider"`
}

type datasetEntry struct {
	DatasetCode   string                       `json:"dataset_code"`
	Name          string                       `json:"name"`
	DocHref       string                       `json:"doc_href,omitempty"`
	LastUpdate    string                       `json:"last_update,omitempty"`
	Frequencies   []string                     `json:"frequencies,omitempty"`
	DimensionKeys []string                     `json:"dimension_keys,omitempty"`
	AttributeKeys []string                     `json:"attribute_keys,omitempty"`
	Codelists     map[string]map[string]string `json:"codelists,omitempty"`
	Concepts      map[string]string            `json:"concepts,omitempty"`
	Notes         string                       `json:"notes,omitempty"`
}

type seriesFile struct {
	GeneratedAt string        `json:"generated_at"`
	Provider    string        `json:"provider"`
	DatasetCode string        `json:"dataset_code"`
	Series      []seriesEntry `json:"series"`
}

type seriesEntry struct {
	Key        string              `json:"key"`
	Name       string              `json:"name,omitempty"`
	Frequency  string              `json:"frequency"`
	StartDate  int                 `json:"start_date"`
	EndDate    int                 `json:"end_date"`
	LastUpdate string              `json:"last_update,omitempty"`
	Dimensions map[string]string   `json:"dimensions,omitempty"`
	Attributes map[string]string   `json:"attributes,omitempty"`
	Notes      string              `json:"notes,omitempty"`
	Values     []model.SeriesValue `json:"values"`
}

func runExport(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := os.MkdirAll(exportOut, 0o755); err != nil {
		return err
	}

	ctx := cmd.Context()
	now := time.Now().UTC().Format(time.RFC3339)

	if err := writeJSON(filepath.Join(exportOut, "meta.json"), metaFile{
		GeneratedAt: now,
		Provider:    exportProvider,
	}); err != nil {
		return err
	}

	datasets, err := st.ListDatasets(ctx, exportProvider)
	if err != nil {
		return err
	}

	entries := make([]datasetEntry, 0, len(datasets))
	for _, dataset := range datasets {
		entries = append(entries, datasetEntry{
			DatasetCode:   dataset.DatasetCode,
			Name:          dataset.Name,
			DocHref:       dataset.DocHref,
			LastUpdate:    formatExportTime(dataset.LastUpdate),
			Frequencies:   dataset.Frequencies,
			DimensionKeys: dataset.DimensionKeys,
			AttributeKeys: dataset.AttributeKeys,
			Codelists:     dataset.Codelists,
			Concepts:      dataset.Concepts,
			Notes:         dataset.Notes,
		})
	}
	if err := writeJSON(filepath.Join(exportOut, "datasets.json"), entries); err != nil {
		return err
	}

	for _, dataset := range datasets {
		series, err := st.LoadSeries(ctx, exportProvider, dataset.DatasetCode)
		if err != nil {
			return err
		}
		out := seriesFile{
			GeneratedAt: now,
			Provider:    exportProvider,
			DatasetCode: dataset.DatasetCode,
			Series:      make([]seriesEntry, 0, len(series)),
		}
		for _, item := range series {
			out.Series = append(out.Series, seriesEntry{
				Key:        item.Key,
				Name:       item.Name,
				Frequency:  item.Frequency,
				StartDate:  item.StartDate,
				EndDate:    item.EndDate,
				LastUpdate: formatExportTime(item.LastUpdate),
				Dimensions: item.Dimensions,
				Attributes: item.Attributes,
				Notes:      item.Notes,
				Values:     item.Values,
			})
		}
		name := fmt.Sprintf("series-%s.json", dataset.Slug())
		if err := writeJSON(filepath.Join(exportOut, name), out); err != nil {
			return err
		}
	}

	fmt.Printf("export complete (provider=%s datasets=%d out=%s)\n",
		exportProvider, len(datasets), exportOut)
	return nil
}

func formatExportTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeJSON(path string, value any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
