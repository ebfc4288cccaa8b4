// Package sqlite persists providers, categories, datasets and series in a
// single sqlite database. Nested documents (codelists, series values) are
// stored as JSON columns; series writes reconcile against the stored values
// so revision history survives re-ingestion.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/srault95/dlstats/internal/model"
	"github.com/srault95/dlstats/internal/series"
	"github.com/srault95/dlstats/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) UpsertProvider(ctx context.Context, provider model.Provider) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (name, slug, long_name, version, region, website, terms_of_use)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			slug = excluded.slug,
			long_name = excluded.long_name,
			version = excluded.version,
			region = excluded.region,
			website = excluded.website,
			terms_of_use = excluded.terms_of_use
	`,
		provider.Name,
		provider.Slug(),
		provider.LongName,
		provider.Version,
		provider.Region,
		provider.Website,
		provider.TermsOfUse,
	)
	return err
}

func (s *Store) UpsertCategories(ctx context.Context, categories []model.Category) error {
	if len(categories) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO categories (
			provider, category_code, slug, name, position, parent, all_parents, doc_href, datasets
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, category_code) DO UPDATE SET
			slug = excluded.slug,
			name = excluded.name,
			position = excluded.position,
			parent = excluded.parent,
			all_parents = excluded.all_parents,
			doc_href = excluded.doc_href,
			datasets = excluded.datasets
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, category := range categories {
		allParents, err := json.Marshal(category.AllParents)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		refs, err := json.Marshal(category.Datasets)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		_, err = stmt.ExecContext(
			ctx,
			category.ProviderName,
			category.CategoryCode,
			category.Slug(),
			category.Name,
			category.Position,
			category.Parent,
			string(allParents),
			category.DocHref,
			string(refs),
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *Store) UpsertDataset(ctx context.Context, dataset *model.Dataset) error {
	frequencies, err := json.Marshal(dataset.Frequencies)
	if err != nil {
		return err
	}
	dimensionKeys, err := json.Marshal(dataset.DimensionKeys)
	if err != nil {
		return err
	}
	attributeKeys, err := json.Marshal(dataset.AttributeKeys)
	if err != nil {
		return err
	}
	codelists, err := json.Marshal(dataset.Codelists)
	if err != nil {
		return err
	}
	concepts, err := json.Marshal(dataset.Concepts)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO datasets (
			provider, dataset_code, slug, name, doc_href, last_update,
			frequencies, dimension_keys, attribute_keys, codelists, concepts, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, dataset_code) DO UPDATE SET
			slug = excluded.slug,
			name = excluded.name,
			doc_href = excluded.doc_href,
			last_update = excluded.last_update,
			frequencies = excluded.frequencies,
			dimension_keys = excluded.dimension_keys,
			attribute_keys = excluded.attribute_keys,
			codelists = excluded.codelists,
			concepts = excluded.concepts,
			notes = excluded.notes
	`,
		dataset.ProviderName,
		dataset.DatasetCode,
		dataset.Slug(),
		dataset.Name,
		dataset.DocHref,
		formatTime(dataset.LastUpdate),
		string(frequencies),
		string(dimensionKeys),
		string(attributeKeys),
		string(codelists),
		string(concepts),
		dataset.Notes,
	)
	return err
}

// UpsertSeries reconciles each series against its stored values before
// writing, so changed observations keep their revision history.
func (s *Store) UpsertSeries(ctx context.Context, dataset *model.Dataset, batch []*model.Series) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	selectStmt, err := tx.PrepareContext(ctx, `
		SELECT values_json FROM series
		WHERE provider = ? AND dataset_code = ? AND key = ?
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer selectStmt.Close()

	upsertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO series (
			provider, dataset_code, key, slug, name, frequency,
			start_date, end_date, last_update, dimensions, attributes, notes, values_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, dataset_code, key) DO UPDATE SET
			slug = excluded.slug,
			name = excluded.name,
			frequency = excluded.frequency,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			last_update = excluded.last_update,
			dimensions = excluded.dimensions,
			attributes = excluded.attributes,
			notes = excluded.notes,
			values_json = excluded.values_json
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer upsertStmt.Close()

	for _, item := range batch {
		if item.LastUpdate.IsZero() {
			item.LastUpdate = dataset.LastUpdate
		}

		var stored []model.SeriesValue
		var storedJSON string
		row := selectStmt.QueryRowContext(ctx, item.ProviderName, item.DatasetCode, item.Key)
		switch scanErr := row.Scan(&storedJSON); scanErr {
		case nil:
			if err = json.Unmarshal([]byte(storedJSON), &stored); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("sqlite: series %s: %w", item.Key, err)
			}
		case sql.ErrNoRows:
		default:
			err = scanErr
			_ = tx.Rollback()
			return err
		}

		incoming := series.Densify(item.Values, item.Frequency, item.LastUpdate)
		item.Values = series.Merge(stored, incoming, item.Frequency, item.LastUpdate)
		item.StartDate = item.Values[0].Ordinal
		item.EndDate = item.Values[len(item.Values)-1].Ordinal

		if err = series.Check(item); err != nil {
			_ = tx.Rollback()
			return err
		}

		var values, dimensions, attributes []byte
		if values, err = json.Marshal(item.Values); err != nil {
			_ = tx.Rollback()
			return err
		}
		if dimensions, err = json.Marshal(item.Dimensions); err != nil {
			_ = tx.Rollback()
			return err
		}
		if attributes, err = json.Marshal(item.Attributes); err != nil {
			_ = tx.Rollback()
			return err
		}

		_, err = upsertStmt.ExecContext(
			ctx,
			item.ProviderName,
			item.DatasetCode,
			item.Key,
			item.Slug(),
			item.Name,
			item.Frequency,
			item.StartDate,
			item.EndDate,
			formatTime(item.LastUpdate),
			string(dimensions),
			string(attributes),
			item.Notes,
			string(values),
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}
	return nil
}

func (s *Store) DatasetLastUpdate(ctx context.Context, providerName, datasetCode string) (*time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_update FROM datasets WHERE provider = ? AND dataset_code = ?
	`, providerName, datasetCode).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	when, err := parseTime(raw)
	if err != nil {
		return nil, err
	}
	if when.IsZero() {
		return nil, nil
	}
	return &when, nil
}

func (s *Store) ListDatasets(ctx context.Context, providerName string) ([]model.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, dataset_code, name, doc_href, last_update,
			frequencies, dimension_keys, attribute_keys, codelists, concepts, notes
		FROM datasets WHERE provider = ? ORDER BY dataset_code
	`, providerName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datasets []model.Dataset
	for rows.Next() {
		var dataset model.Dataset
		var lastUpdate, frequencies, dimensionKeys, attributeKeys, codelists, concepts string
		if err := rows.Scan(
			&dataset.ProviderName,
			&dataset.DatasetCode,
			&dataset.Name,
			&dataset.DocHref,
			&lastUpdate,
			&frequencies,
			&dimensionKeys,
			&attributeKeys,
			&codelists,
			&concepts,
			&dataset.Notes,
		); err != nil {
			return nil, err
		}
		if dataset.LastUpdate, err = parseTime(lastUpdate); err != nil {
			return nil, err
		}
		for _, column := range []struct {
			raw    string
			target any
		}{
			{frequencies, &dataset.Frequencies},
			{dimensionKeys, &dataset.DimensionKeys},
			{attributeKeys, &dataset.AttributeKeys},
			{codelists, &dataset.Codelists},
			{concepts, &dataset.Concepts},
		} {
			if column.raw == "" {
				continue
			}
			if err := json.Unmarshal([]byte(column.raw), column.target); err != nil {
				return nil, fmt.Errorf("sqlite: dataset %s: %w", dataset.DatasetCode, err)
			}
		}
		datasets = append(datasets, dataset)
	}
	return datasets, rows.Err()
}

func (s *Store) LoadSeries(ctx context.Context, providerName, datasetCode string) ([]*model.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, dataset_code, key, name, frequency,
			start_date, end_date, last_update, dimensions, attributes, notes, values_json
		FROM series WHERE provider = ? AND dataset_code = ? ORDER BY key
	`, providerName, datasetCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Series
	for rows.Next() {
		item := &model.Series{}
		var lastUpdate, dimensions, attributes, values string
		if err := rows.Scan(
			&item.ProviderName,
			&item.DatasetCode,
			&item.Key,
			&item.Name,
			&item.Frequency,
			&item.StartDate,
			&item.EndDate,
			&lastUpdate,
			&dimensions,
			&attributes,
			&item.Notes,
			&values,
		); err != nil {
			return nil, err
		}
		if item.LastUpdate, err = parseTime(lastUpdate); err != nil {
			return nil, err
		}
		if dimensions != "" {
			if err := json.Unmarshal([]byte(dimensions), &item.Dimensions); err != nil {
				return nil, fmt.Errorf("sqlite: series %s: %w", item.Key, err)
			}
		}
		if attributes != "" {
			if err := json.Unmarshal([]byte(attributes), &item.Attributes); err != nil {
				return nil, fmt.Errorf("sqlite: series %s: %w", item.Key, err)
			}
		}
		if values != "" {
			if err := json.Unmarshal([]byte(values), &item.Values); err != nil {
				return nil, fmt.Errorf("sqlite: series %s: %w", item.Key, err)
			}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) migrate() error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS providers (
			name TEXT NOT NULL PRIMARY KEY,
			slug TEXT NOT NULL,
			long_name TEXT NOT NULL,
			version INTEGER NOT NULL,
			region TEXT,
			website TEXT,
			terms_of_use TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS categories (
			provider TEXT NOT NULL,
			category_code TEXT NOT NULL,
			slug TEXT NOT NULL,
			name TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			parent TEXT,
			all_parents TEXT,
			doc_href TEXT,
			datasets TEXT,
			PRIMARY KEY (provider, category_code)
		);`,
		`CREATE TABLE IF NOT EXISTS datasets (
			provider TEXT NOT NULL,
			dataset_code TEXT NOT NULL,
			slug TEXT NOT NULL,
			name TEXT NOT NULL,
			doc_href TEXT,
			last_update TEXT,
			frequencies TEXT,
			dimension_keys TEXT,
			attribute_keys TEXT,
			codelists TEXT,
			concepts TEXT,
			notes TEXT,
			PRIMARY KEY (provider, dataset_code)
		);`,
		`CREATE TABLE IF NOT EXISTS series (
			provider TEXT NOT NULL,
			dataset_code TEXT NOT NULL,
			key TEXT NOT NULL,
			slug TEXT NOT NULL,
			name TEXT,
			frequency TEXT NOT NULL,
			start_date INTEGER NOT NULL,
			end_date INTEGER NOT NULL,
			last_update TEXT,
			dimensions TEXT,
			attributes TEXT,
			notes TEXT,
			values_json TEXT NOT NULL,
			PRIMARY KEY (provider, dataset_code, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_series_dataset ON series (provider, dataset_code);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

var _ store.Store = (*Store)(nil)
