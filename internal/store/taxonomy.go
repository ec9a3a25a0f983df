package store

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/stoppage"
)

// SeedTaxonomy upserts every category and subcode of t. Existing rows that
// t does not mention are left alone so classified events keep their
// references.
func (s *Store) SeedTaxonomy(ctx context.Context, t *stoppage.Taxonomy) error {
	errFactory := errors.New()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(errors.ErrStorage, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	subcodes := 0
	for _, c := range t.Categories() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reason_categories (code, name, description)
			VALUES (?, ?, ?)
			ON CONFLICT (code) DO UPDATE SET name = excluded.name, description = excluded.description`,
			c.Code, c.Name, c.Description,
		); err != nil {
			return storageErr("seed category", err)
		}

		for _, sc := range c.Subcodes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO reason_subcodes (category_code, number, name, description)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (category_code, number) DO UPDATE SET
					name = excluded.name, description = excluded.description`,
				c.Code, sc.Number, sc.Name, sc.Description,
			); err != nil {
				return storageErr("seed subcode", err)
			}
			subcodes++
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(errors.ErrStorage, err)
	}
	committed = true

	log.Debug().
		Int("categories", len(t.Categories())).
		Int("subcodes", subcodes).
		Msg("Reason taxonomy seeded")
	return nil
}

// LoadTaxonomy reads the stored reason codes.
func (s *Store) LoadTaxonomy(ctx context.Context) (*stoppage.Taxonomy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.code, c.name, c.description, sc.number, sc.name, sc.description
		FROM reason_categories c
		LEFT JOIN reason_subcodes sc ON sc.category_code = c.code
		ORDER BY c.code, sc.number`)
	if err != nil {
		return nil, storageErr("load taxonomy", err)
	}
	defer rows.Close()

	var categories []stoppage.Category
	for rows.Next() {
		var (
			c       stoppage.Category
			number  sql.NullInt64
			subName sql.NullString
			subDesc sql.NullString
		)
		if err := rows.Scan(&c.Code, &c.Name, &c.Description, &number, &subName, &subDesc); err != nil {
			return nil, storageErr("scan taxonomy", err)
		}

		if n := len(categories); n == 0 || categories[n-1].Code != c.Code {
			categories = append(categories, c)
		}
		if number.Valid {
			last := &categories[len(categories)-1]
			last.Subcodes = append(last.Subcodes, stoppage.Subcode{
				Number:      int(number.Int64),
				Name:        subName.String,
				Description: subDesc.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate taxonomy", err)
	}

	return stoppage.NewTaxonomy(categories)
}
