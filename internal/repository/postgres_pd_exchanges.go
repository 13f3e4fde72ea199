package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dialysis-ledger/internal/domain"
)

const pdColumns = `
			id::text,
			patient_id::text,
			"timestamp",
			baxter_strength,
			fill_volume,
			drain_volume,
			uf,
			weight,
			COALESCE(notes, ''),
			COALESCE(image_url, ''),
			created_at`

// PostgresPDExchangesRepository pd_exchanges on Postgres; uf is a generated column.
type PostgresPDExchangesRepository struct {
	db *sql.DB
}

func NewPostgresPDExchangesRepository(db *sql.DB) *PostgresPDExchangesRepository {
	return &PostgresPDExchangesRepository{db: db}
}

var _ PDExchangesRepository = (*PostgresPDExchangesRepository)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPDExchange(row rowScanner) (*domain.PDExchange, error) {
	var (
		e                 domain.PDExchange
		strength          string
		drain, uf, weight sql.NullFloat64
	)
	if err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.Timestamp,
		&strength,
		&e.FillVolume,
		&drain,
		&uf,
		&weight,
		&e.Notes,
		&e.ImageURL,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.BaxterStrength = domain.Strength(strength)
	e.DrainVolume = nullFloat(drain)
	e.UF = nullFloat(uf)
	e.Weight = nullFloat(weight)
	return &e, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// listWhere appends the civil-time bounds of opts to a query already filtering by patient ($1).
func listWhere(query string, args []any, opts ListOptions) (string, []any) {
	if opts.From != nil {
		args = append(args, *opts.From)
		query += fmt.Sprintf(` AND "timestamp" >= $%d`, len(args))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		query += fmt.Sprintf(` AND "timestamp" <= $%d`, len(args))
	}
	if opts.Ascending {
		query += ` ORDER BY "timestamp" ASC, created_at ASC`
	} else {
		query += ` ORDER BY "timestamp" DESC, created_at DESC`
	}
	return query, args
}

func (r *PostgresPDExchangesRepository) ListPDExchanges(ctx context.Context, patientID string, opts ListOptions) ([]domain.PDExchange, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query, args := listWhere(`SELECT`+pdColumns+`
		FROM pd_exchanges
		WHERE patient_id = $1::uuid`, []any{patientID}, opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pd exchanges: %w", err)
	}
	defer rows.Close()

	out := []domain.PDExchange{}
	for rows.Next() {
		e, err := scanPDExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pd exchange: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pd exchanges: %w", err)
	}
	return out, nil
}

func (r *PostgresPDExchangesRepository) InsertPDExchange(ctx context.Context, e *domain.PDExchange) (*domain.PDExchange, error) {
	if e == nil || e.PatientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		INSERT INTO pd_exchanges (patient_id, "timestamp", baxter_strength, fill_volume, drain_volume, weight, notes, image_url)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
		RETURNING` + pdColumns

	stored, err := scanPDExchange(r.db.QueryRowContext(ctx, query,
		e.PatientID,
		e.Timestamp,
		string(e.BaxterStrength),
		e.FillVolume,
		e.DrainVolume,
		e.Weight,
		e.Notes,
		e.ImageURL,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert pd exchange: %w", err)
	}
	return stored, nil
}

func (r *PostgresPDExchangesRepository) UpdatePDExchange(ctx context.Context, patientID, id string, edit domain.PDEdit) (*domain.PDExchange, error) {
	query := `
		UPDATE pd_exchanges
		SET fill_volume = $3,
		    drain_volume = $4,
		    weight = $5,
		    baxter_strength = $6,
		    notes = NULLIF($7, '')
		WHERE id = $1::uuid
		  AND patient_id = $2::uuid
		RETURNING` + pdColumns

	stored, err := scanPDExchange(r.db.QueryRowContext(ctx, query,
		id,
		patientID,
		edit.FillVolume,
		edit.DrainVolume,
		edit.Weight,
		string(edit.BaxterStrength),
		edit.Notes,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update pd exchange: %w", err)
	}
	return stored, nil
}

func (r *PostgresPDExchangesRepository) DeletePDExchange(ctx context.Context, patientID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pd_exchanges WHERE id = $1::uuid AND patient_id = $2::uuid`,
		id, patientID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete pd exchange: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
