package repository

import (
	"context"
	"database/sql"
	"fmt"

	"dialysis-ledger/internal/domain"
)

const hdColumns = `
			id::text,
			patient_id::text,
			"timestamp",
			pre_weight,
			post_weight,
			uf,
			COALESCE(note, ''),
			created_at`

// PostgresHDExchangesRepository hd_exchanges on Postgres; uf = pre_weight - post_weight is generated.
type PostgresHDExchangesRepository struct {
	db *sql.DB
}

func NewPostgresHDExchangesRepository(db *sql.DB) *PostgresHDExchangesRepository {
	return &PostgresHDExchangesRepository{db: db}
}

var _ HDExchangesRepository = (*PostgresHDExchangesRepository)(nil)

func scanHDExchange(row rowScanner) (*domain.HDExchange, error) {
	var (
		e  domain.HDExchange
		uf sql.NullFloat64
	)
	if err := row.Scan(&e.ID, &e.PatientID, &e.Timestamp, &e.PreWeight, &e.PostWeight, &uf, &e.Note, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.UF = nullFloat(uf)
	return &e, nil
}

func (r *PostgresHDExchangesRepository) ListHDExchanges(ctx context.Context, patientID string, opts ListOptions) ([]domain.HDExchange, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query, args := listWhere(`SELECT`+hdColumns+`
		FROM hd_exchanges
		WHERE patient_id = $1::uuid`, []any{patientID}, opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list hd exchanges: %w", err)
	}
	defer rows.Close()

	out := []domain.HDExchange{}
	for rows.Next() {
		e, err := scanHDExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hd exchange: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hd exchanges: %w", err)
	}
	return out, nil
}

func (r *PostgresHDExchangesRepository) InsertHDExchange(ctx context.Context, e *domain.HDExchange) (*domain.HDExchange, error) {
	if e == nil || e.PatientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		INSERT INTO hd_exchanges (patient_id, "timestamp", pre_weight, post_weight, note)
		VALUES ($1::uuid, $2, $3, $4, NULLIF($5, ''))
		RETURNING` + hdColumns

	stored, err := scanHDExchange(r.db.QueryRowContext(ctx, query,
		e.PatientID, e.Timestamp, e.PreWeight, e.PostWeight, e.Note,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert hd exchange: %w", err)
	}
	return stored, nil
}

func (r *PostgresHDExchangesRepository) DeleteHDExchange(ctx context.Context, patientID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM hd_exchanges WHERE id = $1::uuid AND patient_id = $2::uuid`,
		id, patientID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete hd exchange: %w", err)
	}
	return requireAffected(res)
}

// PostgresExchangeStore both record kinds on one database.
type PostgresExchangeStore struct {
	*PostgresPDExchangesRepository
	*PostgresHDExchangesRepository
}

func NewPostgresExchangeStore(db *sql.DB) *PostgresExchangeStore {
	return &PostgresExchangeStore{
		PostgresPDExchangesRepository: NewPostgresPDExchangesRepository(db),
		PostgresHDExchangesRepository: NewPostgresHDExchangesRepository(db),
	}
}

var _ ExchangeStore = (*PostgresExchangeStore)(nil)
