package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"dialysis-ledger/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pdCols = []string{
	"id", "patient_id", "timestamp", "baxter_strength", "fill_volume", "drain_volume",
	"uf", "weight", "notes", "image_url", "created_at",
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPostgresPD_InsertReturnsStoredUF(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresPDExchangesRepository(db)

	patientID := "11111111-1111-1111-1111-111111111111"
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	created := time.Date(2024, 5, 1, 2, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO pd_exchanges`).
		WithArgs(patientID, "2024-05-01T08:00:00", "1.5%", 1800.0, 2000.0, nil, "", "").
		WillReturnRows(sqlmock.NewRows(pdCols).AddRow(
			"ex-1", patientID, ts, "1.5%", 1800.0, 2000.0, 200.0, nil, "", "", created,
		))

	stored, err := repo.InsertPDExchange(context.Background(), &domain.PDExchange{
		PatientID:      patientID,
		Timestamp:      domain.MustParseCivil("2024-05-01T08:00"),
		BaxterStrength: domain.Strength1_5,
		FillVolume:     1800,
		DrainVolume:    domain.Float64(2000),
	})

	require.NoError(t, err)
	assert.Equal(t, "ex-1", stored.ID)
	require.NotNil(t, stored.UF)
	assert.Equal(t, 200.0, *stored.UF)
	assert.Nil(t, stored.Weight)
	assert.Equal(t, "2024-05-01T08:00:00", stored.Timestamp.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPD_ListWithBounds(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresPDExchangesRepository(db)

	patientID := "11111111-1111-1111-1111-111111111111"
	from := domain.MustParseCivil("2024-05-01")
	ts := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT(.|\n)*FROM pd_exchanges(.|\n)*"timestamp" >= \$2(.|\n)*ORDER BY "timestamp" ASC`).
		WithArgs(patientID, "2024-05-01T00:00:00").
		WillReturnRows(sqlmock.NewRows(pdCols).AddRow(
			"ex-1", patientID, ts, "2.5%", 2000.0, nil, nil, 61.5, "late", "", ts,
		))

	out, err := repo.ListPDExchanges(context.Background(), patientID, ListOptions{From: &from, Ascending: true})

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].DrainVolume)
	assert.Nil(t, out[0].UF)
	require.NotNil(t, out[0].Weight)
	assert.Equal(t, 61.5, *out[0].Weight)
	assert.Equal(t, domain.Strength2_5, out[0].BaxterStrength)
	assert.Equal(t, "23:59", out[0].Timestamp.Clock())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPD_UpdateNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresPDExchangesRepository(db)

	mock.ExpectQuery(`UPDATE pd_exchanges`).
		WithArgs("ex-9", "p-1", 2000.0, 2100.0, nil, "1.5%", "").
		WillReturnRows(sqlmock.NewRows(pdCols))

	_, err := repo.UpdatePDExchange(context.Background(), "p-1", "ex-9", domain.PDEdit{
		FillVolume:     2000,
		DrainVolume:    domain.Float64(2100),
		BaxterStrength: domain.Strength1_5,
	})

	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPD_Delete(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresPDExchangesRepository(db)

	mock.ExpectExec(`DELETE FROM pd_exchanges`).
		WithArgs("ex-1", "p-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM pd_exchanges`).
		WithArgs("ex-1", "p-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.DeletePDExchange(context.Background(), "p-1", "ex-1"))
	assert.ErrorIs(t, repo.DeletePDExchange(context.Background(), "p-1", "ex-1"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHD_Insert(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresHDExchangesRepository(db)

	ts := time.Date(2024, 5, 2, 9, 15, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO hd_exchanges`).
		WithArgs("p-1", "2024-05-02T09:15:00", 72.4, 70.1, "").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "patient_id", "timestamp", "pre_weight", "post_weight", "uf", "note", "created_at",
		}).AddRow("hd-1", "p-1", ts, 72.4, 70.1, 2.3, "", ts))

	stored, err := repo.InsertHDExchange(context.Background(), &domain.HDExchange{
		PatientID:  "p-1",
		Timestamp:  domain.MustParseCivil("2024-05-02 09:15:00"),
		PreWeight:  72.4,
		PostWeight: 70.1,
	})

	require.NoError(t, err)
	require.NotNil(t, stored.UF)
	assert.InDelta(t, 2.3, *stored.UF, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

var patientCols = []string{"patient_id", "auth_id", "username", "dialysis_type", "created_at"}

func TestPostgresIdentity_CreateAccountDuplicateEmail(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresIdentityRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("a@example.com", []byte("hash")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, _, err := repo.CreateAccount(context.Background(), "A@example.com", []byte("hash"), &domain.Patient{DialysisType: domain.DialysisPD})
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIdentity_CreateAccountRollsBackUserWhenPatientFails(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresIdentityRepository(db)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	profile := &domain.Patient{Username: "Asha Rao", DialysisType: domain.DialysisPD}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("asha@example.com", []byte("hash")).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "email", "password_hash", "created_at"}).
			AddRow("u-1", "asha@example.com", []byte("hash"), created))
	mock.ExpectQuery(`INSERT INTO patients`).
		WithArgs("u-1", "Asha Rao", "PD").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, _, err := repo.CreateAccount(ctx, "asha@example.com", []byte("hash"), profile)
	require.Error(t, err)

	// the rolled-back email is free again
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("asha@example.com", []byte("hash")).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "email", "password_hash", "created_at"}).
			AddRow("u-2", "asha@example.com", []byte("hash"), created))
	mock.ExpectQuery(`INSERT INTO patients`).
		WithArgs("u-2", "Asha Rao", "PD").
		WillReturnRows(sqlmock.NewRows(patientCols).AddRow("p-2", "u-2", "Asha Rao", "PD", created))
	mock.ExpectCommit()

	u, p, err := repo.CreateAccount(ctx, "asha@example.com", []byte("hash"), profile)
	require.NoError(t, err)
	assert.Equal(t, "u-2", u.UserID)
	assert.Equal(t, "p-2", p.PatientID)
	assert.Equal(t, "u-2", p.AuthID)
	assert.Empty(t, profile.AuthID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIdentity_GetPatientByAuthIDAbsent(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostgresIdentityRepository(db)

	mock.ExpectQuery(`SELECT(.|\n)*FROM patients(.|\n)*auth_id = \$1::uuid`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(patientCols))

	p, err := repo.GetPatientByAuthID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Nil(t, p)
	require.NoError(t, mock.ExpectationsWereMet())
}
