package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sorteo-api/internal/models"
)

const testCorrelationID = "7d1f0c2e-5b8a-4c3e-9f61-2a4b8e0d9c13"

var validationRowColumns = []string{"id", "correlation_id", "image_path", "image_filename", "mime_type", "status",
	"validation_result", "reason", "confidence", "callback_received", "dispatch_attempts", "last_dispatch_error",
	"expires_at", "consumed_at", "created_at", "updated_at"}

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func validationRow(correlationID string, status models.ValidationStatus, callback bool, expiresAt time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(validationRowColumns).
		AddRow("val-1", correlationID, "2024/05/01/ticket-1.jpg", "ticket.jpg", "image/jpeg", string(status),
			nil, nil, nil, callback, 1, nil, expiresAt, nil, now, now)
}

func TestValidationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewValidationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ticket_validations")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	v := &models.TicketValidation{
		ImagePath:     "2024/05/01/ticket-1.jpg",
		ImageFilename: "ticket.jpg",
		MimeType:      "image/jpeg",
		ExpiresAt:     time.Now().Add(30 * time.Minute),
	}
	require.NoError(t, repo.Create(context.Background(), v))
	assert.NotEmpty(t, v.ID)
	assert.NotEmpty(t, v.CorrelationID)
	assert.Equal(t, models.ValidationPending, v.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidationRepositoryCreateRequiresExpiry(t *testing.T) {
	db, _, cleanup := newRepoMock(t)
	defer cleanup()

	err := NewValidationRepository(db).Create(context.Background(), &models.TicketValidation{})
	require.Error(t, err)
}

func TestValidationRepositoryApplyResultApplied(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewValidationRepository(db)
	now := time.Now().UTC()
	reason := "ticket legible"
	confidence := 0.93
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE ticket_validations")).
		WithArgs(testCorrelationID, models.ValidationApproved, &reason, &confidence, sqlmock.AnyArg(), now).
		WillReturnRows(validationRow(testCorrelationID, models.ValidationApproved, true, now.Add(time.Minute)))

	outcome, v, err := repo.ApplyResult(context.Background(), models.ValidationVerdict{
		CorrelationID: testCorrelationID,
		Valid:         true,
		Reason:        &reason,
		Confidence:    &confidence,
		Raw:           []byte(`{"valid":true}`),
	}, now)
	require.NoError(t, err)
	assert.Equal(t, models.ApplyApplied, outcome)
	assert.Equal(t, models.ValidationApproved, v.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidationRepositoryApplyResultClassifiesNoop(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name    string
		rows    *sqlmock.Rows
		outcome models.ApplyOutcome
	}{
		{"already applied", validationRow(testCorrelationID, models.ValidationApproved, true, now.Add(time.Minute)), models.ApplyAlreadyApplied},
		{"expired", validationRow(testCorrelationID, models.ValidationPending, false, now.Add(-time.Minute)), models.ApplyExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, cleanup := newRepoMock(t)
			defer cleanup()

			mock.ExpectQuery(regexp.QuoteMeta("UPDATE ticket_validations")).WillReturnError(sql.ErrNoRows)
			mock.ExpectQuery(regexp.QuoteMeta("FROM ticket_validations WHERE correlation_id = $1")).
				WithArgs(testCorrelationID).
				WillReturnRows(tc.rows)

			outcome, v, err := NewValidationRepository(db).ApplyResult(context.Background(),
				models.ValidationVerdict{CorrelationID: testCorrelationID, Valid: false}, now)
			require.NoError(t, err)
			assert.Equal(t, tc.outcome, outcome)
			require.NotNil(t, v)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestValidationRepositoryApplyResultNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE ticket_validations")).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM ticket_validations WHERE correlation_id = $1")).
		WillReturnError(sql.ErrNoRows)

	outcome, v, err := NewValidationRepository(db).ApplyResult(context.Background(),
		models.ValidationVerdict{CorrelationID: "0b6e4d52-9a1c-4f7e-8d23-5c9e1a7b3f40", Valid: true}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.ApplyNotFound, outcome)
	assert.Nil(t, v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidationRepositoryMalformedCorrelationIDIsNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewValidationRepository(db)

	for _, id := range []string{"abc", "", "7d1f0c2e-5b8a-4c3e-9f61"} {
		_, err := repo.FindByCorrelationID(context.Background(), id)
		assert.ErrorIs(t, err, sql.ErrNoRows, id)

		outcome, v, err := repo.ApplyResult(context.Background(), models.ValidationVerdict{CorrelationID: id, Valid: true}, time.Now())
		require.NoError(t, err, id)
		assert.Equal(t, models.ApplyNotFound, outcome, id)
		assert.Nil(t, v, id)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidationRepositoryDeleteExpiredPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM ticket_validations")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"correlation_id", "image_path"}).
			AddRow(testCorrelationID, "a.jpg").
			AddRow("corr-2", "b.png"))

	deleted, err := NewValidationRepository(db).DeleteExpiredPending(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, deleted, 2)
	assert.Equal(t, "b.png", deleted[1].ImagePath)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidationRepositoryDeletePendingMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM ticket_validations WHERE correlation_id = $1")).
		WithArgs("corr-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewValidationRepository(db).DeletePending(context.Background(), "corr-9")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestValidationRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 3).
			AddRow("rejected", 2))

	counts, err := NewValidationRepository(db).CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.ValidationPending])
	assert.Equal(t, 2, counts[models.ValidationRejected])
	assert.Zero(t, counts[models.ValidationApproved])
}
