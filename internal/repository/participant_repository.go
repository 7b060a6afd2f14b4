package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sorteo-api/internal/models"
)

// ticketAllocationLockKey serializes ticket number allocation and release across instances.
const ticketAllocationLockKey int64 = 0x50_4f_52_54_45_4f

const (
	uniqueViolation        = "23505"
	ticketNumberConstraint = "uq_participants_ticket_number"
	exportLimit            = 10000
)

var (
	// ErrTicketNumberTaken means the allocated number collided with an existing participant.
	ErrTicketNumberTaken = errors.New("ticket number already assigned")
	// ErrApprovalUnavailable means the validation was not approved, already consumed or expired
	// at the moment the registration tried to consume it.
	ErrApprovalUnavailable = errors.New("approval unavailable")
)

const participantColumns = `id, ticket_number, name, last_name, national_id, phone, province, ticket_validated,
       validation_reason, confidence, validation_id, ticket_image_path, deleted_at, deletion_reason, deleted_by,
       released_ticket_number, created_at, updated_at`

// ParticipantRepository manages raffle participants and their ticket numbers.
type ParticipantRepository struct {
	db *sqlx.DB
}

// NewParticipantRepository constructs a ParticipantRepository.
func NewParticipantRepository(db *sqlx.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// FormatTicketNumber zero-pads n to width digits. Numbers wider than width are kept intact.
func FormatTicketNumber(n int64, width int) string {
	if width <= 0 {
		width = 4
	}
	return fmt.Sprintf("%0*d", width, n)
}

// RegisterApproved consumes an approved validation, allocates the next ticket number and inserts the
// participant in one transaction. Allocation runs under a transaction-scoped advisory lock and the
// partial unique index on ticket_number backs it up.
func (r *ParticipantRepository) RegisterApproved(ctx context.Context, params models.RegisterApprovedParams, now time.Time) (participant *models.Participant, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin registration transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var approval struct {
		ID         string   `db:"id"`
		ImagePath  string   `db:"image_path"`
		Reason     *string  `db:"reason"`
		Confidence *float64 `db:"confidence"`
	}
	const consumeQuery = `UPDATE ticket_validations SET consumed_at = $2, updated_at = $2
	WHERE correlation_id = $1 AND status = 'approved' AND consumed_at IS NULL AND expires_at > $2
	RETURNING id, image_path, reason, confidence`
	if err = tx.GetContext(ctx, &approval, consumeQuery, params.CorrelationID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrApprovalUnavailable
			return nil, err
		}
		return nil, fmt.Errorf("consume approval: %w", err)
	}

	if err = lockAllocation(ctx, tx); err != nil {
		return nil, err
	}

	number, err := nextTicketNumber(ctx, tx, params.NumberWidth)
	if err != nil {
		return nil, err
	}

	participant = &models.Participant{
		ID:               uuid.NewString(),
		TicketNumber:     &number,
		Name:             params.Name,
		LastName:         params.LastName,
		NationalID:       params.NationalID,
		Phone:            params.Phone,
		Province:         params.Province,
		TicketValidated:  true,
		ValidationReason: approval.Reason,
		Confidence:       approval.Confidence,
		ValidationID:     &approval.ID,
		TicketImagePath:  &approval.ImagePath,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	const insertQuery = `INSERT INTO participants
	(id, ticket_number, name, last_name, national_id, phone, province, ticket_validated, validation_reason, confidence,
	 validation_id, ticket_image_path, created_at, updated_at)
	VALUES (:id, :ticket_number, :name, :last_name, :national_id, :phone, :province, :ticket_validated, :validation_reason,
	 :confidence, :validation_id, :ticket_image_path, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, participant); err != nil {
		err = classifyInsertError(err)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit registration: %w", err)
	}
	return participant, nil
}

func lockAllocation(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ticketAllocationLockKey); err != nil {
		return fmt.Errorf("lock ticket allocation: %w", err)
	}
	return nil
}

// nextTicketNumber pops the lowest released number, falling back to one past the highest active number.
// Ordering is numeric so widened numbers sort after narrower ones.
func nextTicketNumber(ctx context.Context, tx *sqlx.Tx, width int) (string, error) {
	const popReleased = `DELETE FROM released_tickets
	WHERE ticket_number = (
		SELECT ticket_number FROM released_tickets
		ORDER BY CAST(ticket_number AS BIGINT) ASC
		LIMIT 1
	)
	RETURNING ticket_number`
	var released string
	err := tx.GetContext(ctx, &released, popReleased)
	if err == nil {
		return released, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("pop released ticket: %w", err)
	}

	const maxActive = `SELECT COALESCE(MAX(CAST(ticket_number AS BIGINT)), 0)
	FROM participants WHERE ticket_number IS NOT NULL AND deleted_at IS NULL`
	var highest int64
	if err := tx.GetContext(ctx, &highest, maxActive); err != nil {
		return "", fmt.Errorf("read highest ticket: %w", err)
	}
	return FormatTicketNumber(highest+1, width), nil
}

func classifyInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		if pqErr.Constraint == ticketNumberConstraint {
			return fmt.Errorf("%w: %s", ErrTicketNumberTaken, pqErr.Detail)
		}
		return ErrApprovalUnavailable
	}
	return fmt.Errorf("create participant: %w", err)
}

// PeekNextTicketNumber previews the number the next registration would receive without reserving it.
func (r *ParticipantRepository) PeekNextTicketNumber(ctx context.Context, width int) (string, error) {
	const query = `SELECT COALESCE(
		(SELECT ticket_number FROM released_tickets ORDER BY CAST(ticket_number AS BIGINT) ASC LIMIT 1),
		''
	) AS released,
	COALESCE((SELECT MAX(CAST(ticket_number AS BIGINT)) FROM participants WHERE ticket_number IS NOT NULL AND deleted_at IS NULL), 0) AS highest`
	var row struct {
		Released string `db:"released"`
		Highest  int64  `db:"highest"`
	}
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		return "", fmt.Errorf("peek next ticket: %w", err)
	}
	if row.Released != "" {
		return row.Released, nil
	}
	return FormatTicketNumber(row.Highest+1, width), nil
}

// FindByID fetches a participant including soft deleted ones.
func (r *ParticipantRepository) FindByID(ctx context.Context, id string) (*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`
	var p models.Participant
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func buildParticipantFilter(filter models.ParticipantFilter) (string, []interface{}) {
	args := make([]interface{}, 0, 3)
	conditions := []string{"1=1"}

	if !filter.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	if filter.Province != "" {
		args = append(args, filter.Province)
		conditions = append(conditions, fmt.Sprintf("province = $%d", len(args)))
	}
	if filter.Validated != nil {
		args = append(args, *filter.Validated)
		conditions = append(conditions, fmt.Sprintf("ticket_validated = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(name) LIKE $%d OR LOWER(last_name) LIKE $%d OR national_id LIKE $%d OR phone LIKE $%d OR ticket_number LIKE $%d)",
			n, n, n, n, n))
	}
	return "FROM participants WHERE " + strings.Join(conditions, " AND "), args
}

func participantOrder(filter models.ParticipantFilter) string {
	allowedSorts := map[string]string{
		"created_at":    "created_at",
		"ticket_number": "CAST(ticket_number AS BIGINT)",
		"name":          "name",
		"last_name":     "last_name",
		"province":      "province",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s NULLS LAST, id", column, order)
}

// List returns participants matching the filter together with the total count.
func (r *ParticipantRepository) List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, int, error) {
	base, args := buildParticipantFilter(filter)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s%s LIMIT %d OFFSET %d", participantColumns, base, participantOrder(filter), size, offset)
	var participants []models.Participant
	if err := r.db.SelectContext(ctx, &participants, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list participants: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count participants: %w", err)
	}
	return participants, total, nil
}

// ListForExport returns every participant matching the filter, ordered by ticket number.
func (r *ParticipantRepository) ListForExport(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, error) {
	base, args := buildParticipantFilter(filter)
	filter.SortBy, filter.SortOrder = "ticket_number", "ASC"
	query := fmt.Sprintf("SELECT %s %s%s LIMIT %d", participantColumns, base, participantOrder(filter), exportLimit)
	var participants []models.Participant
	if err := r.db.SelectContext(ctx, &participants, query, args...); err != nil {
		return nil, fmt.Errorf("export participants: %w", err)
	}
	return participants, nil
}

// Provinces lists provinces with active participants.
func (r *ParticipantRepository) Provinces(ctx context.Context) ([]models.ProvinceCount, error) {
	const query = `SELECT province, COUNT(*) AS count FROM participants
	WHERE deleted_at IS NULL GROUP BY province ORDER BY province`
	var rows []models.ProvinceCount
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list provinces: %w", err)
	}
	return rows, nil
}

// SoftDelete marks a participant deleted and moves its ticket number to the free-list.
func (r *ParticipantRepository) SoftDelete(ctx context.Context, id, reason string, deletedBy *string, now time.Time) (participant *models.Participant, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockAllocation(ctx, tx); err != nil {
		return nil, err
	}

	query := `UPDATE participants
	SET released_ticket_number = ticket_number, ticket_number = NULL, deleted_at = $2, deletion_reason = $3,
	    deleted_by = $4, updated_at = $2
	WHERE id = $1 AND deleted_at IS NULL
	RETURNING ` + participantColumns
	var deleted models.Participant
	if err = tx.GetContext(ctx, &deleted, query, id, now, reason, deletedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("soft delete participant: %w", err)
	}

	if deleted.ReleasedTicketNumber != nil {
		const release = `INSERT INTO released_tickets (ticket_number, released_at) VALUES ($1, $2)
		ON CONFLICT (ticket_number) DO NOTHING`
		if _, err = tx.ExecContext(ctx, release, *deleted.ReleasedTicketNumber, now); err != nil {
			return nil, fmt.Errorf("release ticket number: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit participant delete: %w", err)
	}
	return &deleted, nil
}

// WipeAll hard deletes every participant and empties the free-list so numbering restarts at one.
func (r *ParticipantRepository) WipeAll(ctx context.Context) (deleted int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin wipe transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockAllocation(ctx, tx); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM participants`)
	if err != nil {
		return 0, fmt.Errorf("wipe participants: %w", err)
	}
	if deleted, err = res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("check wiped participants: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM released_tickets`); err != nil {
		return 0, fmt.Errorf("wipe released tickets: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit wipe: %w", err)
	}
	return deleted, nil
}

// Stats aggregates participant counters. dayStart bounds the "today" counter.
func (r *ParticipantRepository) Stats(ctx context.Context, dayStart time.Time) (*models.ParticipantStats, error) {
	const query = `SELECT
		COUNT(*) FILTER (WHERE deleted_at IS NULL) AS total_participants,
		COUNT(*) FILTER (WHERE deleted_at IS NULL AND ticket_validated) AS validated_tickets,
		(SELECT COUNT(*) FROM ticket_validations WHERE status = 'rejected') AS rejected_tickets,
		COUNT(DISTINCT province) FILTER (WHERE deleted_at IS NULL) AS unique_provinces,
		COUNT(*) FILTER (WHERE deleted_at IS NULL AND created_at >= $1) AS today_participants,
		COUNT(*) FILTER (WHERE deleted_at IS NOT NULL) AS deleted_entries,
		(SELECT COUNT(*) FROM released_tickets) AS released_numbers
	FROM participants`
	var stats models.ParticipantStats
	if err := r.db.GetContext(ctx, &stats, query, dayStart); err != nil {
		return nil, fmt.Errorf("participant stats: %w", err)
	}
	return &stats, nil
}

// DailyCounts returns active registrations per day since the given instant.
func (r *ParticipantRepository) DailyCounts(ctx context.Context, since time.Time) ([]models.DailyCount, error) {
	const query = `SELECT date_trunc('day', created_at) AS date, COUNT(*) AS count
	FROM participants
	WHERE deleted_at IS NULL AND created_at >= $1
	GROUP BY 1 ORDER BY 1`
	var rows []models.DailyCount
	if err := r.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, fmt.Errorf("daily participant counts: %w", err)
	}
	return rows, nil
}
