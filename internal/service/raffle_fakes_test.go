package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/models"
	"github.com/noah-isme/sorteo-api/internal/repository"
	"github.com/noah-isme/sorteo-api/pkg/jobs"
	"github.com/noah-isme/sorteo-api/pkg/storage"
)

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memoryRaffle mirrors the conditional writes of the Postgres repositories in memory.
type memoryRaffle struct {
	mu           sync.Mutex
	validations  map[string]*models.TicketValidation
	participants []*models.Participant
	released     []int64
	dispatches   map[string]int

	// collisions forces the next N allocations to report a taken ticket number.
	collisions int
}

func newMemoryRaffle() *memoryRaffle {
	return &memoryRaffle{
		validations: make(map[string]*models.TicketValidation),
		dispatches:  make(map[string]int),
	}
}

func (m *memoryRaffle) Create(ctx context.Context, v *models.TicketValidation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ExpiresAt.IsZero() {
		return fmt.Errorf("expires_at required")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CorrelationID == "" {
		v.CorrelationID = uuid.NewString()
	}
	v.Status = models.ValidationPending
	stored := *v
	m.validations[v.CorrelationID] = &stored
	return nil
}

func (m *memoryRaffle) FindByCorrelationID(ctx context.Context, correlationID string) (*models.TicketValidation, error) {
	if _, err := uuid.Parse(correlationID); err != nil {
		return nil, sql.ErrNoRows
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.validations[correlationID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *v
	return &copied, nil
}

func (m *memoryRaffle) ApplyResult(ctx context.Context, verdict models.ValidationVerdict, now time.Time) (models.ApplyOutcome, *models.TicketValidation, error) {
	if _, err := uuid.Parse(verdict.CorrelationID); err != nil {
		return models.ApplyNotFound, nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.validations[verdict.CorrelationID]
	if !ok {
		return models.ApplyNotFound, nil, nil
	}
	if v.CallbackReceived || v.Status != models.ValidationPending {
		copied := *v
		return models.ApplyAlreadyApplied, &copied, nil
	}
	if !v.ExpiresAt.After(now) {
		copied := *v
		return models.ApplyExpired, &copied, nil
	}
	v.Status = verdict.Status()
	v.Reason = verdict.Reason
	v.Confidence = verdict.Confidence
	v.CallbackReceived = true
	v.UpdatedAt = now
	copied := *v
	return models.ApplyApplied, &copied, nil
}

func (m *memoryRaffle) RecordDispatch(ctx context.Context, correlationID string, dispatchErr *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches[correlationID]++
	if v, ok := m.validations[correlationID]; ok {
		v.DispatchAttempts++
		v.LastDispatchError = dispatchErr
	}
	return nil
}

func (m *memoryRaffle) DeletePending(ctx context.Context, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.validations[correlationID]
	if !ok || v.Status != models.ValidationPending {
		return sql.ErrNoRows
	}
	delete(m.validations, correlationID)
	return nil
}

func (m *memoryRaffle) DeleteExpiredPending(ctx context.Context, now time.Time) ([]models.ExpiredValidation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted []models.ExpiredValidation
	for id, v := range m.validations {
		if v.Status == models.ValidationPending && v.ExpiresAt.Before(now) {
			deleted = append(deleted, models.ExpiredValidation{CorrelationID: id, ImagePath: v.ImagePath})
			delete(m.validations, id)
		}
	}
	return deleted, nil
}

func (m *memoryRaffle) RegisterApproved(ctx context.Context, params models.RegisterApprovedParams, now time.Time) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.validations[params.CorrelationID]
	if !ok || v.Status != models.ValidationApproved || v.ConsumedAt != nil || !v.ExpiresAt.After(now) {
		return nil, repository.ErrApprovalUnavailable
	}
	if m.collisions > 0 {
		m.collisions--
		return nil, fmt.Errorf("%w: forced", repository.ErrTicketNumberTaken)
	}

	var n int64
	if len(m.released) > 0 {
		n, m.released = m.released[0], m.released[1:]
	} else {
		for _, p := range m.participants {
			if p.TicketNumber == nil {
				continue
			}
			if current, _ := strconv.ParseInt(*p.TicketNumber, 10, 64); current > n {
				n = current
			}
		}
		n++
	}
	number := repository.FormatTicketNumber(n, params.NumberWidth)
	consumed := now
	v.ConsumedAt = &consumed
	p := &models.Participant{
		ID:              uuid.NewString(),
		TicketNumber:    &number,
		Name:            params.Name,
		LastName:        params.LastName,
		NationalID:      params.NationalID,
		Phone:           params.Phone,
		Province:        params.Province,
		TicketValidated: true,
		ValidationID:    &v.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.participants = append(m.participants, p)
	copied := *p
	return &copied, nil
}

func (m *memoryRaffle) SoftDelete(ctx context.Context, id, reason string, deletedBy *string, now time.Time) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.ID != id || p.DeletedAt != nil {
			continue
		}
		p.ReleasedTicketNumber, p.TicketNumber = p.TicketNumber, nil
		p.DeletedAt = &now
		p.DeletionReason = &reason
		p.DeletedBy = deletedBy
		if p.ReleasedTicketNumber != nil {
			n, _ := strconv.ParseInt(*p.ReleasedTicketNumber, 10, 64)
			m.released = append(m.released, n)
			sort.Slice(m.released, func(i, j int) bool { return m.released[i] < m.released[j] })
		}
		copied := *p
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memoryRaffle) participantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.participants)
}

type dispatcherFunc func(ctx context.Context, req DispatchRequest) (*DispatchResult, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	return f(ctx, req)
}

func acceptingDispatcher() dispatcherFunc {
	return func(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
		return &DispatchResult{StatusCode: 202}, nil
	}
}

type queueStub struct {
	mu     sync.Mutex
	jobs   []jobs.Job
	delays []time.Duration
}

func (q *queueStub) EnqueueAfter(job jobs.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	q.delays = append(q.delays, delay)
	return nil
}

type handoffFixture struct {
	clock        *fakeClock
	store        *memoryRaffle
	images       *storage.LocalStorage
	dir          string
	queue        *queueStub
	validation   *ValidationService
	registration *RegistrationService
}

func newHandoffFixture(t *testing.T, dispatcher validationDispatcher) *handoffFixture {
	t.Helper()
	dir := t.TempDir()
	images, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	clock := newFakeClock()
	store := newMemoryRaffle()
	approvals := storage.NewTokenSigner("approval", "approval-secret", time.Hour)

	gateway := NewValidationGateway(store, images, dispatcher, GatewayConfig{
		MaxFileSize: 1024,
		TTL:         30 * time.Minute,
		CallbackURL: "http://localhost:8080/webhook/validation-response",
	}, nil, zap.NewNop())
	gateway.now = clock.Now

	validation := NewValidationService(store, gateway, approvals, nil, ValidationServiceConfig{
		PollAfter:       2 * time.Second,
		RedispatchDelay: 10 * time.Second,
	}, nil, zap.NewNop())
	validation.now = clock.Now
	queue := &queueStub{}
	validation.UseQueue(queue)

	registration := NewRegistrationService(store, store, approvals, nil, 4, nil, nil, zap.NewNop())
	registration.now = clock.Now

	return &handoffFixture{
		clock:        clock,
		store:        store,
		images:       images,
		dir:          dir,
		queue:        queue,
		validation:   validation,
		registration: registration,
	}
}

func jpegUpload(name string) dto.ImageUpload {
	content := append(append([]byte{}, jpegHeader...), bytes.Repeat([]byte{0x42}, 64)...)
	return dto.ImageUpload{
		Filename:    name,
		ContentType: "image/jpeg",
		Size:        int64(len(content)),
		Content:     bytes.NewReader(content),
	}
}

// approve uploads a ticket, delivers a positive verdict and returns the approval token.
func (f *handoffFixture) approve(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()
	upload, err := f.validation.SubmitUpload(ctx, jpegUpload("ticket.jpg"))
	require.NoError(t, err)

	valid := true
	_, err = f.validation.ReceiveCallback(ctx, dto.ValidationCallback{CorrelationID: upload.CorrelationID, Valid: &valid})
	require.NoError(t, err)

	status, err := f.validation.PollStatus(ctx, upload.CorrelationID)
	require.NoError(t, err)
	require.NotEmpty(t, status.ApprovalToken)
	return upload.CorrelationID, status.ApprovalToken
}

func registerRequest(token, name string) dto.RegisterRequest {
	return dto.RegisterRequest{
		ApprovalToken: token,
		Name:          name,
		LastName:      "Gomez",
		NationalID:    "30111222",
		Phone:         "3815551234",
		Province:      "Tucuman",
	}
}
