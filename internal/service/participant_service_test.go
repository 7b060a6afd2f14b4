package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/models"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/storage"
)

type participantStoreStub struct {
	participants map[string]*models.Participant
	listFilter   models.ParticipantFilter
	listTotal    int
	wiped        int64
	deleteErr    error
}

func (s *participantStoreStub) FindByID(ctx context.Context, id string) (*models.Participant, error) {
	p, ok := s.participants[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return p, nil
}

func (s *participantStoreStub) List(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, int, error) {
	s.listFilter = filter
	items := make([]models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		items = append(items, *p)
	}
	return items, s.listTotal, nil
}

func (s *participantStoreStub) Provinces(ctx context.Context) ([]models.ProvinceCount, error) {
	return []models.ProvinceCount{{Province: "Salta", Count: 2}}, nil
}

func (s *participantStoreStub) SoftDelete(ctx context.Context, id, reason string, deletedBy *string, now time.Time) (*models.Participant, error) {
	if s.deleteErr != nil {
		return nil, s.deleteErr
	}
	p, ok := s.participants[id]
	if !ok || p.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	p.ReleasedTicketNumber, p.TicketNumber = p.TicketNumber, nil
	p.DeletedAt = &now
	p.DeletionReason = &reason
	p.DeletedBy = deletedBy
	return p, nil
}

func (s *participantStoreStub) WipeAll(ctx context.Context) (int64, error) {
	s.wiped = int64(len(s.participants))
	s.participants = map[string]*models.Participant{}
	return s.wiped, nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newParticipantFixture(t *testing.T) (*ParticipantService, *participantStoreStub, *auditStub, *storage.LocalStorage, *cacheRepoStub) {
	t.Helper()
	images, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ticket := "0007"
	path := "2024/05/01/ticket-1.jpg"
	_, err = images.SaveStream(path, strings.NewReader("jpeg"), 0)
	require.NoError(t, err)

	store := &participantStoreStub{
		participants: map[string]*models.Participant{
			"p-1": {ID: "p-1", TicketNumber: &ticket, Name: "Ana", TicketImagePath: &path},
		},
		listTotal: 101,
	}
	audit := &auditStub{}
	cacheRepo := &cacheRepoStub{}
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	signer := storage.NewTokenSigner("image", "image-secret", time.Minute)
	svc := NewParticipantService(store, audit, images, signer, cache, nil, ParticipantConfig{PublicBaseURL: "https://sorteo.example/"}, zap.NewNop())
	return svc, store, audit, images, cacheRepo
}

func TestParticipantServiceListBuildsPagination(t *testing.T) {
	svc, store, _, _, _ := newParticipantFixture(t)

	items, pagination, err := svc.List(context.Background(), models.ParticipantFilter{Province: "Salta", Page: 3, PageSize: 20})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, "Salta", store.listFilter.Province)
	assert.Equal(t, &models.Pagination{Page: 3, PageSize: 20, TotalCount: 101, TotalPages: 6}, pagination)

	_, pagination, err = svc.List(context.Background(), models.ParticipantFilter{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 200, pagination.PageSize)
}

func TestParticipantServiceGetSignsImageURL(t *testing.T) {
	svc, _, _, _, _ := newParticipantFixture(t)

	detail, err := svc.Get(context.Background(), "p-1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(detail.ImageURL, "https://sorteo.example/admin/images/"))
	require.NotNil(t, detail.ImageExpiresAt)

	token := strings.TrimPrefix(detail.ImageURL, "https://sorteo.example/admin/images/")
	file, contentType, err := svc.OpenImage(token)
	require.NoError(t, err)
	defer file.Close()
	body, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(body))
	assert.Equal(t, "image/jpeg", contentType)

	_, _, err = svc.OpenImage(token + "x")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestParticipantServiceDeleteReleasesNumber(t *testing.T) {
	svc, _, audit, _, cacheRepo := newParticipantFixture(t)
	actor := dto.ActorInfo{UserID: "admin-1", IP: "10.0.0.1"}

	resp, err := svc.Delete(context.Background(), "p-1", dto.DeleteParticipantRequest{Reason: "  duplicate entry "}, actor)
	require.NoError(t, err)
	assert.Equal(t, "0007", *resp.ReleasedTicketNumber)
	assert.False(t, resp.DeletedAt.IsZero())

	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionParticipantDelete, audit.logs[0].Action)
	assert.Equal(t, "admin-1", *audit.logs[0].UserID)
	assert.Contains(t, string(audit.logs[0].NewValues), "duplicate entry")
	assert.Equal(t, []string{dashboardCachePattern}, cacheRepo.invalidated)

	_, err = svc.Delete(context.Background(), "p-1", dto.DeleteParticipantRequest{Reason: "again"}, actor)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestParticipantServiceDeleteRequiresReason(t *testing.T) {
	svc, _, audit, _, _ := newParticipantFixture(t)

	_, err := svc.Delete(context.Background(), "p-1", dto.DeleteParticipantRequest{Reason: "  "}, dto.ActorInfo{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, audit.logs)
}

func TestParticipantServiceWipeAllNeedsConfirmation(t *testing.T) {
	svc, store, audit, _, _ := newParticipantFixture(t)

	_, err := svc.WipeAll(context.Background(), dto.WipeParticipantsRequest{Confirm: "delete all"}, dto.ActorInfo{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Len(t, store.participants, 1)

	resp, err := svc.WipeAll(context.Background(), dto.WipeParticipantsRequest{Confirm: dto.ConfirmWipeAll}, dto.ActorInfo{UserID: "root"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Deleted)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionParticipantWipe, audit.logs[0].Action)
}
