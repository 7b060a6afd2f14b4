package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/models"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
)

const (
	dashboardCachePattern = "dashboard:*"
	dashboardPublicKey    = "dashboard:public"
)

type participantStatsRepository interface {
	Stats(ctx context.Context, dayStart time.Time) (*models.ParticipantStats, error)
	DailyCounts(ctx context.Context, since time.Time) ([]models.DailyCount, error)
	PeekNextTicketNumber(ctx context.Context, width int) (string, error)
}

type validationCounter interface {
	CountByStatus(ctx context.Context) (map[models.ValidationStatus]int, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL    time.Duration
	SeriesDays  int
	NumberWidth int
	Location    *time.Location
}

// DashboardService composes admin metrics and public counters.
type DashboardService struct {
	participants participantStatsRepository
	validations  validationCounter
	cache        *CacheService
	metrics      *MetricsService
	logger       *zap.Logger
	now          func() time.Time
	cfg          DashboardServiceConfig
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Participants participantStatsRepository
	Validations  validationCounter
	Cache        *CacheService
	Metrics      *MetricsService
	Logger       *zap.Logger
	Config       DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.SeriesDays <= 0 {
		cfg.SeriesDays = 7
	}
	if cfg.NumberWidth <= 0 {
		cfg.NumberWidth = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		participants: params.Participants,
		validations:  params.Validations,
		cache:        params.Cache,
		metrics:      params.Metrics,
		logger:       logger,
		now:          time.Now,
		cfg:          cfg,
	}
}

// Admin returns the admin metrics payload and whether it was served from cache.
func (s *DashboardService) Admin(ctx context.Context) (*dto.AdminMetricsResponse, bool, error) {
	now := s.now().In(s.cfg.Location)
	cacheKey := fmt.Sprintf("dashboard:admin:%s", now.Format("2006-01-02"))

	var cached dto.AdminMetricsResponse
	if s.cache.Get(ctx, cacheKey, &cached) {
		snapshot := s.metrics.Snapshot()
		cached.System = &snapshot
		return &cached, true, nil
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.cfg.Location)
	stats, err := s.participants.Stats(ctx, dayStart)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participant stats")
	}
	since := dayStart.AddDate(0, 0, -(s.cfg.SeriesDays - 1))
	daily, err := s.participants.DailyCounts(ctx, since)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load daily series")
	}
	validations, err := s.validations.CountByStatus(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count validations")
	}
	next, err := s.participants.PeekNextTicketNumber(ctx, s.cfg.NumberWidth)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to preview next ticket number")
	}

	summary := &dto.AdminMetricsResponse{
		Participants:     *stats,
		Validations:      validations,
		Daily:            fillDailySeries(daily, since, s.cfg.SeriesDays, s.cfg.Location),
		NextTicketNumber: next,
		GeneratedAt:      s.now().UTC(),
	}
	s.cache.Set(ctx, cacheKey, summary, s.cfg.CacheTTL)

	snapshot := s.metrics.Snapshot()
	summary.System = &snapshot
	return summary, false, nil
}

// Public returns the anonymous landing page counters.
func (s *DashboardService) Public(ctx context.Context) (*dto.PublicStatsResponse, error) {
	var cached dto.PublicStatsResponse
	if s.cache.Get(ctx, dashboardPublicKey, &cached) {
		return &cached, nil
	}

	now := s.now().In(s.cfg.Location)
	stats, err := s.participants.Stats(ctx, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.cfg.Location))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participant stats")
	}
	resp := &dto.PublicStatsResponse{
		TotalParticipants: stats.TotalParticipants,
		ValidatedTickets:  stats.ValidatedTickets,
		Provinces:         stats.UniqueProvinces,
	}
	s.cache.Set(ctx, dashboardPublicKey, resp, s.cfg.CacheTTL)
	return resp, nil
}

// fillDailySeries returns one point per day starting at since, with zero counts for silent days.
func fillDailySeries(rows []models.DailyCount, since time.Time, days int, loc *time.Location) []models.DailyCount {
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Date.In(loc).Format("2006-01-02")] += row.Count
	}
	series := make([]models.DailyCount, 0, days)
	for i := 0; i < days; i++ {
		day := since.AddDate(0, 0, i)
		series = append(series, models.DailyCount{Date: day, Count: counts[day.Format("2006-01-02")]})
	}
	return series
}
