package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sorteo-api/internal/dto"
	"github.com/noah-isme/sorteo-api/internal/models"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/export"
)

// Supported export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

var participantExportHeaders = []string{"Ticket", "Name", "Last name", "National ID", "Phone", "Province", "Validated", "Confidence", "Registered at"}

var participantExportWidths = []float64{1, 2, 2, 1.5, 1.5, 1.5, 1, 1, 2}

type participantExportSource interface {
	ListForExport(ctx context.Context, filter models.ParticipantFilter) ([]models.Participant, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportService renders participant listings as downloadable files.
type ExportService struct {
	source participantExportSource
	csv    csvRenderer
	pdf    pdfRenderer
	audit  auditRecorder
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(source participantExportSource, audit auditRecorder, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter(true)
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{source: source, csv: csv, pdf: pdf, audit: audit, logger: logger, now: time.Now}
}

// ExportParticipants renders the participants matching filter in the requested format.
func (s *ExportService) ExportParticipants(ctx context.Context, format string, filter models.ParticipantFilter, actor dto.ActorInfo) (*dto.ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	participants, err := s.source.ListForExport(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participants")
	}
	dataset := participantDataset(participants)

	stamp := s.now().UTC().Format("20060102-150405")
	result := &dto.ExportResult{Filename: fmt.Sprintf("participants-%s.%s", stamp, format)}
	switch format {
	case ExportFormatPDF:
		result.ContentType = "application/pdf"
		result.Content, err = s.pdf.Render(dataset, "Raffle participants")
	default:
		result.ContentType = "text/csv; charset=utf-8"
		result.Content, err = s.csv.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	if s.audit != nil {
		var userID *string
		if actor.UserID != "" {
			userID = &actor.UserID
		}
		values := []byte(fmt.Sprintf(`{"format":%q,"rows":%d}`, format, len(participants)))
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:    userID,
			Action:    models.AuditActionParticipantExport,
			Resource:  "participants",
			NewValues: values,
			IPAddress: actor.IP,
			UserAgent: actor.UserAgent,
		}); err != nil {
			s.logger.Warn("failed to record export audit log", zap.Error(err))
		}
	}
	return result, nil
}

func participantDataset(participants []models.Participant) export.Dataset {
	rows := make([]map[string]string, 0, len(participants))
	for _, p := range participants {
		confidence := ""
		if p.Confidence != nil {
			confidence = strconv.FormatFloat(*p.Confidence, 'f', 2, 64)
		}
		validated := "no"
		if p.TicketValidated {
			validated = "yes"
		}
		ticket := derefString(p.TicketNumber)
		if ticket == "" && p.ReleasedTicketNumber != nil {
			ticket = "(" + *p.ReleasedTicketNumber + ")"
		}
		rows = append(rows, map[string]string{
			"Ticket":        ticket,
			"Name":          p.Name,
			"Last name":     p.LastName,
			"National ID":   p.NationalID,
			"Phone":         p.Phone,
			"Province":      p.Province,
			"Validated":     validated,
			"Confidence":    confidence,
			"Registered at": p.CreatedAt.UTC().Format("2006-01-02 15:04"),
		})
	}
	return export.Dataset{Headers: participantExportHeaders, Rows: rows, Widths: participantExportWidths}
}
