package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/fieldsurvey/internal/repository"
)

const sheet = "Survey"

// Service is a tiny façade over the job store that produces XLSX bytes for survey reports.
type Service struct {
	jobsRepo repository.JobRepository
	logger   *slog.Logger
}

func NewService(jobsRepo repository.JobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobsRepo: jobsRepo, logger: logger}
}

// ExportJobsXLSX returns an XLSX workbook (as bytes) of every job captured in
// the date window, newest first.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all jobs.
func (s *Service) ExportJobsXLSX(ctx context.Context, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	fromDate, toDate := window(from, to, time.Now())

	jobs, err := s.jobsRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headers := []string{
		"Job ID",
		"Captured At",
		"Latitude",
		"Longitude",
		"Altitude",
		"Caption",
		"Status",
		"Final Image",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, j := range jobs {
		if !inWindow(j.CapturedAt, fromDate, toDate) {
			continue
		}
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, j.ID)
		write(2, j.CapturedAt.UTC().Format("2006-01-02 15:04:05"))
		if j.HasLocation() {
			write(3, j.Latitude)
			write(4, j.Longitude)
			write(5, j.Altitude)
		} else {
			write(3, "")
			write(4, "")
			write(5, "")
		}
		write(6, truncate(j.Caption, 140))
		write(7, j.Status.String())
		write(8, j.FinalPath)
		write(9, j.ErrorDetail)

		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 8)  // id
	_ = f.SetColWidth(sheet, "B", "B", 20) // captured at
	_ = f.SetColWidth(sheet, "C", "E", 12) // location
	_ = f.SetColWidth(sheet, "F", "F", 48) // caption
	_ = f.SetColWidth(sheet, "G", "G", 12) // status
	_ = f.SetColWidth(sheet, "H", "H", 60) // final path
	_ = f.SetColWidth(sheet, "I", "I", 48) // error

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// window normalizes the bounds to UTC calendar dates.
func window(from, to *time.Time, now time.Time) (*time.Time, *time.Time) {
	var fromDate, toDate *time.Time
	if from != nil {
		f := dateOf(*from)
		fromDate = &f
	}
	if to != nil {
		t := dateOf(*to)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		t := dateOf(now)
		toDate = &t
	}
	return fromDate, toDate
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func inWindow(capturedAt time.Time, from, to *time.Time) bool {
	d := dateOf(capturedAt)
	if from != nil && d.Before(*from) {
		return false
	}
	if to != nil && d.After(*to) {
		return false
	}
	return true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
