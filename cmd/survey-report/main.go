package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joseph-ayodele/fieldsurvey/internal/common"
	"github.com/joseph-ayodele/fieldsurvey/internal/export"
	repo "github.com/joseph-ayodele/fieldsurvey/internal/repository"
	"github.com/joseph-ayodele/fieldsurvey/internal/utils"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func parseDate(flagName, v string) *time.Time {
	if v == "" {
		return nil
	}
	parsed, err := utils.ParseYMD(v)
	if err != nil {
		printError("Error: invalid --%s date format, use YYYY-MM-DD: %v\n", flagName, err)
		os.Exit(1)
	}
	return &parsed
}

func main() {
	var (
		out     = flag.String("out", "survey.xlsx", "output XLSX file path")
		dsn     = flag.String("db", "", "job store DSN (defaults to DB_URL or the data directory database)")
		fromStr = flag.String("from", "", "from date YYYY-MM-DD")
		toStr   = flag.String("to", "", "to date YYYY-MM-DD")
	)
	flag.Parse()

	from := parseDate("from", *fromStr)
	to := parseDate("to", *toStr)
	if from != nil && to != nil && to.Before(*from) {
		printError("Error: --to is before --from\n")
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	db, err := repo.Open(ctx, repo.ConfigFrom(cfg.Database), logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repo.Close(db, logger)

	exportService := export.NewService(repo.NewJobRepository(db, logger), logger)
	xlsxBytes, err := exportService.ExportJobsXLSX(ctx, from, to)
	if err != nil {
		logger.Error("failed to export jobs", "error", err)
		repo.Close(db, logger)
		os.Exit(1)
	}

	if err := os.WriteFile(*out, xlsxBytes, 0o644); err != nil {
		logger.Error("failed to write output file", "error", err)
		repo.Close(db, logger)
		os.Exit(1)
	}
	fmt.Printf("Survey report written to %s\n", *out)
}
