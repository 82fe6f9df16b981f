package utrunner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/ut-runner/runner"
)

const coverageFilePrefix = "utPLSQL_Coverage_Report_"

// FileCoverageHandler writes every coverage report to a fresh HTML file
type FileCoverageHandler struct {
	dir string
	log log.Logger
}

var _ runner.CoverageHandler = (*FileCoverageHandler)(nil)

func NewFileCoverageHandler(dir string, lgr log.Logger) *FileCoverageHandler {
	return &FileCoverageHandler{dir: dir, log: lgr}
}

func (h *FileCoverageHandler) HandleCoverage(ctx context.Context, runID string, report string) error {
	path, err := h.write(report)
	if err != nil {
		return err
	}
	h.log.Info("Coverage report written", "run", runID, "path", path)
	return nil
}

func (h *FileCoverageHandler) write(report string) (string, error) {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating coverage directory: %w", err)
	}
	path := filepath.Join(h.dir, coverageFilePrefix+uuid.New().String()+".html")
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("writing coverage report: %w", err)
	}
	return path, nil
}
