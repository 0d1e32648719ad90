package extmatch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"playlog/internal/logging"
)

// Download fetches the reference dataset archive and unpacks its CSV payload
// to destPath. The archive is downloaded to a temp file next to the
// destination so a partial transfer never clobbers an existing dataset.
func Download(ctx context.Context, url, destPath string, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "extmatch")

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dataset directory: %w", err)
	}

	archivePath := destPath + ".zip.partial"
	defer os.Remove(archivePath)

	client := resty.New().SetTimeout(10 * time.Minute)
	logger.Info("downloading reference dataset", logging.String("url", url))
	resp, err := client.R().
		SetContext(ctx).
		SetOutput(archivePath).
		Get(url)
	if err != nil {
		return fmt.Errorf("download dataset archive: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("download dataset archive: server returned %s", resp.Status())
	}

	if err := unpackCSV(archivePath, destPath); err != nil {
		return err
	}
	logger.Info("reference dataset ready", logging.String("path", destPath))
	return nil
}

func unpackCSV(archivePath, destPath string) error {
	archive, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open dataset archive: %w", err)
	}
	defer archive.Close()

	for _, entry := range archive.File {
		if !strings.EqualFold(filepath.Ext(entry.Name), ".csv") {
			continue
		}
		reader, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open archive entry %q: %w", entry.Name, err)
		}
		defer reader.Close()

		tmpPath := destPath + ".tmp"
		out, err := os.Create(tmpPath)
		if err != nil {
			return fmt.Errorf("create dataset file: %w", err)
		}
		if _, err := io.Copy(out, reader); err != nil {
			out.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("extract dataset: %w", err)
		}
		if err := out.Close(); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("close dataset file: %w", err)
		}
		if err := os.Rename(tmpPath, destPath); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("rename dataset file: %w", err)
		}
		return nil
	}
	return fmt.Errorf("dataset archive %q contains no csv entry", archivePath)
}
