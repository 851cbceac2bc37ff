package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNoLibreOffice is returned when no soffice binary is on PATH.
var ErrNoLibreOffice = errors.New("libreoffice not available")

// LibreOffice converts legacy binary office files to PDF so they can be
// page-counted and chunked before remote recognition.
type LibreOffice struct {
	binary    string
	timeout   time.Duration
	semaphore chan struct{}
}

// NewLibreOffice looks up soffice/libreoffice. A nil-binary converter reports
// ErrNoLibreOffice from ConvertToPDF.
func NewLibreOffice(maxWorkers int, timeout time.Duration) *LibreOffice {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	l := &LibreOffice{timeout: timeout, semaphore: make(chan struct{}, maxWorkers)}
	for _, name := range []string{"soffice", "libreoffice"} {
		if p, err := exec.LookPath(name); err == nil {
			l.binary = p
			break
		}
	}
	return l
}

// Available reports whether a converter binary was found.
func (l *LibreOffice) Available() bool { return l != nil && l.binary != "" }

// ConvertToPDF writes <outDir>/<name>.pdf and returns its path.
func (l *LibreOffice) ConvertToPDF(ctx context.Context, input, outDir string) (string, error) {
	if !l.Available() {
		return "", ErrNoLibreOffice
	}
	if err := validateInput(input); err != nil {
		return "", fmt.Errorf("input validation failed: %w", err)
	}

	select {
	case l.semaphore <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-l.semaphore }()

	start := time.Now()
	profileDir := filepath.Join(os.TempDir(), "libreoffice_profile_"+uuid.NewString())
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}
	defer os.RemoveAll(profileDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, l.binary,
		"-env:UserInstallation=file://"+filepath.ToSlash(profileDir),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		input,
	)
	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("libreoffice command")
	output, err := cmd.CombinedOutput()
	if cctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("conversion timeout after %v", l.timeout)
	}
	if err != nil {
		lower := strings.ToLower(string(output))
		if strings.Contains(lower, "password") || strings.Contains(lower, "encrypted") {
			return "", fmt.Errorf("document is password protected")
		}
		return "", fmt.Errorf("conversion failed: %w", err)
	}

	base := filepath.Base(input)
	pdfPath := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("output file not created: %w", err)
	}
	log.Info().Str("input", base).Dur("duration", time.Since(start)).Msg("legacy document converted to pdf")
	return pdfPath, nil
}

func validateInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}
	return nil
}
