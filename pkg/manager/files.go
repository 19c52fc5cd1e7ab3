package manager

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/campusgrid/campusgrid/pkg/types"
)

// SaveJobFiles persists a result's artifacts under <outputDir>/<jobID>/.
// Filenames come from untrusted worker code, so anything that could escape
// the job's directory is rejected. One bad file does not discard the rest.
func (m *Manager) SaveJobFiles(jobID string, files []types.OutputFile) int {
	if len(files) == 0 {
		return 0
	}

	jobDir := filepath.Join(m.cfg.OutputDir, jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to create output dir")
		return 0
	}

	saved := 0
	for _, f := range files {
		if err := validateFilename(f.Filename); err != nil {
			m.logger.Warn().Str("job_id", jobID).Str("filename", f.Filename).
				Err(err).Msg("rejected output file")
			continue
		}
		content, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			m.logger.Warn().Str("job_id", jobID).Str("filename", f.Filename).
				Err(err).Msg("failed to decode output file")
			continue
		}
		if err := os.WriteFile(filepath.Join(jobDir, f.Filename), content, 0644); err != nil {
			m.logger.Warn().Str("job_id", jobID).Str("filename", f.Filename).
				Err(err).Msg("failed to write output file")
			continue
		}
		saved++
	}

	if saved > 0 {
		m.logger.Info().Str("job_id", jobID).Int("files", saved).Msg("saved job artifacts")
	}
	return saved
}

func validateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("empty filename")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("filename %q escapes job directory", name)
	}
	return nil
}
