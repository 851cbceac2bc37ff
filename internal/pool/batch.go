package pool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/classifier"
)

// Classifier decides kind and route for one file.
type Classifier interface {
	Classify(path string) (classifier.Job, error)
}

// PrepareOptions controls how a folder becomes tasks.
type PrepareOptions struct {
	// OutputDirName is created under the input folder.
	OutputDirName string
	// MaxFileSize in bytes; remote-route files above it are skipped. 0 disables the limit.
	MaxFileSize int64
}

// Prepare collects the supported files under folder, classifies them and
// assigns each a distinct output directory. It returns the tasks and the
// output root.
func Prepare(folder string, cls Classifier, opts PrepareOptions) ([]Task, string, error) {
	st, err := os.Stat(folder)
	if err != nil {
		return nil, "", fmt.Errorf("input folder: %w", err)
	}
	if !st.IsDir() {
		return nil, "", fmt.Errorf("input folder: %s is not a directory", folder)
	}
	if opts.OutputDirName == "" {
		opts.OutputDirName = classifier.OutputDirName
	}
	outRoot := filepath.Join(folder, opts.OutputDirName)

	paths, err := classifier.CollectFiles(folder)
	if err != nil {
		return nil, outRoot, fmt.Errorf("collect files: %w", err)
	}

	used := map[string]bool{}
	tasks := make([]Task, 0, len(paths))
	for _, p := range paths {
		t := Task{Job: classifier.Job{Path: p, Name: filepath.Base(p), Ext: filepath.Ext(p)}}
		info, err := os.Stat(p)
		switch {
		case err != nil:
			t.Skip = err.Error()
		case info.Size() == 0:
			t.Skip = "empty file"
		}
		if t.Skip == "" {
			job, err := cls.Classify(p)
			switch {
			case errors.Is(err, classifier.ErrUnsupported):
				t.Skip = "unsupported format"
			case err != nil:
				t.Skip = err.Error()
			default:
				t.Job = job
				if job.Route == classifier.RouteRemote && opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
					t.Skip = fmt.Sprintf("file too large: %.1f MB exceeds %.1f MB limit", mb(info.Size()), mb(opts.MaxFileSize))
				}
			}
		}
		if t.Skip != "" {
			log.Warn().Str("file", t.Job.Name).Str("reason", t.Skip).Msg("file skipped")
		} else {
			t.OutDir = filepath.Join(outRoot, uniqueName(used, t.Job.DocName()))
		}
		tasks = append(tasks, t)
	}
	return tasks, outRoot, nil
}

func uniqueName(used map[string]bool, name string) string {
	if name == "" {
		name = "document"
	}
	candidate := name
	for i := 2; used[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
	used[candidate] = true
	return candidate
}

func mb(n int64) float64 { return float64(n) / (1 << 20) }
