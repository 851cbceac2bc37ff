package reviewtools

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/htmlout"
)

// Directory layout under a workspace base directory.
const (
	ConvertedDir = "Converted_HTML"
	ReviewedDir  = "Final_Reviewed"
	ArchiveDir   = "Archive"
	StatsFile    = "review_stats.json"

	maxStoredReviews = 100
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrInvalidName = errors.New("invalid document name")
	ErrNoConverted = errors.New("directory has no " + ConvertedDir + " folder")
)

// Document describes one file in the workspace.
type Document struct {
	Name     string    `json:"filename"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Listing is the result of ListDocuments.
type Listing struct {
	Pending  []Document `json:"pending,omitempty"`
	Reviewed []Document `json:"reviewed,omitempty"`
	Count    int        `json:"count"`
}

// Workspace exposes the reviewer operations over one output directory.
type Workspace struct {
	mu      sync.RWMutex
	base    string
	prompts PatternPrompter
	now     func() time.Time
}

// New opens a workspace rooted at base, creating the reviewed folder.
func New(base string, prompts PatternPrompter) (*Workspace, error) {
	w := &Workspace{base: base, prompts: prompts, now: time.Now}
	if err := os.MkdirAll(filepath.Join(base, ConvertedDir), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(base, ReviewedDir), 0o755); err != nil {
		return nil, err
	}
	return w, nil
}

// Base returns the current base directory.
func (w *Workspace) Base() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.base
}

// SetWorkingDirectory switches to another base that already holds converted output.
func (w *Workspace) SetWorkingDirectory(path string) (map[string]string, error) {
	st, err := os.Stat(path)
	if err != nil || !st.IsDir() {
		return nil, fmt.Errorf("path does not exist: %s", path)
	}
	if st, err := os.Stat(filepath.Join(path, ConvertedDir)); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoConverted, path)
	}
	if err := os.MkdirAll(filepath.Join(path, ReviewedDir), 0o755); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.base = path
	w.mu.Unlock()
	log.Info().Str("base_dir", path).Msg("review working directory changed")
	return map[string]string{
		"base_dir":   path,
		"input_dir":  filepath.Join(path, ConvertedDir),
		"review_dir": filepath.Join(path, ReviewedDir),
	}, nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// DocumentDir returns the converted output folder of a pending document.
func (w *Workspace) DocumentDir(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	dir := filepath.Join(w.Base(), ConvertedDir, name)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return dir, nil
}

// ListDocuments lists pending (converted, not yet reviewed) documents,
// reviewed documents, or both for status "all".
func (w *Workspace) ListDocuments(status string) (Listing, error) {
	base := w.Base()
	var l Listing
	var err error
	if status == "pending" || status == "all" || status == "" {
		if l.Pending, err = pendingDocs(filepath.Join(base, ConvertedDir)); err != nil {
			return Listing{}, err
		}
	}
	if status == "reviewed" || status == "all" {
		if l.Reviewed, err = reviewedDocs(filepath.Join(base, ReviewedDir)); err != nil {
			return Listing{}, err
		}
	}
	if status != "" && status != "pending" && status != "reviewed" && status != "all" {
		return Listing{}, fmt.Errorf("unknown status %q", status)
	}
	l.Count = len(l.Pending) + len(l.Reviewed)
	return l, nil
}

func pendingDocs(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := os.Stat(filepath.Join(dir, e.Name(), htmlout.ViewFile))
		if err != nil {
			continue
		}
		out = append(out, Document{Name: e.Name(), Size: st.Size(), Modified: st.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func reviewedDocs(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".html" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Document{Name: strings.TrimSuffix(e.Name(), ".html"), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReadDocument returns the pending view.html, or the reviewed copy when the
// document has already been reviewed.
func (w *Workspace) ReadDocument(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	base := w.Base()
	for _, p := range []string{
		filepath.Join(base, ConvertedDir, name, htmlout.ViewFile),
		filepath.Join(base, ReviewedDir, name+".html"),
	} {
		b, err := os.ReadFile(p)
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// SaveResult reports where a reviewed document went.
type SaveResult struct {
	SavedTo    string `json:"saved_to"`
	BackupPath string `json:"backup_path,omitempty"`
	ArchivedTo string `json:"archived_to,omitempty"`
}

// SaveReviewedDocument writes the reviewed HTML, backing up any previous
// version, and archives the converted folder.
func (w *Workspace) SaveReviewedDocument(name, content string) (SaveResult, error) {
	if err := checkName(name); err != nil {
		return SaveResult{}, err
	}
	base := w.Base()
	var res SaveResult
	res.SavedTo = filepath.Join(base, ReviewedDir, name+".html")
	if err := os.MkdirAll(filepath.Dir(res.SavedTo), 0o755); err != nil {
		return SaveResult{}, err
	}

	if _, err := os.Stat(res.SavedTo); err == nil {
		res.BackupPath = fmt.Sprintf("%s.backup.%d", res.SavedTo, w.now().Unix())
		if err := os.Rename(res.SavedTo, res.BackupPath); err != nil {
			return SaveResult{}, fmt.Errorf("backup reviewed document: %w", err)
		}
	}
	if err := os.WriteFile(res.SavedTo, []byte(content), 0o644); err != nil {
		return SaveResult{}, err
	}

	src := filepath.Join(base, ConvertedDir, name)
	if _, err := os.Stat(src); err == nil {
		archive := filepath.Join(base, ArchiveDir)
		if err := os.MkdirAll(archive, 0o755); err != nil {
			return res, err
		}
		dst := filepath.Join(archive, name)
		if _, err := os.Stat(dst); err == nil {
			dst = fmt.Sprintf("%s.%d", dst, w.now().Unix())
		}
		if err := os.Rename(src, dst); err != nil {
			return res, fmt.Errorf("archive converted document: %w", err)
		}
		res.ArchivedTo = dst
	}

	if err := w.updateStats(base, name); err != nil {
		log.Warn().Err(err).Str("doc", name).Msg("review stats not updated")
	}
	log.Info().Str("doc", name).Str("saved_to", res.SavedTo).Msg("reviewed document saved")
	return res, nil
}

// ReviewEntry is one line of the review history.
type ReviewEntry struct {
	Filename   string    `json:"filename"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// Stats is the persisted review statistics plus live folder counts.
type Stats struct {
	TotalReviewed    int            `json:"total_reviewed"`
	TotalCorrections int            `json:"total_corrections"`
	CommonErrors     map[string]int `json:"common_errors"`
	LastUpdated      *time.Time     `json:"last_updated"`
	Reviews          []ReviewEntry  `json:"reviews"`
	CurrentPending   int            `json:"current_pending"`
	CurrentReviewed  int            `json:"current_reviewed"`
}

func readStats(base string) (Stats, error) {
	st := Stats{CommonErrors: map[string]int{}}
	b, err := os.ReadFile(filepath.Join(base, StatsFile))
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("decode %s: %w", StatsFile, err)
	}
	if st.CommonErrors == nil {
		st.CommonErrors = map[string]int{}
	}
	return st, nil
}

func (w *Workspace) updateStats(base, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, err := readStats(base)
	if err != nil {
		return err
	}
	now := w.now().UTC()
	st.TotalReviewed++
	st.LastUpdated = &now
	st.Reviews = append(st.Reviews, ReviewEntry{Filename: name, ReviewedAt: now})
	if len(st.Reviews) > maxStoredReviews {
		st.Reviews = st.Reviews[len(st.Reviews)-maxStoredReviews:]
	}
	st.CurrentPending, st.CurrentReviewed = 0, 0
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(base, StatsFile), b, 0o644)
}

// Stats returns the review statistics with current pending/reviewed counts.
func (w *Workspace) Stats() (Stats, error) {
	base := w.Base()
	st, err := readStats(base)
	if err != nil {
		return Stats{}, err
	}
	pending, err := pendingDocs(filepath.Join(base, ConvertedDir))
	if err != nil {
		return Stats{}, err
	}
	reviewed, err := reviewedDocs(filepath.Join(base, ReviewedDir))
	if err != nil {
		return Stats{}, err
	}
	st.CurrentPending = len(pending)
	st.CurrentReviewed = len(reviewed)
	return st, nil
}
