package corrector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CandidatesFile holds a document's uncertain candidates awaiting review.
const CandidatesFile = "candidates.json"

type File struct {
	DocID      string      `json:"doc_id"`
	Source     string      `json:"source"`
	CreatedAt  time.Time   `json:"created_at"`
	Candidates []Candidate `json:"candidates"`
}

// WriteCandidates stores uncertain candidates next to the document's
// artifacts. Nothing is written when there are none.
func WriteCandidates(dir, docID, source string, uncertain []Candidate) (bool, error) {
	if len(uncertain) == 0 {
		return false, nil
	}
	b, err := json.MarshalIndent(File{DocID: docID, Source: source, CreatedAt: time.Now().UTC(), Candidates: uncertain}, "", "  ")
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(filepath.Join(dir, CandidatesFile), b, 0o644); err != nil {
		return false, fmt.Errorf("write candidates: %w", err)
	}
	return true, nil
}

// ReadCandidates loads dir/candidates.json.
func ReadCandidates(dir string) (File, error) {
	var f File
	b, err := os.ReadFile(filepath.Join(dir, CandidatesFile))
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("decode %s: %w", CandidatesFile, err)
	}
	return f, nil
}
