package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/corrector"
	"github.com/local/docconvert/internal/metrics"
	"github.com/local/docconvert/internal/patterns"
)

// State of a document review session.
type State string

const (
	StateLoaded   State = "loaded"
	StateInReview State = "in_review"
	StateSaved    State = "saved"
)

// Decision is a reviewer's disposition of one candidate.
type Decision string

const (
	Confirmed Decision = patterns.DecisionConfirmed
	Rejected  Decision = patterns.DecisionRejected
	Edited    Decision = patterns.DecisionEdited
	Pending   Decision = patterns.DecisionPending
)

var (
	ErrSessionSaved     = errors.New("review session already saved")
	ErrUnknownCandidate = errors.New("unknown candidate")
	ErrInvalidDecision  = errors.New("invalid decision")
	ErrDuplicateID      = errors.New("duplicate candidate id")
)

// Learner receives confirmed corrections and the audit trail in one atomic
// step. The returned patterns are parallel to cs; a zero ID means the
// correction was not learnable.
type Learner interface {
	SaveReview(ctx context.Context, cs []patterns.Correction, logs []patterns.LogEntry) ([]patterns.Pattern, error)
}

// CorrectionDecision records what the reviewer chose for one candidate.
type CorrectionDecision struct {
	CandidateID string    `json:"candidate_id"`
	Decision    Decision  `json:"decision"`
	Value       string    `json:"value,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}

// Outcome pairs a candidate with its final disposition.
type Outcome struct {
	Candidate corrector.Candidate `json:"candidate"`
	Decision  Decision            `json:"decision"`
	Final     string              `json:"final,omitempty"`
	PatternID int64               `json:"pattern_id,omitempty"`
}

// Record is the persisted result of a saved session.
type Record struct {
	SessionID string    `json:"session_id"`
	DocID     string    `json:"doc_id"`
	Source    string    `json:"source"`
	SavedAt   time.Time `json:"saved_at"`
	Outcomes  []Outcome `json:"outcomes"`
	Learned   int       `json:"learned"`
	Pending   int       `json:"pending"`
}

// Session holds the candidates of one document and the decisions made so far.
type Session struct {
	mu         sync.Mutex
	id         string
	docID      string
	source     string
	state      State
	candidates []corrector.Candidate
	index      map[string]int
	decisions  map[string]CorrectionDecision
	record     *Record
	now        func() time.Time
}

// NewSession loads candidates for docID. Candidates without an id are
// numbered c1, c2, ... in order.
func NewSession(docID, source string, cands []corrector.Candidate) (*Session, error) {
	if !patterns.ValidSource(source) {
		return nil, fmt.Errorf("%w: %q", patterns.ErrInvalidSource, source)
	}
	s := &Session{
		id:         uuid.NewString(),
		docID:      docID,
		source:     source,
		state:      StateLoaded,
		candidates: make([]corrector.Candidate, len(cands)),
		index:      make(map[string]int, len(cands)),
		decisions:  make(map[string]CorrectionDecision),
		now:        func() time.Time { return time.Now().UTC() },
	}
	copy(s.candidates, cands)
	for i := range s.candidates {
		if s.candidates[i].ID == "" {
			s.candidates[i].ID = fmt.Sprintf("c%d", i+1)
		}
		id := s.candidates[i].ID
		if _, dup := s.index[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		s.index[id] = i
	}
	return s, nil
}

func (s *Session) ID() string    { return s.id }
func (s *Session) DocID() string { return s.docID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Decide records (or overwrites) the decision for one candidate. Edited
// requires the replacement value.
func (s *Session) Decide(candidateID string, d Decision, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSaved {
		return ErrSessionSaved
	}
	if _, ok := s.index[candidateID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCandidate, candidateID)
	}
	switch d {
	case Confirmed, Rejected:
		value = ""
	case Edited:
		if value == "" {
			return fmt.Errorf("%w: edited needs a value", ErrInvalidDecision)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDecision, d)
	}
	s.decisions[candidateID] = CorrectionDecision{CandidateID: candidateID, Decision: d, Value: value, DecidedAt: s.now()}
	s.state = StateInReview
	return nil
}

// ConfirmAllRemaining confirms every undecided candidate and returns how many
// were affected.
func (s *Session) ConfirmAllRemaining() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSaved {
		return 0, ErrSessionSaved
	}
	n := 0
	for _, c := range s.candidates {
		if _, ok := s.decisions[c.ID]; ok {
			continue
		}
		s.decisions[c.ID] = CorrectionDecision{CandidateID: c.ID, Decision: Confirmed, DecidedAt: s.now()}
		n++
	}
	s.state = StateInReview
	return n, nil
}

// Save persists every decision. Confirmed and edited candidates are forwarded
// to the learner as patterns; rejected and undecided ones are only logged,
// the latter as pending. A saved session is terminal.
func (s *Session) Save(ctx context.Context, learner Learner) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSaved {
		return Record{}, ErrSessionSaved
	}

	rec := Record{SessionID: s.id, DocID: s.docID, Source: s.source, SavedAt: s.now()}
	var (
		corrections []patterns.Correction
		learnedAt   []int
		logs        []patterns.LogEntry
	)
	for _, c := range s.candidates {
		out := Outcome{Candidate: c, Decision: Pending}
		if d, ok := s.decisions[c.ID]; ok {
			out.Decision = d.Decision
			switch d.Decision {
			case Confirmed:
				out.Final = c.Proposed
			case Edited:
				out.Final = d.Value
			}
		}
		if out.Decision == Confirmed || out.Decision == Edited {
			corrections = append(corrections, patterns.Correction{
				Original:  c.Original,
				Corrected: out.Final,
				Source:    s.source,
				Category:  c.Category,
				Context:   c.Location,
				Reason:    c.Reason,
			})
			learnedAt = append(learnedAt, len(rec.Outcomes))
		}
		if out.Decision == Pending {
			rec.Pending++
		}

		corrected := out.Final
		if corrected == "" {
			corrected = c.Proposed
		}
		logs = append(logs, patterns.LogEntry{
			DocID:     s.docID,
			Source:    s.source,
			Original:  c.Original,
			Corrected: corrected,
			Context:   c.Location,
			Category:  c.Category,
			Reason:    c.Reason,
			Decision:  string(out.Decision),
		})
		rec.Outcomes = append(rec.Outcomes, out)
	}

	// nothing is committed when this fails, so the session stays open for a retry
	learned, err := learner.SaveReview(ctx, corrections, logs)
	if err != nil {
		return Record{}, fmt.Errorf("save review of %s: %w", s.docID, err)
	}
	for i, p := range learned {
		out := &rec.Outcomes[learnedAt[i]]
		if p.ID == 0 {
			log.Warn().Str("doc", s.docID).Str("candidate", out.Candidate.ID).Msg("decision not learnable, logged only")
			continue
		}
		out.PatternID = p.ID
		rec.Learned++
	}
	for _, out := range rec.Outcomes {
		metrics.IncDecision(string(out.Decision))
	}

	s.state = StateSaved
	s.record = &rec
	log.Info().
		Str("session", s.id).
		Str("doc", s.docID).
		Int("candidates", len(s.candidates)).
		Int("learned", rec.Learned).
		Int("pending", rec.Pending).
		Msg("review saved")
	return rec, nil
}

// CandidateView is a candidate with its current decision, if any.
type CandidateView struct {
	corrector.Candidate
	Decision *CorrectionDecision `json:"decision,omitempty"`
}

// View is a point-in-time snapshot of a session.
type View struct {
	ID         string          `json:"id"`
	DocID      string          `json:"doc_id"`
	Source     string          `json:"source"`
	State      State           `json:"state"`
	Candidates []CandidateView `json:"candidates"`
	Undecided  int             `json:"undecided"`
	Record     *Record         `json:"record,omitempty"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{ID: s.id, DocID: s.docID, Source: s.source, State: s.state, Record: s.record}
	for _, c := range s.candidates {
		cv := CandidateView{Candidate: c}
		if d, ok := s.decisions[c.ID]; ok {
			d := d
			cv.Decision = &d
		} else {
			v.Undecided++
		}
		v.Candidates = append(v.Candidates, cv)
	}
	return v
}
