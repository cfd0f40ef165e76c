package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ExamMode enumerates how a session's questions were drawn.
type ExamMode string

const (
	ExamModeTicket   ExamMode = "TICKET"
	ExamModePackage  ExamMode = "PACKAGE"
	ExamModeTopic    ExamMode = "TOPIC"
	ExamModeMarathon ExamMode = "MARATHON"
)

// ExamStatus enumerates exam session states.
type ExamStatus string

const (
	ExamStatusStarted    ExamStatus = "STARTED"
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusFinished   ExamStatus = "FINISHED"
	ExamStatusExpired    ExamStatus = "EXPIRED"
	ExamStatusAbandoned  ExamStatus = "ABANDONED"
)

var examTransitions = map[ExamStatus][]ExamStatus{
	ExamStatusStarted:    {ExamStatusInProgress, ExamStatusFinished, ExamStatusExpired, ExamStatusAbandoned},
	ExamStatusInProgress: {ExamStatusFinished, ExamStatusExpired, ExamStatusAbandoned},
}

// IsTerminal reports whether no transition can leave s.
func (s ExamStatus) IsTerminal() bool {
	return s == ExamStatusFinished || s == ExamStatusExpired || s == ExamStatusAbandoned
}

// IsCompleted reports whether a session in state s has disclosed results.
func (s ExamStatus) IsCompleted() bool {
	return s == ExamStatusFinished || s == ExamStatusExpired
}

// CanTransition reports whether from → to is a legal status change.
func CanTransition(from, to ExamStatus) bool {
	for _, next := range examTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AnswerRecord is the latest submission for one question of a session.
type AnswerRecord struct {
	QuestionID          int64     `json:"question_id"`
	SelectedOptionIndex *int      `json:"selected_option_index"`
	TimeSpentSeconds    int       `json:"time_spent_seconds"`
	IsCorrect           *bool     `json:"is_correct"`
	AnsweredAt          time.Time `json:"answered_at"`
}

// Answered reports whether an option was actually selected.
func (r AnswerRecord) Answered() bool {
	return r.SelectedOptionIndex != nil
}

// Correct reports whether the record was graded correct.
func (r AnswerRecord) Correct() bool {
	return r.IsCorrect != nil && *r.IsCorrect
}

// ExamSession is one user's attempt. Questions are frozen at creation.
type ExamSession struct {
	ID              uuid.UUID              `json:"id"`
	UserID          int64                  `json:"user_id"`
	Mode            ExamMode               `json:"mode"`
	PackageID       *int64                 `json:"package_id,omitempty"`
	TicketID        *int64                 `json:"ticket_id,omitempty"`
	TopicID         *int64                 `json:"topic_id,omitempty"`
	Questions       []Question             `json:"-"`
	VisibilityMode  bool                   `json:"visibility_mode"`
	DurationMinutes int                    `json:"duration_minutes"`
	PassingScore    int                    `json:"passing_score"`
	StartedAt       time.Time              `json:"started_at"`
	ExpiresAt       time.Time              `json:"expires_at"`
	FinishedAt      *time.Time             `json:"finished_at,omitempty"`
	Status          ExamStatus             `json:"status"`
	Answers         map[int64]AnswerRecord `json:"-"`
	// Version is bumped on every persisted mutation (optimistic concurrency).
	Version int `json:"-"`
}

// Question returns the frozen question with the given ID.
func (s *ExamSession) Question(questionID int64) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == questionID {
			return q, true
		}
	}
	return Question{}, false
}

// IsDue reports whether the session has run past its deadline at now.
func (s *ExamSession) IsDue(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ExpireIfDue moves an open session to EXPIRED when now is past ExpiresAt.
// FinishedAt is pinned to the deadline so results stay deterministic.
func (s *ExamSession) ExpireIfDue(now time.Time) bool {
	if s.Status.IsTerminal() || !s.IsDue(now) {
		return false
	}
	deadline := s.ExpiresAt
	s.Status = ExamStatusExpired
	s.FinishedAt = &deadline
	return true
}

// RecordAnswer grades and stores a submission, replacing any earlier one
// for the same question. The caller has already checked the question
// belongs to the session and that the session is open.
func (s *ExamSession) RecordAnswer(q Question, selected *int, timeSpent int, now time.Time) AnswerRecord {
	if timeSpent < 0 {
		timeSpent = 0
	}
	correct := selected != nil && *selected == q.CorrectOptionIndex

	rec := AnswerRecord{
		QuestionID:       q.ID,
		TimeSpentSeconds: timeSpent,
		IsCorrect:        &correct,
		AnsweredAt:       now,
	}
	if selected != nil {
		idx := *selected
		rec.SelectedOptionIndex = &idx
	}

	if s.Answers == nil {
		s.Answers = make(map[int64]AnswerRecord, len(s.Questions))
	}
	s.Answers[q.ID] = rec

	if s.Status == ExamStatusStarted {
		s.Status = ExamStatusInProgress
	}
	return rec
}

// Finish closes an open session at now.
func (s *ExamSession) Finish(now time.Time) {
	s.Status = ExamStatusFinished
	s.FinishedAt = &now
}

// RemainingSeconds returns the whole seconds left before expiry, never negative.
func (s *ExamSession) RemainingSeconds(now time.Time) int64 {
	if s.Status.IsTerminal() {
		return 0
	}
	left := s.ExpiresAt.Sub(now)
	if left < 0 {
		return 0
	}
	return int64(left / time.Second)
}

// SessionTally holds the answer counts every result metric derives from.
type SessionTally struct {
	TotalQuestions  int
	AnsweredCount   int
	CorrectCount    int
	IncorrectCount  int
	UnansweredCount int
	Percentage      float64
	IsPassed        bool
}

// Tally counts the session's records against its frozen question set.
// Records for questions outside the set are ignored.
func (s *ExamSession) Tally() SessionTally {
	t := SessionTally{TotalQuestions: len(s.Questions)}
	for _, q := range s.Questions {
		rec, ok := s.Answers[q.ID]
		if !ok || !rec.Answered() {
			continue
		}
		t.AnsweredCount++
		if rec.Correct() {
			t.CorrectCount++
		}
	}
	t.IncorrectCount = t.AnsweredCount - t.CorrectCount
	t.UnansweredCount = t.TotalQuestions - t.AnsweredCount
	t.Percentage = Percent(t.CorrectCount, t.TotalQuestions)
	t.IsPassed = t.Percentage >= float64(s.PassingScore)
	return t
}

// Percent returns 100*part/total rounded to two decimals, or 0 when total is 0.
func Percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return Round2(100 * float64(part) / float64(total))
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
