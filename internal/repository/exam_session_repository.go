package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avtotest/exam-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStaleSession is returned by Update when the row changed since it was read.
var ErrStaleSession = errors.New("exam session was modified concurrently")

// ExamSessionRepository handles exam session data access. The frozen
// question set and the answer records are stored as JSONB on the session
// row, so a session is written all-or-nothing.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, mode, package_id, ticket_id, topic_id, questions, answers,
	visibility_mode, duration_minutes, passing_score, started_at, expires_at, finished_at, status, version`

// Create inserts a new session with its frozen question snapshot.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	questions, err := model.EncodeQuestions(s.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	answers, err := encodeAnswers(s.Answers)
	if err != nil {
		return err
	}
	t := s.Tally()

	_, err = r.pool.Exec(ctx,
		`INSERT INTO exam_sessions (id, user_id, mode, package_id, ticket_id, topic_id, questions, answers,
		     visibility_mode, duration_minutes, passing_score, started_at, expires_at, status,
		     total_questions, answered_count, correct_count, percentage, is_passed, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		s.ID, s.UserID, s.Mode, s.PackageID, s.TicketID, s.TopicID, questions, answers,
		s.VisibilityMode, s.DurationMinutes, s.PassingScore, s.StartedAt, s.ExpiresAt, s.Status,
		t.TotalQuestions, t.AnsweredCount, t.CorrectCount, t.Percentage, t.IsPassed, s.Version,
	)
	return err
}

// GetByID retrieves a session. Returns pgx.ErrNoRows when it does not exist.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// Update persists status, answers and finish time. It fails with
// ErrStaleSession if another writer bumped the version first.
func (r *ExamSessionRepository) Update(ctx context.Context, s *model.ExamSession) error {
	answers, err := encodeAnswers(s.Answers)
	if err != nil {
		return err
	}
	t := s.Tally()

	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, answers = $2, finished_at = $3,
		     answered_count = $4, correct_count = $5, percentage = $6, is_passed = $7,
		     version = version + 1, updated_at = NOW()
		 WHERE id = $8 AND version = $9`,
		s.Status, answers, s.FinishedAt,
		t.AnsweredCount, t.CorrectCount, t.Percentage, t.IsPassed,
		s.ID, s.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleSession
	}
	s.Version++
	return nil
}

// effectiveStatus reads an open session past its deadline as EXPIRED,
// matching the lazy expiry applied on its next access.
const effectiveStatus = `(CASE WHEN status IN ('STARTED', 'IN_PROGRESS') AND expires_at < NOW() THEN 'EXPIRED' ELSE status END)`

// ListByUser retrieves a user's sessions matching filter, newest first, with the total count.
func (r *ExamSessionRepository) ListByUser(ctx context.Context, userID int64, f model.HistoryFilter, limit, offset int) ([]model.ExamSession, int, error) {
	where := ` WHERE user_id = $1`
	args := []any{userID}

	if f.PackageID != nil {
		args = append(args, *f.PackageID)
		where += fmt.Sprintf(" AND package_id = $%d", len(args))
	}
	if f.TicketID != nil {
		args = append(args, *f.TicketID)
		where += fmt.Sprintf(" AND ticket_id = $%d", len(args))
	}
	if f.Mode != nil {
		args = append(args, *f.Mode)
		where += fmt.Sprintf(" AND mode = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where += fmt.Sprintf(" AND "+effectiveStatus+" = $%d", len(args))
	}
	if f.Passed != nil {
		args = append(args, *f.Passed)
		where += fmt.Sprintf(" AND is_passed = $%d AND "+effectiveStatus+" IN ('FINISHED', 'EXPIRED')", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where += fmt.Sprintf(" AND started_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where += fmt.Sprintf(" AND started_at < $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exam_sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + sessionColumns + ` FROM exam_sessions` + where +
		fmt.Sprintf(" ORDER BY started_at DESC, id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	sessions, err := r.querySessions(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// ListCompletedByUserAndPackage retrieves every FINISHED or EXPIRED session
// of one user in one package, oldest first. Overdue open sessions are
// included with their stored status; the caller expires them.
func (r *ExamSessionRepository) ListCompletedByUserAndPackage(ctx context.Context, userID, packageID int64) ([]model.ExamSession, error) {
	return r.querySessions(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE user_id = $1 AND package_id = $2 AND `+effectiveStatus+` IN ('FINISHED', 'EXPIRED')
		 ORDER BY COALESCE(finished_at, expires_at)`, userID, packageID)
}

// AbandonedSession identifies a session closed by MarkAbandoned.
type AbandonedSession struct {
	ID        uuid.UUID
	UserID    int64
	PackageID *int64
}

// MarkAbandoned closes every open session whose deadline passed before cutoff.
func (r *ExamSessionRepository) MarkAbandoned(ctx context.Context, cutoff time.Time) ([]AbandonedSession, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE exam_sessions
		 SET status = $1, version = version + 1, updated_at = NOW()
		 WHERE status IN ($2, $3) AND expires_at < $4
		 RETURNING id, user_id, package_id`,
		model.ExamStatusAbandoned, model.ExamStatusStarted, model.ExamStatusInProgress, cutoff)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AbandonedSession, error) {
		var a AbandonedSession
		err := row.Scan(&a.ID, &a.UserID, &a.PackageID)
		return a, err
	})
}

func (r *ExamSessionRepository) querySessions(ctx context.Context, query string, args ...any) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var questions, answers []byte
	if err := row.Scan(
		&s.ID, &s.UserID, &s.Mode, &s.PackageID, &s.TicketID, &s.TopicID, &questions, &answers,
		&s.VisibilityMode, &s.DurationMinutes, &s.PassingScore, &s.StartedAt, &s.ExpiresAt,
		&s.FinishedAt, &s.Status, &s.Version,
	); err != nil {
		return nil, err
	}

	s.StartedAt = s.StartedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	if s.FinishedAt != nil {
		f := s.FinishedAt.UTC()
		s.FinishedAt = &f
	}

	var err error
	if s.Questions, err = model.DecodeQuestions(questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	s.Answers = make(map[int64]model.AnswerRecord)
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &s.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	return s, nil
}

func encodeAnswers(answers map[int64]model.AnswerRecord) ([]byte, error) {
	if answers == nil {
		answers = map[int64]model.AnswerRecord{}
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	return raw, nil
}
