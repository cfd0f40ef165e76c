package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/avtotest/exam-backend/internal/config"
	"github.com/avtotest/exam-backend/internal/model"
	"github.com/avtotest/exam-backend/internal/repository"
	"github.com/avtotest/exam-backend/internal/response"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// ContentCatalog is the read-only source of exam content.
type ContentCatalog interface {
	GetPackage(ctx context.Context, id int64) (*model.Package, error)
	GetTicket(ctx context.Context, id int64) (*model.Ticket, error)
	GetTopic(ctx context.Context, id int64) (*model.Topic, error)
	ListTicketQuestions(ctx context.Context, ticketID int64) ([]model.Question, error)
	ListPackageQuestions(ctx context.Context, packageID int64, topicID *int64) ([]model.Question, error)
	ListTopicQuestions(ctx context.Context, topicID int64) ([]model.Question, error)
	ListMarathonQuestions(ctx context.Context) ([]model.Question, error)
}

// SessionStore persists exam sessions.
type SessionStore interface {
	Create(ctx context.Context, s *model.ExamSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	Update(ctx context.Context, s *model.ExamSession) error
	ListByUser(ctx context.Context, userID int64, f model.HistoryFilter, limit, offset int) ([]model.ExamSession, int, error)
	ListCompletedByUserAndPackage(ctx context.Context, userID, packageID int64) ([]model.ExamSession, error)
}

// Cache is a keyed TTL byte cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// ExamSessionService builds exam sessions, grades answers and computes
// results and statistics.
type ExamSessionService struct {
	catalog ContentCatalog
	store   SessionStore
	cache   Cache
	cfg     config.ExamConfig
	log     zerolog.Logger
	locks   *sessionLocker

	now  func() time.Time
	perm func(n int) []int
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	catalog ContentCatalog,
	store SessionStore,
	cache Cache,
	cfg config.ExamConfig,
	log zerolog.Logger,
) *ExamSessionService {
	return &ExamSessionService{
		catalog: catalog,
		store:   store,
		cache:   cache,
		cfg:     cfg,
		log:     log.With().Str("component", "exam_session_service").Logger(),
		locks:   newSessionLocker(),
		// PostgreSQL keeps microseconds; truncating here keeps a result
		// computed in memory identical to one recomputed from the row.
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		perm: rand.Perm,
	}
}

// StartExam validates the request, freezes the question set and persists
// the new session.
func (s *ExamSessionService) StartExam(ctx context.Context, userID int64, req model.StartExamRequest, r model.Renderer) (*model.ExamResponse, error) {
	plan, err := s.planExam(ctx, req)
	if err != nil {
		return nil, err
	}

	questions, err := s.selectQuestions(ctx, plan)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &model.ExamSession{
		ID:              uuid.New(),
		UserID:          userID,
		Mode:            plan.mode,
		Questions:       questions,
		VisibilityMode:  req.VisibilityMode,
		DurationMinutes: plan.durationMinutes,
		PassingScore:    plan.passingScore,
		StartedAt:       now,
		ExpiresAt:       now.Add(time.Duration(plan.durationMinutes) * time.Minute),
		Status:          model.ExamStatusStarted,
		Answers:         map[int64]model.AnswerRecord{},
	}
	if plan.ticket != nil {
		sess.TicketID = &plan.ticket.ID
	}
	if plan.pkg != nil {
		sess.PackageID = &plan.pkg.ID
	}
	if plan.topic != nil {
		sess.TopicID = &plan.topic.ID
	}

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Int64("user_id", userID).
		Str("mode", string(sess.Mode)).
		Int("questions", len(questions)).
		Bool("visibility_mode", sess.VisibilityMode).
		Msg("Exam session started")

	resp := s.examResponse(sess, r, now)
	s.labelResponse(resp, plan.ticket, plan.pkg, plan.topic, r.Locale)
	return resp, nil
}

// GetExam re-serves a session's questions (e.g. after a page reload) with
// the visibility gating fixed at start.
func (s *ExamSessionService) GetExam(ctx context.Context, userID int64, sessionID uuid.UUID, r model.Renderer) (*model.ExamResponse, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.openSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	resp := s.examResponse(sess, r, s.now())
	s.labelResponse(resp, s.lookupTicket(ctx, sess.TicketID), s.lookupPackage(ctx, sess.PackageID), s.lookupTopic(ctx, sess.TopicID), r.Locale)
	return resp, nil
}

// SubmitAnswer grades one answer and records it, replacing any earlier
// answer to the same question. The key is always revealed in the response.
func (s *ExamSessionService) SubmitAnswer(ctx context.Context, userID int64, sessionID uuid.UUID, req model.SubmitAnswerRequest, locale model.Locale) (*model.CheckAnswerResponse, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.openSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: status %s", ErrSessionClosed, sess.Status)
	}

	q, ok := sess.Question(req.QuestionID)
	if !ok {
		return nil, ErrQuestionNotInSession
	}

	rec := sess.RecordAnswer(q, req.SelectedOptionIndex, req.TimeSpentSeconds, s.now())
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}

	return &model.CheckAnswerResponse{
		QuestionID:          q.ID,
		IsCorrect:           rec.Correct(),
		SelectedOptionIndex: rec.SelectedOptionIndex,
		CorrectOptionIndex:  q.CorrectOptionIndex,
		Explanation:         q.Explanation.Get(locale),
		Status:              sess.Status,
		AnsweredCount:       sess.Tally().AnsweredCount,
	}, nil
}

// FinishExam closes the session and returns its result. Finishing an
// already finished or expired session returns the same result again
// without writing anything.
func (s *ExamSessionService) FinishExam(ctx context.Context, userID int64, sessionID uuid.UUID, locale model.Locale) (*model.ExamResultResponse, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.openSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case model.ExamStatusStarted, model.ExamStatusInProgress:
		sess.Finish(s.now())
		if err := s.save(ctx, sess); err != nil {
			return nil, err
		}
		s.sessionCompleted(ctx, sess)
	case model.ExamStatusFinished, model.ExamStatusExpired:
	default:
		return nil, fmt.Errorf("%w: status %s", ErrSessionClosed, sess.Status)
	}

	res := ComputeResult(sess, locale)
	return &res, nil
}

// GetStatistics returns the detailed statistics of a completed session.
func (s *ExamSessionService) GetStatistics(ctx context.Context, userID int64, sessionID uuid.UUID) (*model.ExamStatisticsResponse, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.openSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.IsCompleted() {
		return nil, fmt.Errorf("%w: status %s", ErrSessionNotFinished, sess.Status)
	}

	st := ComputeStatistics(sess)
	return &st, nil
}

// GetExamHistory lists a user's sessions, newest first.
func (s *ExamSessionService) GetExamHistory(ctx context.Context, userID int64, f model.HistoryFilter, locale model.Locale) ([]model.ExamHistoryResponse, *response.Pagination, error) {
	page, perPage := f.Page, f.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	sessions, total, err := s.store.ListByUser(ctx, userID, f, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list sessions: %w", err)
	}

	now := s.now()
	packages := make(map[int64]*model.Package)
	tickets := make(map[int64]*model.Ticket)

	items := make([]model.ExamHistoryResponse, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		// The store already filters on the expired status; the row itself
		// is persisted as expired on its next locked access.
		sess.ExpireIfDue(now)

		t := sess.Tally()
		item := model.ExamHistoryResponse{
			SessionID:      sess.ID,
			Mode:           sess.Mode,
			PackageID:      sess.PackageID,
			TicketID:       sess.TicketID,
			TopicID:        sess.TopicID,
			Status:         sess.Status,
			TotalQuestions: t.TotalQuestions,
			CorrectCount:   t.CorrectCount,
			Percentage:     t.Percentage,
			IsPassed:       sess.Status.IsCompleted() && t.IsPassed,
			StartedAt:      sess.StartedAt.UTC(),
			FinishedAt:     sess.FinishedAt,
		}
		if sess.FinishedAt != nil {
			d := durationSeconds(sess.StartedAt, *sess.FinishedAt)
			item.DurationSeconds = &d
		}

		if sess.PackageID != nil {
			p, ok := packages[*sess.PackageID]
			if !ok {
				p = s.lookupPackage(ctx, sess.PackageID)
				packages[*sess.PackageID] = p
			}
			if p != nil {
				name := p.Name.Get(locale)
				item.PackageName = &name
			}
		}
		if sess.TicketID != nil {
			tk, ok := tickets[*sess.TicketID]
			if !ok {
				tk = s.lookupTicket(ctx, sess.TicketID)
				tickets[*sess.TicketID] = tk
			}
			if tk != nil {
				num := tk.Number
				item.TicketNumber = &num
			}
		}

		items = append(items, item)
	}

	return items, response.NewPagination(page, perPage, total), nil
}

// GetPackageStatistics rolls up a user's completed sessions in one package.
func (s *ExamSessionService) GetPackageStatistics(ctx context.Context, userID, packageID int64, locale model.Locale) (*model.PackageStatisticsResponse, error) {
	key := config.CacheKey.UserPackageStatsKey(userID, packageID, string(locale))

	stats, err := cachedJSON(ctx, s, key, config.CacheUserStats, func() (*model.PackageStatisticsResponse, error) {
		pkg, err := s.pkg(ctx, packageID)
		if err != nil {
			return nil, err
		}
		sessions, err := s.store.ListCompletedByUserAndPackage(ctx, userID, packageID)
		if err != nil {
			return nil, fmt.Errorf("list completed sessions: %w", err)
		}
		now := s.now()
		for i := range sessions {
			sessions[i].ExpireIfDue(now)
		}
		st := ComputePackageStatistics(pkg, sessions, locale)
		return &st, nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// openSession loads a session owned by userID and applies lazy expiry.
// Callers must hold the session's lock.
func (s *ExamSessionService) openSession(ctx context.Context, userID int64, sessionID uuid.UUID) (*model.ExamSession, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	// Another user's session is reported as missing, not forbidden.
	if sess.UserID != userID {
		return nil, ErrSessionNotFound
	}

	if sess.ExpireIfDue(s.now()) {
		if err := s.save(ctx, sess); err != nil {
			return nil, err
		}
		s.log.Info().Str("session_id", sess.ID.String()).Msg("Exam session expired")
		s.sessionCompleted(ctx, sess)
	}
	return sess, nil
}

func (s *ExamSessionService) save(ctx context.Context, sess *model.ExamSession) error {
	err := s.store.Update(ctx, sess)
	if errors.Is(err, repository.ErrStaleSession) {
		return ErrConcurrentUpdate
	}
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to persist exam session")
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// sessionCompleted drops the cached package rollups the session contributes to.
func (s *ExamSessionService) sessionCompleted(ctx context.Context, sess *model.ExamSession) {
	if sess.Status == model.ExamStatusFinished {
		t := sess.Tally()
		s.log.Info().
			Str("session_id", sess.ID.String()).
			Int("correct", t.CorrectCount).
			Int("total", t.TotalQuestions).
			Bool("passed", t.IsPassed).
			Msg("Exam session finished")
	}
	if sess.PackageID == nil {
		return
	}
	if err := s.cache.Delete(ctx, UserStatsKeys(sess.UserID, *sess.PackageID)...); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to invalidate user stats cache")
	}
}

// UserStatsKeys lists the cached package rollups of one user, one per locale.
func UserStatsKeys(userID, packageID int64) []string {
	keys := make([]string, len(model.Locales))
	for i, l := range model.Locales {
		keys[i] = config.CacheKey.UserPackageStatsKey(userID, packageID, string(l))
	}
	return keys
}

// examResponse projects a session for the client. Visibility gating comes
// from the stored session flag only.
func (s *ExamSessionService) examResponse(sess *model.ExamSession, r model.Renderer, now time.Time) *model.ExamResponse {
	questions := make([]model.ExamQuestionResponse, len(sess.Questions))
	for i, q := range sess.Questions {
		questions[i] = model.NewExamQuestionResponse(q, r, sess.VisibilityMode)
	}

	return &model.ExamResponse{
		SessionID:        sess.ID,
		Mode:             sess.Mode,
		TicketID:         sess.TicketID,
		PackageID:        sess.PackageID,
		TopicID:          sess.TopicID,
		Questions:        questions,
		TotalQuestions:   len(questions),
		VisibilityMode:   sess.VisibilityMode,
		DurationMinutes:  sess.DurationMinutes,
		PassingScore:     sess.PassingScore,
		StartedAt:        sess.StartedAt.UTC(),
		ExpiresAt:        sess.ExpiresAt.UTC(),
		RemainingSeconds: sess.RemainingSeconds(now),
		Status:           sess.Status,
		AnsweredCount:    sess.Tally().AnsweredCount,
		Locale:           r.Locale,
	}
}

func (s *ExamSessionService) labelResponse(resp *model.ExamResponse, ticket *model.Ticket, pkg *model.Package, topic *model.Topic, locale model.Locale) {
	if ticket != nil {
		num := ticket.Number
		name := ticket.Name.Get(locale)
		resp.TicketNumber = &num
		resp.TicketName = &name
	}
	if pkg != nil {
		name := pkg.Name.Get(locale)
		resp.PackageName = &name
	}
	if topic != nil {
		name := topic.Name.Get(locale)
		resp.TopicName = &name
	}
}

// lookupPackage, lookupTicket and lookupTopic fetch labels for display;
// a failure only costs the name, so it is logged and swallowed.
func (s *ExamSessionService) lookupPackage(ctx context.Context, id *int64) *model.Package {
	if id == nil {
		return nil
	}
	p, err := s.pkg(ctx, *id)
	if err != nil {
		s.log.Warn().Err(err).Int64("package_id", *id).Msg("Package lookup failed")
		return nil
	}
	return p
}

func (s *ExamSessionService) lookupTicket(ctx context.Context, id *int64) *model.Ticket {
	if id == nil {
		return nil
	}
	t, err := s.ticket(ctx, *id)
	if err != nil {
		s.log.Warn().Err(err).Int64("ticket_id", *id).Msg("Ticket lookup failed")
		return nil
	}
	return t
}

func (s *ExamSessionService) lookupTopic(ctx context.Context, id *int64) *model.Topic {
	if id == nil {
		return nil
	}
	t, err := s.topic(ctx, *id)
	if err != nil {
		s.log.Warn().Err(err).Int64("topic_id", *id).Msg("Topic lookup failed")
		return nil
	}
	return t
}
