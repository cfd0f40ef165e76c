package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avtotest/exam-backend/internal/config"
	"github.com/avtotest/exam-backend/internal/model"
	"github.com/jackc/pgx/v5"
)

// examPlan is a validated StartExamRequest with all defaults resolved.
type examPlan struct {
	mode            model.ExamMode
	ticket          *model.Ticket
	pkg             *model.Package
	topic           *model.Topic
	questionCount   int
	durationMinutes int
	passingScore    int
}

// planExam validates the request and loads the metadata the session refers to.
func (s *ExamSessionService) planExam(ctx context.Context, req model.StartExamRequest) (*examPlan, error) {
	sources := 0
	if req.TicketID != nil {
		sources++
	}
	if req.PackageID != nil {
		sources++
	}
	if req.TopicID != nil && req.PackageID == nil {
		sources++
	}
	if req.Marathon {
		sources++
	}
	if sources != 1 || (req.TicketID != nil && req.TopicID != nil) {
		return nil, fmt.Errorf("%w: exactly one of ticket_id, package_id, topic_id or marathon is required", ErrInvalidExamRequest)
	}

	count := req.QuestionCount
	if count == 0 {
		count = s.cfg.DefaultQuestionCount
	}
	if count < 1 || count > s.cfg.MaxQuestionCount {
		return nil, fmt.Errorf("%w: question_count must be between 1 and %d", ErrInvalidExamRequest, s.cfg.MaxQuestionCount)
	}

	plan := &examPlan{
		questionCount:   count,
		durationMinutes: s.cfg.DefaultDurationMinutes,
		passingScore:    s.cfg.DefaultPassingScore,
	}

	var err error
	switch {
	case req.TicketID != nil:
		plan.mode = model.ExamModeTicket
		if plan.ticket, err = s.ticket(ctx, *req.TicketID); err != nil {
			return nil, err
		}
		if plan.pkg, err = s.pkg(ctx, plan.ticket.PackageID); err != nil {
			return nil, err
		}
	case req.PackageID != nil:
		plan.mode = model.ExamModePackage
		if plan.pkg, err = s.pkg(ctx, *req.PackageID); err != nil {
			return nil, err
		}
		if req.TopicID != nil {
			if plan.topic, err = s.topic(ctx, *req.TopicID); err != nil {
				return nil, err
			}
		}
	case req.TopicID != nil:
		plan.mode = model.ExamModeTopic
		if plan.topic, err = s.topic(ctx, *req.TopicID); err != nil {
			return nil, err
		}
	default:
		plan.mode = model.ExamModeMarathon
	}

	if plan.pkg != nil && plan.pkg.DurationMinutes > 0 {
		plan.durationMinutes = plan.pkg.DurationMinutes
	}
	if plan.pkg != nil && plan.pkg.PassingScore > 0 {
		plan.passingScore = plan.pkg.PassingScore
	}
	if req.DurationMinutes != nil {
		plan.durationMinutes = *req.DurationMinutes
	}
	if req.PassingScore != nil {
		plan.passingScore = *req.PassingScore
	}

	if plan.durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidExamRequest)
	}
	if plan.passingScore <= 0 || plan.passingScore > 100 {
		return nil, fmt.Errorf("%w: passing_score must be between 1 and 100", ErrInvalidExamRequest)
	}

	return plan, nil
}

// selectQuestions fetches the candidate pool and freezes the session's
// ordered subset. Ticket papers keep their stored order; every other mode is
// a random sample without replacement.
func (s *ExamSessionService) selectQuestions(ctx context.Context, plan *examPlan) ([]model.Question, error) {
	var (
		pool []model.Question
		err  error
	)

	switch plan.mode {
	case model.ExamModeTicket:
		id := plan.ticket.ID
		pool, err = s.cachedQuestions(ctx, config.CacheKey.TicketQuestionsKey(id), func() ([]model.Question, error) {
			return s.catalog.ListTicketQuestions(ctx, id)
		})
	case model.ExamModePackage:
		id := plan.pkg.ID
		if plan.topic != nil {
			// Topic-filtered package pools are not cached: the key space
			// would be packages x topics for a rarely used filter.
			pool, err = s.catalog.ListPackageQuestions(ctx, id, &plan.topic.ID)
		} else {
			pool, err = s.cachedQuestions(ctx, config.CacheKey.PackageQuestionsKey(id), func() ([]model.Question, error) {
				return s.catalog.ListPackageQuestions(ctx, id, nil)
			})
		}
	case model.ExamModeTopic:
		id := plan.topic.ID
		pool, err = s.cachedQuestions(ctx, config.CacheKey.TopicQuestionsKey(id), func() ([]model.Question, error) {
			return s.catalog.ListTopicQuestions(ctx, id)
		})
	default:
		pool, err = s.cachedQuestions(ctx, config.CacheKey.MarathonQuestionsKey(), func() ([]model.Question, error) {
			return s.catalog.ListMarathonQuestions(ctx)
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: no questions for %s", ErrContentUnavailable, plan.mode)
	}

	var picked []model.Question
	if plan.mode == model.ExamModeTicket {
		picked = pool
	} else {
		n := min(plan.questionCount, len(pool))
		if plan.mode == model.ExamModeMarathon && s.cfg.MarathonPoolSize > 0 {
			n = min(n, s.cfg.MarathonPoolSize)
		}
		perm := s.perm(len(pool))[:n]
		picked = make([]model.Question, n)
		for i, idx := range perm {
			picked[i] = pool[idx]
		}
	}

	frozen := make([]model.Question, len(picked))
	for i, q := range picked {
		frozen[i] = q.Clone()
		frozen[i].OrderIndex = i + 1
	}
	return frozen, nil
}

// cachedQuestions reads a question pool from the cache, falling back to load
// and repopulating the cache. Cache failures degrade to the catalog.
func (s *ExamSessionService) cachedQuestions(ctx context.Context, key string, load func() ([]model.Question, error)) ([]model.Question, error) {
	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Question cache read failed")
	} else if ok {
		questions, err := model.DecodeQuestions(raw)
		if err == nil {
			return questions, nil
		}
		s.log.Warn().Err(err).Str("key", key).Msg("Corrupt question cache entry, reloading")
	}

	questions, err := load()
	if err != nil {
		return nil, err
	}

	if len(questions) > 0 {
		raw, err := model.EncodeQuestions(questions)
		if err == nil {
			err = s.cache.Set(ctx, key, raw, config.CacheQuestions.TTL())
		}
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Question cache write failed")
		}
	}
	return questions, nil
}

// cachedJSON is cachedQuestions for metadata values that carry no secrets.
func cachedJSON[T any](ctx context.Context, s *ExamSessionService, key string, category config.CacheCategory, load func() (*T, error)) (*T, error) {
	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
	} else if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return &v, nil
		}
	}

	v, err := load()
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(v); err == nil {
		if err := s.cache.Set(ctx, key, raw, category.TTL()); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
		}
	}
	return v, nil
}

func (s *ExamSessionService) pkg(ctx context.Context, id int64) (*model.Package, error) {
	p, err := cachedJSON(ctx, s, config.CacheKey.PackageKey(id), config.CachePackages, func() (*model.Package, error) {
		return s.catalog.GetPackage(ctx, id)
	})
	return p, catalogErr(err, "package", id)
}

func (s *ExamSessionService) ticket(ctx context.Context, id int64) (*model.Ticket, error) {
	t, err := cachedJSON(ctx, s, config.CacheKey.TicketKey(id), config.CachePackages, func() (*model.Ticket, error) {
		return s.catalog.GetTicket(ctx, id)
	})
	return t, catalogErr(err, "ticket", id)
}

func (s *ExamSessionService) topic(ctx context.Context, id int64) (*model.Topic, error) {
	t, err := cachedJSON(ctx, s, config.CacheKey.TopicKey(id), config.CachePackages, func() (*model.Topic, error) {
		return s.catalog.GetTopic(ctx, id)
	})
	return t, catalogErr(err, "topic", id)
}

func catalogErr(err error, kind string, id int64) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %s %d", ErrContentNotFound, kind, id)
	default:
		return fmt.Errorf("%w: get %s %d: %v", ErrContentUnavailable, kind, id, err)
	}
}
