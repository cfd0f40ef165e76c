package service

import (
	"sort"
	"time"

	"github.com/avtotest/exam-backend/internal/model"
)

// ComputeResult folds a session's answer records into its result. It is a
// pure function of the stored session, so repeated calls on a completed
// session return identical results.
//
// Finishing is a disclosure event: the answer review always carries the
// key and explanation, whatever the session's visibility mode was.
func ComputeResult(s *model.ExamSession, locale model.Locale) model.ExamResultResponse {
	t := s.Tally()
	finishedAt := resultFinishedAt(s)
	duration := durationSeconds(s.StartedAt, finishedAt)

	res := model.ExamResultResponse{
		SessionID:       s.ID,
		Mode:            s.Mode,
		PackageID:       s.PackageID,
		TicketID:        s.TicketID,
		TopicID:         s.TopicID,
		Status:          s.Status,
		TotalQuestions:  t.TotalQuestions,
		AnsweredCount:   t.AnsweredCount,
		CorrectCount:    t.CorrectCount,
		IncorrectCount:  t.IncorrectCount,
		UnansweredCount: t.UnansweredCount,
		Score:           t.CorrectCount,
		Percentage:      t.Percentage,
		PassingScore:    s.PassingScore,
		IsPassed:        t.IsPassed,
		StartedAt:       s.StartedAt.UTC(),
		FinishedAt:      finishedAt,
		DurationSeconds: duration,
		Answers:         make([]model.AnswerDetailResponse, len(s.Questions)),
	}

	if t.AnsweredCount > 0 {
		avg := model.Round2(float64(duration) / float64(t.AnsweredCount))
		res.AverageTimePerQuestion = &avg
	}

	for i, q := range s.Questions {
		rec, ok := s.Answers[q.ID]
		res.Answers[i] = model.AnswerDetailResponse{
			QuestionID:         q.ID,
			OrderIndex:         q.OrderIndex,
			QuestionText:       q.Text.Get(locale),
			ImageURL:           q.ImageURL,
			CorrectOptionIndex: q.CorrectOptionIndex,
			Explanation:        q.Explanation.Get(locale),
		}
		if ok {
			res.Answers[i].SelectedOptionIndex = rec.SelectedOptionIndex
			res.Answers[i].IsAnswered = rec.Answered()
			res.Answers[i].IsCorrect = rec.Correct()
			res.Answers[i].TimeSpentSeconds = rec.TimeSpentSeconds
		}
	}

	return res
}

// ComputeStatistics extends the result with ratio, timing and per-topic metrics.
func ComputeStatistics(s *model.ExamSession) model.ExamStatisticsResponse {
	t := s.Tally()
	duration := durationSeconds(s.StartedAt, resultFinishedAt(s))

	st := model.ExamStatisticsResponse{
		SessionID:            s.ID,
		Status:               s.Status,
		TotalQuestions:       t.TotalQuestions,
		AnsweredCount:        t.AnsweredCount,
		CorrectCount:         t.CorrectCount,
		IncorrectCount:       t.IncorrectCount,
		UnansweredCount:      t.UnansweredCount,
		Percentage:           t.Percentage,
		CorrectPercentage:    model.Percent(t.CorrectCount, t.TotalQuestions),
		IncorrectPercentage:  model.Percent(t.IncorrectCount, t.TotalQuestions),
		UnansweredPercentage: model.Percent(t.UnansweredCount, t.TotalQuestions),
		IsPassed:             t.IsPassed,
		DurationSeconds:      duration,
		Topics:               []model.TopicStatistics{},
	}

	if t.AnsweredCount > 0 {
		avg := model.Round2(float64(duration) / float64(t.AnsweredCount))
		st.AverageTimePerQuestion = &avg
	}

	topics := make(map[int64]*model.TopicStatistics)
	for _, q := range s.Questions {
		rec, ok := s.Answers[q.ID]

		if q.TopicID != nil {
			ts, seen := topics[*q.TopicID]
			if !seen {
				ts = &model.TopicStatistics{TopicID: *q.TopicID}
				topics[*q.TopicID] = ts
			}
			ts.TotalQuestions++
			if ok && rec.Correct() {
				ts.CorrectCount++
			}
		}

		// Timing only counts questions where an option was selected.
		if !ok || !rec.Answered() {
			continue
		}
		spent := rec.TimeSpentSeconds
		st.TotalAnswerTime += spent
		if st.FastestAnswerTime == nil || spent < *st.FastestAnswerTime {
			v := spent
			st.FastestAnswerTime = &v
		}
		if st.SlowestAnswerTime == nil || spent > *st.SlowestAnswerTime {
			v := spent
			st.SlowestAnswerTime = &v
		}
	}

	for _, ts := range topics {
		ts.Percentage = model.Percent(ts.CorrectCount, ts.TotalQuestions)
		st.Topics = append(st.Topics, *ts)
	}
	sort.Slice(st.Topics, func(i, j int) bool { return st.Topics[i].TopicID < st.Topics[j].TopicID })

	return st
}

// resultFinishedAt is the stored finish time, or the deadline for a session
// that has none (a running session viewed in history).
func resultFinishedAt(s *model.ExamSession) time.Time {
	if s.FinishedAt != nil {
		return s.FinishedAt.UTC()
	}
	return s.ExpiresAt.UTC()
}

func durationSeconds(start, end time.Time) int64 {
	d := int64(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
