package service

import (
	"testing"
	"time"

	"github.com/avtotest/exam-backend/internal/model"
)

func TestComputeResultNoAnswers(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := completedSession(model.ExamStatusExpired, 3, 0, start, 20)

	res := ComputeResult(&s, model.LocaleUZL)
	if res.Percentage != 0 || res.IsPassed || res.UnansweredCount != 3 {
		t.Errorf("result = %+v", res)
	}
	if res.AverageTimePerQuestion != nil {
		t.Errorf("average = %v, want null without answers", *res.AverageTimePerQuestion)
	}
	for _, a := range res.Answers {
		if a.IsAnswered || a.SelectedOptionIndex != nil {
			t.Errorf("answer %d marked answered", a.QuestionID)
		}
	}
}

func TestComputeResultRevealsKeyRegardlessOfVisibility(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := completedSession(model.ExamStatusFinished, 2, 1, start, 2)
	s.VisibilityMode = false

	res := ComputeResult(&s, model.LocaleRU)
	if res.Answers[1].CorrectOptionIndex != 2 || res.Answers[1].Explanation != "Пояснение" {
		t.Errorf("review detail = %+v", res.Answers[1])
	}
}

func TestComputeResultWithoutFinishTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := completedSession(model.ExamStatusExpired, 1, 1, start, 0)
	s.FinishedAt = nil

	res := ComputeResult(&s, model.LocaleUZL)
	if !res.FinishedAt.Equal(s.ExpiresAt) || res.DurationSeconds != 20*60 {
		t.Errorf("finished_at = %v duration = %d", res.FinishedAt, res.DurationSeconds)
	}
}

func TestComputeStatisticsTiming(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := completedSession(model.ExamStatusFinished, 4, 0, start, 4)
	topic := int64(3)
	s.Questions[0].TopicID = &topic
	s.Questions[3].TopicID = &topic

	s.RecordAnswer(s.Questions[0], intPtr(1), 40, start)
	s.RecordAnswer(s.Questions[1], intPtr(2), 8, start)
	// Unanswered records do not count toward timing.
	s.RecordAnswer(s.Questions[2], nil, 1, start)

	st := ComputeStatistics(&s)
	if st.AnsweredCount != 2 || st.CorrectCount != 2 {
		t.Fatalf("tally = %d answered, %d correct", st.AnsweredCount, st.CorrectCount)
	}
	if *st.FastestAnswerTime != 8 || *st.SlowestAnswerTime != 40 || st.TotalAnswerTime != 48 {
		t.Errorf("timing = %d/%d/%d", *st.FastestAnswerTime, *st.SlowestAnswerTime, st.TotalAnswerTime)
	}
	if *st.AverageTimePerQuestion != 120 {
		t.Errorf("average = %v, want 120", *st.AverageTimePerQuestion)
	}
	if len(st.Topics) != 1 || st.Topics[0].TotalQuestions != 2 || st.Topics[0].Percentage != 50 {
		t.Errorf("topics = %+v", st.Topics)
	}
}

func TestComputeStatisticsEmpty(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := completedSession(model.ExamStatusFinished, 0, 0, start, 1)

	st := ComputeStatistics(&s)
	if st.CorrectPercentage != 0 || st.FastestAnswerTime != nil || st.SlowestAnswerTime != nil {
		t.Errorf("statistics = %+v", st)
	}
	if st.Topics == nil {
		t.Error("topics must be an empty list, not null")
	}
}

func TestComputeResultPassingThreshold(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		passing int
		want    bool
	}{
		{70, true},
		{71, false},
	}
	for _, tt := range tests {
		s := completedSession(model.ExamStatusFinished, 10, 7, start, 5)
		s.PassingScore = tt.passing

		res := ComputeResult(&s, model.LocaleUZL)
		if res.Percentage != 70 || res.IsPassed != tt.want {
			t.Errorf("passing %d: percentage = %v passed = %v", tt.passing, res.Percentage, res.IsPassed)
		}
	}
}
