package service

import (
	"testing"
	"time"

	"github.com/avtotest/exam-backend/internal/model"
	"github.com/google/uuid"
)

// completedSession builds a session of n questions with the first correct
// ones answered correctly, finished minutes after start.
func completedSession(status model.ExamStatus, n, correct int, start time.Time, minutes int) model.ExamSession {
	s := model.ExamSession{
		ID:              uuid.New(),
		Status:          status,
		PassingScore:    60,
		DurationMinutes: 20,
		StartedAt:       start,
		ExpiresAt:       start.Add(20 * time.Minute),
		Answers:         map[int64]model.AnswerRecord{},
	}
	yes := true
	for i := range n {
		id := int64(i + 1)
		s.Questions = append(s.Questions, fixtureQuestion(id, nil))
		if i < correct {
			s.Answers[id] = model.AnswerRecord{QuestionID: id, SelectedOptionIndex: intPtr(int(id % 3)), IsCorrect: &yes}
		}
	}
	finished := start.Add(time.Duration(minutes) * time.Minute)
	s.FinishedAt = &finished
	return s
}

func TestComputePackageStatisticsEmpty(t *testing.T) {
	pkg := &model.Package{ID: 1, Name: model.LocalizedText{UZL: "A toifa"}, TicketCount: 20}

	st := ComputePackageStatistics(pkg, nil, model.LocaleEN)
	if st.PackageName != "A toifa" || st.TotalTestsInPackage != 20 {
		t.Errorf("header = %+v", st)
	}
	if st.CompletedTests != 0 || st.ProgressPercentage != 0 || st.SuccessRate != 0 {
		t.Errorf("counters = %+v", st)
	}
	if st.AveragePercentage != nil || st.BestPercentage != nil || st.WorstPercentage != nil ||
		st.AverageTestDuration != nil || st.FirstTestDate != nil || st.LastTestDate != nil {
		t.Errorf("aggregates must be null without completed tests: %+v", st)
	}
}

func TestComputePackageStatistics(t *testing.T) {
	pkg := &model.Package{ID: 1, TicketCount: 4}
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	sessions := []model.ExamSession{
		completedSession(model.ExamStatusFinished, 10, 9, day, 10),
		completedSession(model.ExamStatusExpired, 10, 4, day.Add(24*time.Hour), 20),
		completedSession(model.ExamStatusFinished, 10, 6, day.Add(48*time.Hour), 15),
		completedSession(model.ExamStatusAbandoned, 10, 10, day.Add(72*time.Hour), 5),
	}

	st := ComputePackageStatistics(pkg, sessions, model.LocaleUZL)

	if st.CompletedTests != 3 || st.PassedTests != 2 || st.FailedTests != 1 {
		t.Errorf("tests = %d completed, %d passed, %d failed", st.CompletedTests, st.PassedTests, st.FailedTests)
	}
	if st.TotalCorrect != 19 || st.TotalIncorrect != 0 || st.TotalUnanswered != 11 {
		t.Errorf("totals = %d/%d/%d", st.TotalCorrect, st.TotalIncorrect, st.TotalUnanswered)
	}
	if *st.AveragePercentage != 63.33 || *st.BestPercentage != 90 || *st.WorstPercentage != 40 {
		t.Errorf("percentages = %v/%v/%v", *st.AveragePercentage, *st.BestPercentage, *st.WorstPercentage)
	}
	if *st.AverageTestDuration != 900 {
		t.Errorf("average duration = %v, want 900", *st.AverageTestDuration)
	}
	if !st.FirstTestDate.Equal(day.Add(10*time.Minute)) || !st.LastTestDate.Equal(day.Add(48*time.Hour+15*time.Minute)) {
		t.Errorf("dates = %v .. %v", st.FirstTestDate, st.LastTestDate)
	}
	if st.ProgressPercentage != 75 || st.SuccessRate != 66.67 {
		t.Errorf("progress = %v success = %v", st.ProgressPercentage, st.SuccessRate)
	}
}

func TestComputePackageStatisticsNoTickets(t *testing.T) {
	pkg := &model.Package{ID: 1}
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	st := ComputePackageStatistics(pkg, []model.ExamSession{completedSession(model.ExamStatusFinished, 2, 2, day, 1)}, model.LocaleUZL)
	if st.ProgressPercentage != 0 {
		t.Errorf("progress = %v, want 0 for a package without tickets", st.ProgressPercentage)
	}
	if st.SuccessRate != 100 {
		t.Errorf("success rate = %v", st.SuccessRate)
	}
}
