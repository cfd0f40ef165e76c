package service

import (
	"time"

	"github.com/avtotest/exam-backend/internal/model"
)

// ComputePackageStatistics rolls completed sessions of one user in one
// package up into historical statistics. Sessions that are not FINISHED or
// EXPIRED are skipped.
//
// Zero-denominator policy: averages, extremes and dates are null when no
// test was completed; progress_percentage and success_rate are 0.
func ComputePackageStatistics(pkg *model.Package, sessions []model.ExamSession, locale model.Locale) model.PackageStatisticsResponse {
	st := model.PackageStatisticsResponse{
		PackageID:           pkg.ID,
		PackageName:         pkg.Name.Get(locale),
		TotalTestsInPackage: pkg.TicketCount,
	}

	var sumPercentage float64
	var sumDuration int64
	var best, worst float64
	var first, last time.Time

	for i := range sessions {
		s := &sessions[i]
		if !s.Status.IsCompleted() {
			continue
		}
		t := s.Tally()
		finishedAt := resultFinishedAt(s)

		st.CompletedTests++
		if t.IsPassed {
			st.PassedTests++
		} else {
			st.FailedTests++
		}
		st.TotalCorrect += t.CorrectCount
		st.TotalIncorrect += t.IncorrectCount
		st.TotalUnanswered += t.UnansweredCount

		sumPercentage += t.Percentage
		sumDuration += durationSeconds(s.StartedAt, finishedAt)

		if st.CompletedTests == 1 {
			best, worst = t.Percentage, t.Percentage
			first, last = finishedAt, finishedAt
			continue
		}
		if t.Percentage > best {
			best = t.Percentage
		}
		if t.Percentage < worst {
			worst = t.Percentage
		}
		if finishedAt.Before(first) {
			first = finishedAt
		}
		if finishedAt.After(last) {
			last = finishedAt
		}
	}

	st.ProgressPercentage = model.Percent(st.CompletedTests, st.TotalTestsInPackage)

	if st.CompletedTests == 0 {
		return st
	}

	n := float64(st.CompletedTests)
	avgPct := model.Round2(sumPercentage / n)
	avgDur := model.Round2(float64(sumDuration) / n)
	st.AveragePercentage = &avgPct
	st.BestPercentage = &best
	st.WorstPercentage = &worst
	st.AverageTestDuration = &avgDur
	st.FirstTestDate = &first
	st.LastTestDate = &last
	st.SuccessRate = model.Percent(st.PassedTests, st.CompletedTests)

	return st
}
