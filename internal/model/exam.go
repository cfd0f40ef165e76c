package model

import (
	"time"

	"github.com/google/uuid"
)

// StartExamRequest is the payload for starting an exam session. Exactly one
// question source must be given: ticket_id, package_id, topic_id or marathon.
// package_id may be combined with topic_id to filter the package by topic.
type StartExamRequest struct {
	TicketID        *int64 `json:"ticket_id" binding:"omitempty,min=1"`
	PackageID       *int64 `json:"package_id" binding:"omitempty,min=1"`
	TopicID         *int64 `json:"topic_id" binding:"omitempty,min=1"`
	Marathon        bool   `json:"marathon"`
	QuestionCount   int    `json:"question_count" binding:"omitempty,min=1"`
	VisibilityMode  bool   `json:"visibility_mode"`
	DurationMinutes *int   `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	PassingScore    *int   `json:"passing_score" binding:"omitempty,min=1,max=100"`
}

// SubmitAnswerRequest is the payload for answering one question.
// A null selected_option_index records the question as unanswered.
type SubmitAnswerRequest struct {
	QuestionID          int64 `json:"question_id" binding:"required,min=1"`
	SelectedOptionIndex *int  `json:"selected_option_index" binding:"omitempty,min=0"`
	TimeSpentSeconds    int   `json:"time_spent_seconds" binding:"min=0,max=86400"`
}

// HistoryFilter narrows GetExamHistory. Zero values mean "no filter".
type HistoryFilter struct {
	PackageID *int64      `form:"package_id" binding:"omitempty,min=1"`
	TicketID  *int64      `form:"ticket_id" binding:"omitempty,min=1"`
	Mode      *ExamMode   `form:"mode" binding:"omitempty,oneof=TICKET PACKAGE TOPIC MARATHON"`
	Status    *ExamStatus `form:"status" binding:"omitempty,oneof=STARTED IN_PROGRESS FINISHED EXPIRED ABANDONED"`
	Passed    *bool       `form:"passed"`
	From      *time.Time  `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To        *time.Time  `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page      int         `form:"page" binding:"omitempty,min=1"`
	PerPage   int         `form:"per_page" binding:"omitempty,min=1,max=100"`
}

// Renderer selects how localized text is projected into a response: one
// locale, or all four slots when All is set.
type Renderer struct {
	Locale Locale
	All    bool
}

func (r Renderer) text(t LocalizedText) (string, *LocalizedText) {
	if r.All {
		all := t
		return t.Get(r.Locale), &all
	}
	return t.Get(r.Locale), nil
}

// OptionResponse is an answer choice as sent to the client.
type OptionResponse struct {
	ID           int64          `json:"id"`
	Index        int            `json:"index"`
	Text         string         `json:"text"`
	Translations *LocalizedText `json:"translations,omitempty"`
}

// ExamQuestionResponse is a question as sent to the client. The answer key
// fields are only populated when the session was started in visibility mode.
type ExamQuestionResponse struct {
	ID                      int64            `json:"id"`
	OrderIndex              int              `json:"order_index"`
	Text                    string           `json:"text"`
	Translations            *LocalizedText   `json:"translations,omitempty"`
	ImageURL                *string          `json:"image_url,omitempty"`
	Options                 []OptionResponse `json:"options"`
	CorrectOptionIndex      *int             `json:"correct_option_index,omitempty"`
	Explanation             *string          `json:"explanation,omitempty"`
	ExplanationTranslations *LocalizedText   `json:"explanation_translations,omitempty"`
}

// NewExamQuestionResponse is the single place where visibility gating is
// applied. visible must come from the stored session, never from a request.
func NewExamQuestionResponse(q Question, r Renderer, visible bool) ExamQuestionResponse {
	resp := ExamQuestionResponse{
		ID:         q.ID,
		OrderIndex: q.OrderIndex,
		ImageURL:   q.ImageURL,
		Options:    make([]OptionResponse, len(q.Options)),
	}
	resp.Text, resp.Translations = r.text(q.Text)

	for i, o := range q.Options {
		opt := OptionResponse{ID: o.ID, Index: o.Index}
		opt.Text, opt.Translations = r.text(o.Text)
		resp.Options[i] = opt
	}

	if visible {
		idx := q.CorrectOptionIndex
		resp.CorrectOptionIndex = &idx
		expl, all := r.text(q.Explanation)
		resp.Explanation = &expl
		resp.ExplanationTranslations = all
	}
	return resp
}

// ExamResponse is returned when a session is started or re-served.
type ExamResponse struct {
	SessionID        uuid.UUID              `json:"session_id"`
	Mode             ExamMode               `json:"mode"`
	TicketID         *int64                 `json:"ticket_id,omitempty"`
	TicketNumber     *int                   `json:"ticket_number,omitempty"`
	TicketName       *string                `json:"ticket_name,omitempty"`
	PackageID        *int64                 `json:"package_id,omitempty"`
	PackageName      *string                `json:"package_name,omitempty"`
	TopicID          *int64                 `json:"topic_id,omitempty"`
	TopicName        *string                `json:"topic_name,omitempty"`
	Questions        []ExamQuestionResponse `json:"questions"`
	TotalQuestions   int                    `json:"total_questions"`
	VisibilityMode   bool                   `json:"visibility_mode"`
	DurationMinutes  int                    `json:"duration_minutes"`
	PassingScore     int                    `json:"passing_score"`
	StartedAt        time.Time              `json:"started_at"`
	ExpiresAt        time.Time              `json:"expires_at"`
	RemainingSeconds int64                  `json:"remaining_seconds"`
	Status           ExamStatus             `json:"status"`
	AnsweredCount    int                    `json:"answered_count"`
	Locale           Locale                 `json:"locale"`
}

// CheckAnswerResponse reveals the answer key for one question. It is an
// explicit reveal and ignores the session's visibility mode.
type CheckAnswerResponse struct {
	QuestionID          int64      `json:"question_id"`
	IsCorrect           bool       `json:"is_correct"`
	SelectedOptionIndex *int       `json:"selected_option_index"`
	CorrectOptionIndex  int        `json:"correct_option_index"`
	Explanation         string     `json:"explanation"`
	Status              ExamStatus `json:"status"`
	AnsweredCount       int        `json:"answered_count"`
}

// AnswerDetailResponse is one line of the post-finish answer review.
type AnswerDetailResponse struct {
	QuestionID          int64   `json:"question_id"`
	OrderIndex          int     `json:"order_index"`
	QuestionText        string  `json:"question_text"`
	ImageURL            *string `json:"image_url,omitempty"`
	SelectedOptionIndex *int    `json:"selected_option_index"`
	CorrectOptionIndex  int     `json:"correct_option_index"`
	IsCorrect           bool    `json:"is_correct"`
	IsAnswered          bool    `json:"is_answered"`
	TimeSpentSeconds    int     `json:"time_spent_seconds"`
	Explanation         string  `json:"explanation"`
}

// ExamResultResponse summarizes a completed session.
type ExamResultResponse struct {
	SessionID              uuid.UUID              `json:"session_id"`
	Mode                   ExamMode               `json:"mode"`
	PackageID              *int64                 `json:"package_id,omitempty"`
	TicketID               *int64                 `json:"ticket_id,omitempty"`
	TopicID                *int64                 `json:"topic_id,omitempty"`
	Status                 ExamStatus             `json:"status"`
	TotalQuestions         int                    `json:"total_questions"`
	AnsweredCount          int                    `json:"answered_count"`
	CorrectCount           int                    `json:"correct_count"`
	IncorrectCount         int                    `json:"incorrect_count"`
	UnansweredCount        int                    `json:"unanswered_count"`
	Score                  int                    `json:"score"`
	Percentage             float64                `json:"percentage"`
	PassingScore           int                    `json:"passing_score"`
	IsPassed               bool                   `json:"is_passed"`
	StartedAt              time.Time              `json:"started_at"`
	FinishedAt             time.Time              `json:"finished_at"`
	DurationSeconds        int64                  `json:"duration_seconds"`
	AverageTimePerQuestion *float64               `json:"average_time_per_question"`
	Answers                []AnswerDetailResponse `json:"answers"`
}

// TopicStatistics is the per-topic slice of a session's statistics.
type TopicStatistics struct {
	TopicID        int64   `json:"topic_id"`
	TotalQuestions int     `json:"total_questions"`
	CorrectCount   int     `json:"correct_count"`
	Percentage     float64 `json:"percentage"`
}

// ExamStatisticsResponse extends the result with timing and ratio metrics.
type ExamStatisticsResponse struct {
	SessionID              uuid.UUID         `json:"session_id"`
	Status                 ExamStatus        `json:"status"`
	TotalQuestions         int               `json:"total_questions"`
	AnsweredCount          int               `json:"answered_count"`
	CorrectCount           int               `json:"correct_count"`
	IncorrectCount         int               `json:"incorrect_count"`
	UnansweredCount        int               `json:"unanswered_count"`
	Percentage             float64           `json:"percentage"`
	CorrectPercentage      float64           `json:"correct_percentage"`
	IncorrectPercentage    float64           `json:"incorrect_percentage"`
	UnansweredPercentage   float64           `json:"unanswered_percentage"`
	IsPassed               bool              `json:"is_passed"`
	DurationSeconds        int64             `json:"duration_seconds"`
	AverageTimePerQuestion *float64          `json:"average_time_per_question"`
	FastestAnswerTime      *int              `json:"fastest_answer_time"`
	SlowestAnswerTime      *int              `json:"slowest_answer_time"`
	TotalAnswerTime        int               `json:"total_answer_time"`
	Topics                 []TopicStatistics `json:"topics"`
}

// ExamHistoryResponse is one row of a user's exam history.
type ExamHistoryResponse struct {
	SessionID       uuid.UUID  `json:"session_id"`
	Mode            ExamMode   `json:"mode"`
	PackageID       *int64     `json:"package_id,omitempty"`
	PackageName     *string    `json:"package_name,omitempty"`
	TicketID        *int64     `json:"ticket_id,omitempty"`
	TicketNumber    *int       `json:"ticket_number,omitempty"`
	TopicID         *int64     `json:"topic_id,omitempty"`
	Status          ExamStatus `json:"status"`
	TotalQuestions  int        `json:"total_questions"`
	CorrectCount    int        `json:"correct_count"`
	Percentage      float64    `json:"percentage"`
	IsPassed        bool       `json:"is_passed"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
}

// PackageStatisticsResponse is the historical rollup for one user and package.
type PackageStatisticsResponse struct {
	PackageID           int64      `json:"package_id"`
	PackageName         string     `json:"package_name"`
	TotalTestsInPackage int        `json:"total_tests_in_package"`
	CompletedTests      int        `json:"completed_tests"`
	PassedTests         int        `json:"passed_tests"`
	FailedTests         int        `json:"failed_tests"`
	TotalCorrect        int        `json:"total_correct"`
	TotalIncorrect      int        `json:"total_incorrect"`
	TotalUnanswered     int        `json:"total_unanswered"`
	AveragePercentage   *float64   `json:"average_percentage"`
	BestPercentage      *float64   `json:"best_percentage"`
	WorstPercentage     *float64   `json:"worst_percentage"`
	AverageTestDuration *float64   `json:"average_test_duration"`
	FirstTestDate       *time.Time `json:"first_test_date"`
	LastTestDate        *time.Time `json:"last_test_date"`
	ProgressPercentage  float64    `json:"progress_percentage"`
	SuccessRate         float64    `json:"success_rate"`
}
