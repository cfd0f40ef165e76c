package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/avtotest/exam-backend/internal/config"
	"github.com/avtotest/exam-backend/internal/middleware"
	"github.com/avtotest/exam-backend/internal/model"
	"github.com/avtotest/exam-backend/internal/repository"
	"github.com/avtotest/exam-backend/internal/response"
	"github.com/avtotest/exam-backend/internal/service"
	"github.com/avtotest/exam-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

// memCatalog serves one package with a single three-question ticket.
type memCatalog struct{}

func (memCatalog) GetPackage(_ context.Context, id int64) (*model.Package, error) {
	if id != 1 {
		return nil, pgx.ErrNoRows
	}
	return &model.Package{ID: 1, Name: model.LocalizedText{UZL: "A toifa", RU: "Категория A"}, TicketCount: 1, DurationMinutes: 20, PassingScore: 60}, nil
}

func (memCatalog) GetTicket(_ context.Context, id int64) (*model.Ticket, error) {
	if id != 5 {
		return nil, pgx.ErrNoRows
	}
	return &model.Ticket{ID: 5, PackageID: 1, Number: 3, QuestionIDs: []int64{1, 2, 3}}, nil
}

func (memCatalog) GetTopic(context.Context, int64) (*model.Topic, error) {
	return nil, pgx.ErrNoRows
}

func (c memCatalog) ListTicketQuestions(context.Context, int64) ([]model.Question, error) {
	return c.questions(), nil
}

func (c memCatalog) ListPackageQuestions(context.Context, int64, *int64) ([]model.Question, error) {
	return c.questions(), nil
}

func (memCatalog) ListTopicQuestions(context.Context, int64) ([]model.Question, error) {
	return nil, nil
}

func (c memCatalog) ListMarathonQuestions(context.Context) ([]model.Question, error) {
	return c.questions(), nil
}

func (memCatalog) questions() []model.Question {
	var qs []model.Question
	for id := int64(1); id <= 3; id++ {
		qs = append(qs, model.Question{
			ID:   id,
			Text: model.LocalizedText{UZL: fmt.Sprintf("Savol %d", id), RU: fmt.Sprintf("Вопрос %d", id)},
			Options: []model.Option{
				{ID: id*10 + 0, Index: 0, Text: model.LocalizedText{UZL: "Ha", RU: "Да"}},
				{ID: id*10 + 1, Index: 1, Text: model.LocalizedText{UZL: "Yo'q", RU: "Нет"}},
			},
			CorrectOptionIndex: 1,
			Explanation:        model.LocalizedText{UZL: "Izoh"},
		})
	}
	return qs
}

// memStore round-trips sessions through their JSON encoding, as the
// database columns do.
type memStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]model.ExamSession
}

func (s *memStore) copy(sess model.ExamSession) *model.ExamSession {
	raw, _ := model.EncodeQuestions(sess.Questions)
	sess.Questions, _ = model.DecodeQuestions(raw)
	answers := make(map[int64]model.AnswerRecord, len(sess.Answers))
	for k, v := range sess.Answers {
		answers[k] = v
	}
	sess.Answers = answers
	return &sess
}

func (s *memStore) Create(_ context.Context, sess *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *s.copy(*sess)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s.copy(sess), nil
}

func (s *memStore) Update(_ context.Context, sess *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[sess.ID]; !ok || cur.Version != sess.Version {
		return repository.ErrStaleSession
	}
	sess.Version++
	s.sessions[sess.ID] = *s.copy(*sess)
	return nil
}

func (s *memStore) ListByUser(_ context.Context, userID int64, _ model.HistoryFilter, limit, offset int) ([]model.ExamSession, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ExamSession
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, *s.copy(sess))
		}
	}
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	return out[offset:min(offset+limit, total)], total, nil
}

func (s *memStore) ListCompletedByUserAndPackage(context.Context, int64, int64) ([]model.ExamSession, error) {
	return nil, nil
}

// missCache never holds anything.
type missCache struct{}

func (missCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (missCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (missCache) Delete(context.Context, ...string) error                  { return nil }

const testUserID = int64(42)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	svc := service.NewExamSessionService(memCatalog{}, &memStore{sessions: map[uuid.UUID]model.ExamSession{}}, missCache{}, config.ExamConfig{
		MaxQuestionCount:       50,
		DefaultQuestionCount:   20,
		DefaultDurationMinutes: 20,
		DefaultPassingScore:    80,
	}, zerolog.Nop())
	h := NewExamHandler(svc, zerolog.Nop())

	r := gin.New()
	api := r.Group("/api/v1", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "" {
			c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: testUserID})
		}
		c.Next()
	})
	api.POST("/exams/start", h.StartExam)
	api.GET("/exams/history", h.GetExamHistory)
	api.GET("/exams/:session_id", h.GetExam)
	api.POST("/exams/:session_id/answers", h.SubmitAnswer)
	api.POST("/exams/:session_id/finish", h.FinishExam)
	api.GET("/exams/:session_id/statistics", h.GetStatistics)
	api.GET("/packages/:package_id/statistics", h.GetPackageStatistics)
	return r
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
	Pagination *struct {
		TotalItems int `json:"total_items"`
	} `json:"pagination"`
}

func do(t *testing.T, r *gin.Engine, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid body %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func TestExamFlow(t *testing.T) {
	r := newTestRouter(t)

	code, env := do(t, r, http.MethodPost, "/api/v1/exams/start", map[string]any{"ticket_id": 5}, HeaderLanguage, "ru")
	if code != http.StatusCreated {
		t.Fatalf("start: status %d, error %+v", code, env.Error)
	}
	var exam model.ExamResponse
	if err := json.Unmarshal(env.Data, &exam); err != nil {
		t.Fatal(err)
	}
	if exam.Locale != model.LocaleRU || exam.Questions[0].Text != "Вопрос 1" || exam.Questions[0].Options[0].Text != "Да" {
		t.Errorf("exam not localized: %+v", exam.Questions[0])
	}
	if exam.Questions[0].CorrectOptionIndex != nil {
		t.Error("answer key served before answering")
	}
	if exam.TicketNumber == nil || *exam.TicketNumber != 3 {
		t.Errorf("ticket number = %v", exam.TicketNumber)
	}

	base := "/api/v1/exams/" + exam.SessionID.String()

	code, env = do(t, r, http.MethodPost, base+"/answers", map[string]any{"question_id": 1, "selected_option_index": 1, "time_spent_seconds": 4})
	if code != http.StatusOK {
		t.Fatalf("answer: status %d, error %+v", code, env.Error)
	}
	var check model.CheckAnswerResponse
	_ = json.Unmarshal(env.Data, &check)
	if !check.IsCorrect || check.Explanation != "Izoh" {
		t.Errorf("check = %+v", check)
	}

	code, env = do(t, r, http.MethodPost, base+"/answers", map[string]any{"question_id": 99, "selected_option_index": 0})
	if code != http.StatusBadRequest || env.Error.Code != "QUESTION_NOT_IN_SESSION" {
		t.Errorf("foreign question: %d %+v", code, env.Error)
	}

	code, env = do(t, r, http.MethodGet, base+"/statistics", nil)
	if code != http.StatusConflict || env.Error.Code != "SESSION_NOT_FINISHED" {
		t.Errorf("early statistics: %d %+v", code, env.Error)
	}

	code, env = do(t, r, http.MethodPost, base+"/finish", nil)
	if code != http.StatusOK {
		t.Fatalf("finish: status %d, error %+v", code, env.Error)
	}
	var res model.ExamResultResponse
	_ = json.Unmarshal(env.Data, &res)
	if res.CorrectCount != 1 || res.UnansweredCount != 2 || res.Percentage != 33.33 || res.IsPassed {
		t.Errorf("result = %+v", res)
	}

	code, env = do(t, r, http.MethodPost, base+"/answers", map[string]any{"question_id": 2, "selected_option_index": 1})
	if code != http.StatusConflict || env.Error.Code != "SESSION_CLOSED" {
		t.Errorf("answer after finish: %d %+v", code, env.Error)
	}

	code, env = do(t, r, http.MethodGet, "/api/v1/exams/history?per_page=5", nil)
	if code != http.StatusOK || env.Pagination == nil || env.Pagination.TotalItems != 1 {
		t.Errorf("history: %d %+v", code, env.Pagination)
	}
}

func TestVisibilityModeServesKey(t *testing.T) {
	r := newTestRouter(t)

	code, env := do(t, r, http.MethodPost, "/api/v1/exams/start?all_locales=true", map[string]any{"ticket_id": 5, "visibility_mode": true})
	if code != http.StatusCreated {
		t.Fatalf("start: status %d, error %+v", code, env.Error)
	}
	var exam model.ExamResponse
	_ = json.Unmarshal(env.Data, &exam)
	q := exam.Questions[0]
	if q.CorrectOptionIndex == nil || *q.CorrectOptionIndex != 1 {
		t.Errorf("correct_option_index = %v", q.CorrectOptionIndex)
	}
	if q.Translations == nil || q.Translations.RU != "Вопрос 1" {
		t.Errorf("translations = %+v", q.Translations)
	}
}

func TestRequestErrors(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"no source", http.MethodPost, "/api/v1/exams/start", map[string]any{}, http.StatusBadRequest, "INVALID_EXAM_REQUEST"},
		{"negative count", http.MethodPost, "/api/v1/exams/start", map[string]any{"marathon": true, "question_count": -1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown ticket", http.MethodPost, "/api/v1/exams/start", map[string]any{"ticket_id": 77}, http.StatusNotFound, "CONTENT_NOT_FOUND"},
		{"bad session id", http.MethodGet, "/api/v1/exams/not-a-uuid", nil, http.StatusBadRequest, "INVALID_ID"},
		{"unknown session", http.MethodPost, "/api/v1/exams/" + uuid.NewString() + "/finish", nil, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"missing question id", http.MethodPost, "/api/v1/exams/" + uuid.NewString() + "/answers", map[string]any{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad package id", http.MethodGet, "/api/v1/packages/0/statistics", nil, http.StatusBadRequest, "INVALID_ID"},
		{"unknown package", http.MethodGet, "/api/v1/packages/9/statistics", nil, http.StatusNotFound, "CONTENT_NOT_FOUND"},
		{"bad status filter", http.MethodGet, "/api/v1/exams/history?status=DONE", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, r, tt.method, tt.path, tt.body)
			if code != tt.status || env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("got %d %+v, want %d %s", code, env.Error, tt.status, tt.code)
			}
		})
	}
}

func TestValidationReportsJSONFieldNames(t *testing.T) {
	r := newTestRouter(t)

	_, env := do(t, r, http.MethodPost, "/api/v1/exams/start", map[string]any{"marathon": true, "passing_score": 101})
	if env.Error == nil || env.Error.Fields["passing_score"] == "" {
		t.Errorf("fields = %+v", env.Error)
	}

	_, env = do(t, r, http.MethodGet, "/api/v1/exams/history?from=2026-03-02T00:00:00Z&to=2026-03-01T00:00:00Z", nil)
	if env.Error == nil || env.Error.Fields["to"] == "" {
		t.Errorf("date range fields = %+v", env.Error)
	}
}

func TestMissingClaims(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exams/history", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestFailMapsServiceErrors(t *testing.T) {
	h := NewExamHandler(nil, zerolog.Nop())

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrInvalidExamRequest, http.StatusBadRequest, "INVALID_EXAM_REQUEST"},
		{service.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{service.ErrSessionClosed, http.StatusConflict, "SESSION_CLOSED"},
		{service.ErrSessionNotFinished, http.StatusConflict, "SESSION_NOT_FINISHED"},
		{service.ErrQuestionNotInSession, http.StatusBadRequest, "QUESTION_NOT_IN_SESSION"},
		{service.ErrContentNotFound, http.StatusNotFound, "CONTENT_NOT_FOUND"},
		{service.ErrContentUnavailable, http.StatusServiceUnavailable, "CONTENT_UNAVAILABLE"},
		{service.ErrConcurrentUpdate, http.StatusConflict, "CONFLICT"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		h.fail(c, fmt.Errorf("wrapped: %w", tt.err))

		var env envelope
		_ = json.Unmarshal(w.Body.Bytes(), &env)
		if w.Code != tt.status || env.Error == nil || env.Error.Code != tt.code {
			t.Errorf("%v: got %d %+v, want %d %s", tt.err, w.Code, env.Error, tt.status, tt.code)
		}
	}
}

func TestResolveLocaleRequest(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header map[string]string
		want   model.Locale
	}{
		{"default", "/", nil, model.LocaleUZL},
		{"header wins", "/?lang=en", map[string]string{HeaderLanguage: "ru", "Accept-Language": "en"}, model.LocaleRU},
		{"query", "/?lang=uzc", map[string]string{"Accept-Language": "ru"}, model.LocaleUZC},
		{"accept-language", "/", map[string]string{"Accept-Language": "fr-FR, en;q=0.7"}, model.LocaleEN},
		{"unknown header", "/", map[string]string{HeaderLanguage: "de"}, model.LocaleUZL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, tt.url, nil)
			for k, v := range tt.header {
				c.Request.Header.Set(k, v)
			}
			if got := ResolveLocale(c); got != tt.want {
				t.Errorf("locale = %s, want %s", got, tt.want)
			}
			if got := c.GetString(response.ContextKeyLocale); got != string(tt.want) {
				t.Errorf("metadata locale = %q, want %q", got, tt.want)
			}
		})
	}
}
