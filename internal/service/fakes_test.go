package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/avtotest/exam-backend/internal/config"
	"github.com/avtotest/exam-backend/internal/model"
	"github.com/avtotest/exam-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// fakeCatalog is an in-memory ContentCatalog.
type fakeCatalog struct {
	packages  map[int64]*model.Package
	tickets   map[int64]*model.Ticket
	topics    map[int64]*model.Topic
	byPackage map[int64][]model.Question
	byID      map[int64]model.Question

	mu    sync.Mutex
	calls int
	err   error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		packages:  map[int64]*model.Package{},
		tickets:   map[int64]*model.Ticket{},
		topics:    map[int64]*model.Topic{},
		byPackage: map[int64][]model.Question{},
		byID:      map[int64]model.Question{},
	}
}

func (c *fakeCatalog) addQuestions(packageID int64, qs ...model.Question) {
	for _, q := range qs {
		c.byPackage[packageID] = append(c.byPackage[packageID], q)
		c.byID[q.ID] = q
	}
}

func (c *fakeCatalog) hit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *fakeCatalog) GetPackage(_ context.Context, id int64) (*model.Package, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	p, ok := c.packages[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (c *fakeCatalog) GetTicket(_ context.Context, id int64) (*model.Ticket, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	t, ok := c.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (c *fakeCatalog) GetTopic(_ context.Context, id int64) (*model.Topic, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	t, ok := c.topics[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (c *fakeCatalog) ListTicketQuestions(_ context.Context, ticketID int64) ([]model.Question, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	var out []model.Question
	for _, id := range c.tickets[ticketID].QuestionIDs {
		out = append(out, c.byID[id].Clone())
	}
	return out, nil
}

func (c *fakeCatalog) ListPackageQuestions(_ context.Context, packageID int64, topicID *int64) ([]model.Question, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	var out []model.Question
	for _, q := range c.byPackage[packageID] {
		if topicID != nil && (q.TopicID == nil || *q.TopicID != *topicID) {
			continue
		}
		out = append(out, q.Clone())
	}
	return out, nil
}

func (c *fakeCatalog) ListTopicQuestions(_ context.Context, topicID int64) ([]model.Question, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	var out []model.Question
	for _, qs := range c.byPackage {
		for _, q := range qs {
			if q.TopicID != nil && *q.TopicID == topicID {
				out = append(out, q.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *fakeCatalog) ListMarathonQuestions(context.Context) ([]model.Question, error) {
	if err := c.hit(); err != nil {
		return nil, err
	}
	var out []model.Question
	for _, q := range c.byID {
		out = append(out, q.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeStore is an in-memory SessionStore with the same optimistic version
// check as the PostgreSQL repository. Sessions are deep-copied on the way in
// and out so tests cannot mutate stored state by accident.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.ExamSession
	updates  int
	now      func() time.Time
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{sessions: map[uuid.UUID]*model.ExamSession{}, now: now}
}

// effectiveStatus is the status filters see: overdue open sessions read as
// EXPIRED, as in the SQL queries.
func (s *fakeStore) effectiveStatus(sess *model.ExamSession) model.ExamStatus {
	if !sess.Status.IsTerminal() && sess.IsDue(s.now()) {
		return model.ExamStatusExpired
	}
	return sess.Status
}

func copySession(s *model.ExamSession) *model.ExamSession {
	cp := *s
	cp.Questions = make([]model.Question, len(s.Questions))
	for i, q := range s.Questions {
		cp.Questions[i] = q.Clone()
	}
	cp.Answers = make(map[int64]model.AnswerRecord, len(s.Answers))
	for k, v := range s.Answers {
		cp.Answers[k] = v
	}
	if s.FinishedAt != nil {
		f := *s.FinishedAt
		cp.FinishedAt = &f
	}
	return &cp
}

func (s *fakeStore) Create(_ context.Context, sess *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("duplicate session %s", sess.ID)
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copySession(sess), nil
}

func (s *fakeStore) Update(_ context.Context, sess *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok || cur.Version != sess.Version {
		return repository.ErrStaleSession
	}
	sess.Version++
	s.sessions[sess.ID] = copySession(sess)
	s.updates++
	return nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID int64, f model.HistoryFilter, limit, offset int) ([]model.ExamSession, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []model.ExamSession
	for _, sess := range s.sessions {
		if sess.UserID != userID {
			continue
		}
		if f.PackageID != nil && (sess.PackageID == nil || *sess.PackageID != *f.PackageID) {
			continue
		}
		if f.Status != nil && s.effectiveStatus(sess) != *f.Status {
			continue
		}
		all = append(all, *copySession(sess))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (s *fakeStore) ListCompletedByUserAndPackage(_ context.Context, userID, packageID int64) ([]model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ExamSession
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.PackageID != nil && *sess.PackageID == packageID && s.effectiveStatus(sess).IsCompleted() {
			out = append(out, *copySession(sess))
		}
	}
	return out, nil
}

// put overwrites a stored session, bypassing the version check.
func (s *fakeStore) put(sess *model.ExamSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = copySession(sess)
}

func (s *fakeStore) get(t *testing.T, id uuid.UUID) *model.ExamSession {
	t.Helper()
	sess, err := s.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("session %s not stored: %v", id, err)
	}
	return sess
}

var errCacheDown = errors.New("cache down")

// fakeCache is an in-memory Cache. With down set every call fails.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	down bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, false, errCacheDown
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errCacheDown
	}
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errCacheDown
	}
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func identityPerm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

// Fixture content: package 1 with ticket 10 (questions 101..105 in order),
// topic 7 on questions 101 and 102. Correct option of question 10x is x%3.
const (
	testPackageID = int64(1)
	testTicketID  = int64(10)
	testTopicID   = int64(7)
	testUserID    = int64(42)
)

func fixtureQuestion(id int64, topic *int64) model.Question {
	ru := fmt.Sprintf("Вопрос %d", id)
	return model.Question{
		ID:   id,
		Text: model.NewLocalizedText(fmt.Sprintf("Savol %d", id), nil, &ru, nil),
		Options: []model.Option{
			{ID: id*10 + 0, Index: 0, Text: model.LocalizedText{UZL: "A"}},
			{ID: id*10 + 1, Index: 1, Text: model.LocalizedText{UZL: "B"}},
			{ID: id*10 + 2, Index: 2, Text: model.LocalizedText{UZL: "C"}},
		},
		CorrectOptionIndex: int(id % 3),
		Explanation:        model.LocalizedText{UZL: "Izoh", RU: "Пояснение"},
		TopicID:            topic,
	}
}

type fixture struct {
	svc     *ExamSessionService
	catalog *fakeCatalog
	store   *fakeStore
	cache   *fakeCache
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog := newFakeCatalog()
	topic := testTopicID
	catalog.packages[testPackageID] = &model.Package{
		ID:              testPackageID,
		Name:            model.LocalizedText{UZL: "A toifa", RU: "Категория A"},
		TicketCount:     2,
		DurationMinutes: 25,
		PassingScore:    90,
	}
	catalog.topics[testTopicID] = &model.Topic{ID: testTopicID, Name: model.LocalizedText{UZL: "Belgilar"}}
	catalog.addQuestions(testPackageID,
		fixtureQuestion(101, &topic),
		fixtureQuestion(102, &topic),
		fixtureQuestion(103, nil),
		fixtureQuestion(104, nil),
		fixtureQuestion(105, nil),
	)
	catalog.tickets[testTicketID] = &model.Ticket{
		ID:          testTicketID,
		PackageID:   testPackageID,
		Number:      1,
		Name:        model.LocalizedText{UZL: "Bilet 1"},
		QuestionIDs: []int64{101, 102, 103, 104, 105},
	}

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := newFakeStore(clock.Now)
	cache := newFakeCache()

	svc := NewExamSessionService(catalog, store, cache, config.ExamConfig{
		MaxQuestionCount:       100,
		DefaultQuestionCount:   20,
		DefaultDurationMinutes: 20,
		DefaultPassingScore:    80,
	}, zerolog.Nop())
	svc.now = clock.Now
	svc.perm = identityPerm

	return &fixture{svc: svc, catalog: catalog, store: store, cache: cache, clock: clock}
}

func (f *fixture) startTicket(t *testing.T, visible bool) *model.ExamResponse {
	t.Helper()
	id := testTicketID
	exam, err := f.svc.StartExam(context.Background(), testUserID, model.StartExamRequest{
		TicketID:       &id,
		VisibilityMode: visible,
	}, model.Renderer{Locale: model.LocaleUZL})
	if err != nil {
		t.Fatalf("StartExam: %v", err)
	}
	return exam
}

func (f *fixture) answer(t *testing.T, sessionID uuid.UUID, questionID int64, selected *int, spent int) *model.CheckAnswerResponse {
	t.Helper()
	res, err := f.svc.SubmitAnswer(context.Background(), testUserID, sessionID, model.SubmitAnswerRequest{
		QuestionID:          questionID,
		SelectedOptionIndex: selected,
		TimeSpentSeconds:    spent,
	}, model.LocaleUZL)
	if err != nil {
		t.Fatalf("SubmitAnswer(%d): %v", questionID, err)
	}
	return res
}

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }
