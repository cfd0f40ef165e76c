package model

import "encoding/json"

// Question is a single multiple-choice exam question with all locales loaded.
// CorrectOptionIndex and Explanation are never serialized from this type;
// responses go through NewExamQuestionResponse which applies visibility gating.
type Question struct {
	ID                 int64         `json:"id"`
	OrderIndex         int           `json:"order_index"`
	Text               LocalizedText `json:"text"`
	ImageURL           *string       `json:"image_url,omitempty"`
	Options            []Option      `json:"options"`
	CorrectOptionIndex int           `json:"-"`
	Explanation        LocalizedText `json:"-"`
	TopicID            *int64        `json:"topic_id,omitempty"`
}

// Option is one answer choice. Index is zero-based and shares the index
// space used for grading.
type Option struct {
	ID    int64         `json:"id"`
	Index int           `json:"index"`
	Text  LocalizedText `json:"text"`
}

// Clone returns a deep copy so a frozen session snapshot cannot alias catalog data.
func (q Question) Clone() Question {
	c := q
	if q.ImageURL != nil {
		img := *q.ImageURL
		c.ImageURL = &img
	}
	if q.TopicID != nil {
		tid := *q.TopicID
		c.TopicID = &tid
	}
	c.Options = make([]Option, len(q.Options))
	copy(c.Options, q.Options)
	return c
}

// Ticket is a predefined, ordered paper of questions inside a package.
type Ticket struct {
	ID          int64         `json:"id"`
	PackageID   int64         `json:"package_id"`
	Number      int           `json:"number"`
	Name        LocalizedText `json:"name"`
	QuestionIDs []int64       `json:"question_ids"`
}

// Package groups tickets and carries the exam defaults for them.
type Package struct {
	ID              int64         `json:"id"`
	Name            LocalizedText `json:"name"`
	TicketCount     int           `json:"ticket_count"`
	DurationMinutes int           `json:"duration_minutes"`
	PassingScore    int           `json:"passing_score"`
}

// Topic is a thematic question category (road signs, right of way, ...).
type Topic struct {
	ID   int64         `json:"id"`
	Name LocalizedText `json:"name"`
}

// questionSnapshot is the server-side storage shape of a Question. Unlike
// Question it carries the answer key, so it must only ever reach Redis or
// PostgreSQL, never an HTTP response.
type questionSnapshot struct {
	ID                 int64         `json:"id"`
	OrderIndex         int           `json:"order_index"`
	Text               LocalizedText `json:"text"`
	ImageURL           *string       `json:"image_url,omitempty"`
	Options            []Option      `json:"options"`
	CorrectOptionIndex int           `json:"correct_option_index"`
	Explanation        LocalizedText `json:"explanation"`
	TopicID            *int64        `json:"topic_id,omitempty"`
}

// EncodeQuestions serializes questions including their answer keys for
// storage (session snapshot, question cache).
func EncodeQuestions(questions []Question) ([]byte, error) {
	snaps := make([]questionSnapshot, len(questions))
	for i, q := range questions {
		snaps[i] = questionSnapshot(q)
	}
	return json.Marshal(snaps)
}

// DecodeQuestions is the inverse of EncodeQuestions.
func DecodeQuestions(data []byte) ([]Question, error) {
	var snaps []questionSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, err
	}
	questions := make([]Question, len(snaps))
	for i, s := range snaps {
		questions[i] = Question(s)
	}
	return questions, nil
}
