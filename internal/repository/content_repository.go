package repository

import (
	"context"
	"fmt"

	"github.com/avtotest/exam-backend/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContentRepository reads the exam catalog (packages, tickets, topics,
// questions). Content is managed by the admin tool; this side is read-only.
type ContentRepository struct {
	pool *pgxpool.Pool
}

// NewContentRepository creates a new ContentRepository.
func NewContentRepository(pool *pgxpool.Pool) *ContentRepository {
	return &ContentRepository{pool: pool}
}

const questionColumns = `q.id, q.topic_id, q.image_url, q.correct_option_index,
	q.text_uzl, q.text_uzc, q.text_ru, q.text_en,
	q.explanation_uzl, q.explanation_uzc, q.explanation_ru, q.explanation_en`

// GetPackage retrieves a package with its ticket count.
func (r *ContentRepository) GetPackage(ctx context.Context, id int64) (*model.Package, error) {
	p := &model.Package{}
	var uzc, ru, en *string
	var uzl string
	err := r.pool.QueryRow(ctx,
		`SELECT p.id, p.name_uzl, p.name_uzc, p.name_ru, p.name_en, p.duration_minutes, p.passing_score,
		        (SELECT COUNT(*) FROM tickets t WHERE t.package_id = p.id)
		 FROM packages p
		 WHERE p.id = $1`, id,
	).Scan(&p.ID, &uzl, &uzc, &ru, &en, &p.DurationMinutes, &p.PassingScore, &p.TicketCount)
	if err != nil {
		return nil, err
	}
	p.Name = model.NewLocalizedText(uzl, uzc, ru, en)
	return p, nil
}

// GetTicket retrieves a ticket with its ordered question IDs.
func (r *ContentRepository) GetTicket(ctx context.Context, id int64) (*model.Ticket, error) {
	t := &model.Ticket{}
	var uzc, ru, en *string
	var uzl string
	err := r.pool.QueryRow(ctx,
		`SELECT id, package_id, number, name_uzl, name_uzc, name_ru, name_en
		 FROM tickets WHERE id = $1`, id,
	).Scan(&t.ID, &t.PackageID, &t.Number, &uzl, &uzc, &ru, &en)
	if err != nil {
		return nil, err
	}
	t.Name = model.NewLocalizedText(uzl, uzc, ru, en)

	rows, err := r.pool.Query(ctx,
		`SELECT question_id FROM ticket_questions WHERE ticket_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	t.QuestionIDs, err = pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTopic retrieves a topic.
func (r *ContentRepository) GetTopic(ctx context.Context, id int64) (*model.Topic, error) {
	t := &model.Topic{}
	var uzc, ru, en *string
	var uzl string
	err := r.pool.QueryRow(ctx,
		`SELECT id, name_uzl, name_uzc, name_ru, name_en FROM topics WHERE id = $1`, id,
	).Scan(&t.ID, &uzl, &uzc, &ru, &en)
	if err != nil {
		return nil, err
	}
	t.Name = model.NewLocalizedText(uzl, uzc, ru, en)
	return t, nil
}

// ListTicketQuestions retrieves a ticket's questions in their stored order.
func (r *ContentRepository) ListTicketQuestions(ctx context.Context, ticketID int64) ([]model.Question, error) {
	return r.listQuestions(ctx,
		`SELECT tq.position, `+questionColumns+`
		 FROM ticket_questions tq
		 JOIN questions q ON q.id = tq.question_id
		 WHERE tq.ticket_id = $1 AND q.is_active
		 ORDER BY tq.position`, ticketID)
}

// ListPackageQuestions retrieves every active question of a package,
// optionally restricted to one topic.
func (r *ContentRepository) ListPackageQuestions(ctx context.Context, packageID int64, topicID *int64) ([]model.Question, error) {
	return r.listQuestions(ctx,
		`SELECT ROW_NUMBER() OVER (ORDER BY q.id)::int, `+questionColumns+`
		 FROM questions q
		 WHERE q.package_id = $1 AND q.is_active
		   AND ($2::bigint IS NULL OR q.topic_id = $2)
		 ORDER BY q.id`, packageID, topicID)
}

// ListTopicQuestions retrieves every active question of a topic across packages.
func (r *ContentRepository) ListTopicQuestions(ctx context.Context, topicID int64) ([]model.Question, error) {
	return r.listQuestions(ctx,
		`SELECT ROW_NUMBER() OVER (ORDER BY q.id)::int, `+questionColumns+`
		 FROM questions q
		 WHERE q.topic_id = $1 AND q.is_active
		 ORDER BY q.id`, topicID)
}

// ListMarathonQuestions retrieves every active question across packages.
func (r *ContentRepository) ListMarathonQuestions(ctx context.Context) ([]model.Question, error) {
	return r.listQuestions(ctx,
		`SELECT ROW_NUMBER() OVER (ORDER BY q.id)::int, `+questionColumns+`
		 FROM questions q
		 WHERE q.is_active
		 ORDER BY q.id`)
}

// listQuestions scans question rows, then attaches their options in one query.
func (r *ContentRepository) listQuestions(ctx context.Context, query string, args ...any) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var textUZL, explUZL string
		var textUZC, textRU, textEN, explUZC, explRU, explEN *string
		if err := rows.Scan(
			&q.OrderIndex, &q.ID, &q.TopicID, &q.ImageURL, &q.CorrectOptionIndex,
			&textUZL, &textUZC, &textRU, &textEN,
			&explUZL, &explUZC, &explRU, &explEN,
		); err != nil {
			return nil, err
		}
		q.Text = model.NewLocalizedText(textUZL, textUZC, textRU, textEN)
		q.Explanation = model.NewLocalizedText(explUZL, explUZC, explRU, explEN)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(questions) == 0 {
		return questions, nil
	}
	if err := r.attachOptions(ctx, questions); err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	return questions, nil
}

func (r *ContentRepository) attachOptions(ctx context.Context, questions []model.Question) error {
	ids := make([]int64, len(questions))
	byID := make(map[int64]int, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
		byID[q.ID] = i
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, question_id, option_index, text_uzl, text_uzc, text_ru, text_en
		 FROM question_options
		 WHERE question_id = ANY($1)
		 ORDER BY question_id, option_index`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var o model.Option
		var questionID int64
		var uzl string
		var uzc, ru, en *string
		if err := rows.Scan(&o.ID, &questionID, &o.Index, &uzl, &uzc, &ru, &en); err != nil {
			return err
		}
		o.Text = model.NewLocalizedText(uzl, uzc, ru, en)
		i := byID[questionID]
		questions[i].Options = append(questions[i].Options, o)
	}
	return rows.Err()
}
