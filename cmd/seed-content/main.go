package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/avtotest/exam-backend/internal/config"
	"github.com/avtotest/exam-backend/internal/database"
	"github.com/avtotest/exam-backend/internal/logger"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/term"
)

// seedText is a localized string in the content file. uzl is required; the
// other locales fall back to it when absent.
type seedText struct {
	UZL string  `json:"uzl"`
	UZC *string `json:"uzc"`
	RU  *string `json:"ru"`
	EN  *string `json:"en"`
}

type seedFile struct {
	Topics   []seedTopic   `json:"topics"`
	Packages []seedPackage `json:"packages"`
}

type seedTopic struct {
	Key  string   `json:"key"`
	Name seedText `json:"name"`
}

type seedPackage struct {
	Name            seedText       `json:"name"`
	DurationMinutes int            `json:"duration_minutes"`
	PassingScore    int            `json:"passing_score"`
	Questions       []seedQuestion `json:"questions"`
	Tickets         []seedTicket   `json:"tickets"`
}

type seedQuestion struct {
	Key                string     `json:"key"`
	Topic              string     `json:"topic"`
	ImageURL           *string    `json:"image_url"`
	Text               seedText   `json:"text"`
	Explanation        seedText   `json:"explanation"`
	CorrectOptionIndex int        `json:"correct_option_index"`
	Options            []seedText `json:"options"`
}

type seedTicket struct {
	Number    int      `json:"number"`
	Name      seedText `json:"name"`
	Questions []string `json:"questions"`
}

func main() {
	var (
		file       string
		wipe       bool
		yes        bool
		flushCache bool
	)
	flag.StringVar(&file, "file", "content.json", "Path to the content JSON file")
	flag.BoolVar(&wipe, "wipe", false, "Delete all existing content (and exam sessions) first")
	flag.BoolVar(&yes, "yes", false, "Skip the confirmation prompt for -wipe")
	flag.BoolVar(&flushCache, "flush-cache", true, "Drop cached questions and packages after seeding")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat).With().Str("component", "seed_content").Logger()

	content, err := readContent(file)
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Invalid content file")
	}

	if wipe && !yes && !confirm("This deletes ALL content and exam sessions. Continue?") {
		log.Info().Msg("Aborted")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if wipe {
		if _, err := tx.Exec(ctx,
			`TRUNCATE exam_sessions, ticket_questions, question_options, questions, tickets, topics, packages RESTART IDENTITY`); err != nil {
			log.Fatal().Err(err).Msg("Failed to wipe content")
		}
		log.Warn().Msg("Existing content wiped")
	}

	stats, err := seed(ctx, tx, content)
	if err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to commit")
	}

	log.Info().
		Int("topics", stats.topics).
		Int("packages", stats.packages).
		Int("tickets", stats.tickets).
		Int("questions", stats.questions).
		Msg("Content seeded")

	if flushCache {
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Warn().Err(err).Msg("Cache not flushed; cached content expires on its own")
			return
		}
		defer rdb.Close()

		n, err := flushContentCache(ctx, rdb)
		if err != nil {
			log.Warn().Err(err).Msg("Cache flush incomplete")
		}
		log.Info().Int("keys", n).Msg("Content cache flushed")
	}
}

func readContent(path string) (*seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var content seedFile
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	topics := make(map[string]bool, len(content.Topics))
	for _, t := range content.Topics {
		if t.Key == "" || t.Name.UZL == "" {
			return nil, fmt.Errorf("topic %q: key and name.uzl are required", t.Key)
		}
		topics[t.Key] = true
	}

	for pi, p := range content.Packages {
		if p.Name.UZL == "" {
			return nil, fmt.Errorf("package #%d: name.uzl is required", pi+1)
		}
		keys := make(map[string]bool, len(p.Questions))
		for _, q := range p.Questions {
			switch {
			case q.Key == "" || keys[q.Key]:
				return nil, fmt.Errorf("package %q: question key %q is empty or duplicated", p.Name.UZL, q.Key)
			case q.Text.UZL == "":
				return nil, fmt.Errorf("question %q: text.uzl is required", q.Key)
			case len(q.Options) < 2:
				return nil, fmt.Errorf("question %q: at least two options are required", q.Key)
			case q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= len(q.Options):
				return nil, fmt.Errorf("question %q: correct_option_index %d out of range", q.Key, q.CorrectOptionIndex)
			case q.Topic != "" && !topics[q.Topic]:
				return nil, fmt.Errorf("question %q: unknown topic %q", q.Key, q.Topic)
			}
			keys[q.Key] = true
		}
		for _, t := range p.Tickets {
			for _, k := range t.Questions {
				if !keys[k] {
					return nil, fmt.Errorf("ticket %d: unknown question %q", t.Number, k)
				}
			}
		}
	}
	return &content, nil
}

type seedStats struct {
	topics, packages, tickets, questions int
}

func seed(ctx context.Context, tx pgx.Tx, content *seedFile) (seedStats, error) {
	var st seedStats

	topicIDs := make(map[string]int64, len(content.Topics))
	for _, t := range content.Topics {
		var id int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO topics (name_uzl, name_uzc, name_ru, name_en) VALUES ($1, $2, $3, $4) RETURNING id`,
			t.Name.UZL, t.Name.UZC, t.Name.RU, t.Name.EN).Scan(&id); err != nil {
			return st, fmt.Errorf("insert topic %q: %w", t.Key, err)
		}
		topicIDs[t.Key] = id
		st.topics++
	}

	for _, p := range content.Packages {
		duration, passing := p.DurationMinutes, p.PassingScore
		if duration <= 0 {
			duration = 25
		}
		if passing <= 0 {
			passing = 90
		}

		var packageID int64
		if err := tx.QueryRow(ctx,
			`INSERT INTO packages (name_uzl, name_uzc, name_ru, name_en, duration_minutes, passing_score)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			p.Name.UZL, p.Name.UZC, p.Name.RU, p.Name.EN, duration, passing).Scan(&packageID); err != nil {
			return st, fmt.Errorf("insert package %q: %w", p.Name.UZL, err)
		}
		st.packages++

		questionIDs := make(map[string]int64, len(p.Questions))
		for _, q := range p.Questions {
			var topicID *int64
			if id, ok := topicIDs[q.Topic]; ok {
				topicID = &id
			}

			var questionID int64
			if err := tx.QueryRow(ctx,
				`INSERT INTO questions (package_id, topic_id, image_url, correct_option_index,
				   text_uzl, text_uzc, text_ru, text_en,
				   explanation_uzl, explanation_uzc, explanation_ru, explanation_en)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
				packageID, topicID, q.ImageURL, q.CorrectOptionIndex,
				q.Text.UZL, q.Text.UZC, q.Text.RU, q.Text.EN,
				q.Explanation.UZL, q.Explanation.UZC, q.Explanation.RU, q.Explanation.EN,
			).Scan(&questionID); err != nil {
				return st, fmt.Errorf("insert question %q: %w", q.Key, err)
			}

			rows := make([][]any, len(q.Options))
			for i, o := range q.Options {
				rows[i] = []any{questionID, i, o.UZL, o.UZC, o.RU, o.EN}
			}
			if _, err := tx.CopyFrom(ctx,
				pgx.Identifier{"question_options"},
				[]string{"question_id", "option_index", "text_uzl", "text_uzc", "text_ru", "text_en"},
				pgx.CopyFromRows(rows)); err != nil {
				return st, fmt.Errorf("insert options of %q: %w", q.Key, err)
			}

			questionIDs[q.Key] = questionID
			st.questions++
		}

		for _, t := range p.Tickets {
			name := t.Name
			if name.UZL == "" {
				name.UZL = fmt.Sprintf("Bilet %d", t.Number)
			}

			var ticketID int64
			if err := tx.QueryRow(ctx,
				`INSERT INTO tickets (package_id, number, name_uzl, name_uzc, name_ru, name_en)
				 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
				packageID, t.Number, name.UZL, name.UZC, name.RU, name.EN).Scan(&ticketID); err != nil {
				return st, fmt.Errorf("insert ticket %d: %w", t.Number, err)
			}

			batch := &pgx.Batch{}
			for pos, k := range t.Questions {
				batch.Queue(`INSERT INTO ticket_questions (ticket_id, question_id, position) VALUES ($1, $2, $3)`,
					ticketID, questionIDs[k], pos+1)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return st, fmt.Errorf("link questions of ticket %d: %w", t.Number, err)
			}
			st.tickets++
		}
	}
	return st, nil
}

// flushContentCache deletes cached question pools and content metadata.
func flushContentCache(ctx context.Context, rdb *redis.Client) (int, error) {
	deleted := 0
	for _, category := range []config.CacheCategory{config.CacheQuestions, config.CachePackages} {
		iter := rdb.Scan(ctx, 0, category.Key("*"), 500).Iterator()
		for iter.Next(ctx) {
			if err := rdb.Del(ctx, iter.Val()).Err(); err != nil {
				return deleted, err
			}
			deleted++
		}
		if err := iter.Err(); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// confirm asks a yes/no question on an interactive terminal. Without a
// terminal the answer is no; pass -yes for scripted runs.
func confirm(question string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "stdin is not a terminal; pass -yes to confirm -wipe")
		return false
	}
	fmt.Printf("%s [y/N]: ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
