package config

import (
	"fmt"
	"strings"
	"time"
)

// CacheCategory is the leading segment of a cache key. Each category has a
// fixed TTL.
type CacheCategory string

const (
	CacheQuestions    CacheCategory = "questions"
	CachePackages     CacheCategory = "packages"
	CacheUserStats    CacheCategory = "user-stats"
	CacheLeaderboard  CacheCategory = "leaderboard"
	CacheTranslations CacheCategory = "translations"
)

var cacheTTLs = map[CacheCategory]time.Duration{
	CacheQuestions:    3600 * time.Second,
	CachePackages:     1800 * time.Second,
	CacheUserStats:    600 * time.Second,
	CacheLeaderboard:  300 * time.Second,
	CacheTranslations: 86400 * time.Second,
}

// TTL returns the category's fixed time-to-live.
func (c CacheCategory) TTL() time.Duration {
	return cacheTTLs[c]
}

// Key builds "{category}:{param1}:{param2}...".
func (c CacheCategory) Key(params ...any) string {
	var b strings.Builder
	b.WriteString(string(c))
	for _, p := range params {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TicketQuestionsKey returns the cache key for a ticket's ordered questions
func (r *CacheKeyStruct) TicketQuestionsKey(ticketID int64) string {
	return CacheQuestions.Key("ticket", ticketID)
}

// PackageQuestionsKey returns the cache key for all questions of a package
func (r *CacheKeyStruct) PackageQuestionsKey(packageID int64) string {
	return CacheQuestions.Key("package", packageID)
}

// TopicQuestionsKey returns the cache key for all questions of a topic
func (r *CacheKeyStruct) TopicQuestionsKey(topicID int64) string {
	return CacheQuestions.Key("topic", topicID)
}

// MarathonQuestionsKey returns the cache key for the cross-package marathon pool
func (r *CacheKeyStruct) MarathonQuestionsKey() string {
	return CacheQuestions.Key("marathon")
}

// PackageKey returns the cache key for a package's metadata
func (r *CacheKeyStruct) PackageKey(packageID int64) string {
	return CachePackages.Key(packageID)
}

// TicketKey returns the cache key for a ticket's metadata
func (r *CacheKeyStruct) TicketKey(ticketID int64) string {
	return CachePackages.Key("ticket", ticketID)
}

// TopicKey returns the cache key for a topic's metadata
func (r *CacheKeyStruct) TopicKey(topicID int64) string {
	return CachePackages.Key("topic", topicID)
}

// UserPackageStatsKey returns the cache key for a user's rollup of one package in one locale
func (r *CacheKeyStruct) UserPackageStatsKey(userID, packageID int64, locale string) string {
	return CacheUserStats.Key(userID, packageID, locale)
}

var CacheKey = NewCacheKeyStruct()
