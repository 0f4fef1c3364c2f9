package content

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metrics are the externally sourced counters cached on an account.
type Metrics struct {
	Followers  int64
	Following  int64
	PostsCount int64
}

// Account is a connected social account.
type Account struct {
	ID        string
	UserID    string
	Platform  string
	Handle    string
	ChannelID string // platform-side target (e.g. a chat id)
	Connected bool
	Metrics   Metrics
	LastSync  *time.Time
}

// AutomationConfig holds the per-account automation settings.
type AutomationConfig struct {
	AccountID       string
	Active          bool
	AutoGenerate    bool
	RequireApproval bool
	Topics          []string
	PostTimes       []string // "HH:MM" slots
}

// Validate reports the first malformed field as a *ConfigError.
func (c AutomationConfig) Validate() error {
	if len(c.Topics) == 0 {
		return &ConfigError{AccountID: c.AccountID, Field: "topics", Reason: "empty"}
	}
	for _, t := range c.Topics {
		if strings.TrimSpace(t) == "" {
			return &ConfigError{AccountID: c.AccountID, Field: "topics", Reason: "blank topic"}
		}
	}
	if len(c.PostTimes) == 0 {
		return &ConfigError{AccountID: c.AccountID, Field: "post_times", Reason: "empty"}
	}
	for _, slot := range c.PostTimes {
		if _, _, err := ParseSlot(slot); err != nil {
			return &ConfigError{AccountID: c.AccountID, Field: "post_times", Reason: err.Error()}
		}
	}
	return nil
}

// MatchesSlot reports whether t (already in the scheduler's location) falls on one of the slots.
func (c AutomationConfig) MatchesSlot(t time.Time) bool {
	for _, slot := range c.PostTimes {
		h, m, err := ParseSlot(slot)
		if err != nil {
			continue
		}
		if t.Hour() == h && t.Minute() == m {
			return true
		}
	}
	return false
}

// ParseSlot parses a time-of-day slot "HH:MM".
func ParseSlot(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid slot %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
