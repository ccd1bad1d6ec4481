// Package stats keeps volatile usage counters for the admin dashboard.
package stats

import (
	"sort"
	"sync"
	"time"
)

// DefaultCapacity bounds the conversation log.
const DefaultCapacity = 100

const dayLayout = "2006-01-02"

// DayStats is one calendar day's bucket.
type DayStats struct {
	Date     string `json:"date"`
	Messages int    `json:"messages"`
	Tokens   int    `json:"tokens"`
}

// UserStats is a user's running totals.
type UserStats struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Messages int       `json:"messages"`
	Tokens   int       `json:"tokens"`
	LastUsed time.Time `json:"lastUsed"`
}

// Entry is one bot exchange in the conversation log.
type Entry struct {
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	UserMessage string    `json:"userMessage"`
	BotResponse string    `json:"botResponse"`
	TokensUsed  int       `json:"tokensUsed"`
	At          time.Time `json:"at"`
}

// Snapshot is the dashboard read model.
type Snapshot struct {
	TotalMessages int         `json:"totalMessages"`
	TotalTokens   int         `json:"totalTokens"`
	Today         DayStats    `json:"today"`
	Days          []DayStats  `json:"days"`
	Users         []UserStats `json:"users"`
	Log           []Entry     `json:"log"`
}

// Options tunes an Aggregator. Zero values mean UTC, DefaultCapacity and time.Now.
type Options struct {
	Location *time.Location
	Capacity int
	Now      func() time.Time
}

// Aggregator is an in-memory usage recorder. It is append-only apart from
// log eviction once Capacity entries are held.
type Aggregator struct {
	loc      *time.Location
	capacity int
	now      func() time.Time

	mu            sync.RWMutex
	totalMessages int
	totalTokens   int
	days          map[string]*DayStats
	users         map[string]*UserStats
	log           []Entry
}

// NewAggregator creates an empty aggregator.
func NewAggregator(opts Options) *Aggregator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		loc:      opts.Location,
		capacity: opts.Capacity,
		now:      opts.Now,
		days:     make(map[string]*DayStats),
		users:    make(map[string]*UserStats),
	}
}

// Record counts one bot exchange.
func (a *Aggregator) Record(userID, userName, userMessage, botResponse string, tokensUsed int) {
	if tokensUsed < 0 {
		tokensUsed = 0
	}
	at := a.now()
	key := a.dayKey(at)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalMessages++
	a.totalTokens += tokensUsed

	day, ok := a.days[key]
	if !ok {
		day = &DayStats{Date: key}
		a.days[key] = day
	}
	day.Messages++
	day.Tokens += tokensUsed

	user, ok := a.users[userID]
	if !ok {
		user = &UserStats{UserID: userID}
		a.users[userID] = user
	}
	if userName != "" {
		user.UserName = userName
	}
	user.Messages++
	user.Tokens += tokensUsed
	user.LastUsed = at

	entry := Entry{
		UserID:      userID,
		UserName:    userName,
		UserMessage: userMessage,
		BotResponse: botResponse,
		TokensUsed:  tokensUsed,
		At:          at,
	}
	a.log = append(a.log, Entry{})
	copy(a.log[1:], a.log)
	a.log[0] = entry
	if len(a.log) > a.capacity {
		a.log = a.log[:a.capacity]
	}
}

// Snapshot returns a copy of every counter. Days are oldest first, users
// by message count.
func (a *Aggregator) Snapshot() Snapshot {
	today := a.dayKey(a.now())

	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{
		TotalMessages: a.totalMessages,
		TotalTokens:   a.totalTokens,
		Today:         DayStats{Date: today},
		Days:          make([]DayStats, 0, len(a.days)),
		Users:         make([]UserStats, 0, len(a.users)),
		Log:           append([]Entry(nil), a.log...),
	}
	if day, ok := a.days[today]; ok {
		snap.Today = *day
	}
	for _, day := range a.days {
		snap.Days = append(snap.Days, *day)
	}
	for _, user := range a.users {
		snap.Users = append(snap.Users, *user)
	}

	sort.Slice(snap.Days, func(i, j int) bool { return snap.Days[i].Date < snap.Days[j].Date })
	sort.Slice(snap.Users, func(i, j int) bool {
		if snap.Users[i].Messages != snap.Users[j].Messages {
			return snap.Users[i].Messages > snap.Users[j].Messages
		}
		return snap.Users[i].UserID < snap.Users[j].UserID
	})
	return snap
}

// UserLog returns the retained log entries of userID, newest first.
func (a *Aggregator) UserLog(userID string) []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Entry, 0)
	for _, entry := range a.log {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	return out
}

// User returns a user's totals.
func (a *Aggregator) User(userID string) (UserStats, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	user, ok := a.users[userID]
	if !ok {
		return UserStats{}, false
	}
	return *user, true
}

func (a *Aggregator) dayKey(t time.Time) string {
	return t.In(a.loc).Format(dayLayout)
}
