package chat

import "time"

// Chat is a conversation: a member set plus its message log.
type Chat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Members   []string  `json:"members"`
	IsGroup   bool      `json:"isGroup"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasMember reports whether userID belongs to the chat.
func (c Chat) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// User is the minimal identity shape the real-time core needs.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	LastSeen  time.Time `json:"lastSeen,omitempty"`
}

// AsSender converts a user to its populated sender form.
func (u User) AsSender() Sender {
	return Sender{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}
