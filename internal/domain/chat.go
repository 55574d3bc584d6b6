package domain

import (
	"strconv"
	"time"
)

// Chat is a persisted conversation transcript.
type Chat struct {
	ID        string    `json:"id"         db:"id"`
	Author    string    `json:"author"     db:"author"`
	Messages  []Message `json:"messages"   db:"messages"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HistoryFragmentID is the id of the chat-history fragment recorded for the
// message at position count (1-based) of a chat.
func HistoryFragmentID(chatID string, count int) string {
	return "chat-" + chatID + "-" + strconv.Itoa(count)
}

// DocumentPath is the owner-scoped source path of an uploaded file.
func DocumentPath(ownerID, filename string) string {
	return ownerID + "/" + filename
}

// DocumentFragmentID is the id of the index-th fragment of a document.
func DocumentFragmentID(sourcePath string, index int) string {
	return sourcePath + "/" + strconv.Itoa(index)
}
