// Package notify is the notification boundary: reads and mark-as-read are
// always scoped to the resolved principal id, delivery happens off-request.
package notify

import (
	"errors"
	"time"
)

// ErrNotFound indicates the notification does not exist or belongs to
// someone else. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("notify: not found")

// Notification is a single inbox entry.
type Notification struct {
	ID        string
	UserID    string
	Kind      string
	Title     string
	Body      string
	ReadAt    *time.Time
	CreatedAt time.Time
}

// Unread reports whether the notification is still unread.
func (n Notification) Unread() bool {
	return n.ReadAt == nil
}
