// Package courier holds the notification delivery capabilities. Each
// courier performs one channel (email, push) and owns the timeout bounding
// a single delivery attempt; the delivery worker decides retries.
//
// Couriers must be safe to retry: delivery is at-least-once, never
// guaranteed at-most-once.
package courier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nestwatch/internal/alert"
)

var ErrNoRecipient = errors.New("recipient has no address for this channel")

// Recipient is the guardian contact record resolved per alert user.
type Recipient struct {
	UserID         string
	Email          string
	PushToken      string
	TelegramChatID int64
}

// Courier delivers one alert to one recipient over one channel.
// A nil return means the notification was handed to the channel.
type Courier interface {
	Name() string
	Deliver(ctx context.Context, r Recipient, a *alert.Alert) error
}

// Directory resolves the guardian contact for a monitored user.
type Directory interface {
	Lookup(userID string) (Recipient, bool)
}

// StaticDirectory is a config-backed Directory.
type StaticDirectory map[string]Recipient

func (d StaticDirectory) Lookup(userID string) (Recipient, bool) {
	r, ok := d[userID]
	return r, ok
}

// renderText formats the alert body shared by the text-based channels.
func renderText(a *alert.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n\n", strings.ToUpper(string(a.Priority)), a.Title)
	if a.Description != "" {
		b.WriteString(a.Description)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Type: %s\n", a.Type)
	fmt.Fprintf(&b, "When: %s\n", a.OccurredAt.Format("2006-01-02 15:04 MST"))
	if a.DeviceID != "" {
		fmt.Fprintf(&b, "Device: %s\n", a.DeviceID)
	}
	fmt.Fprintf(&b, "Alert id: %s\n", a.ID)
	return b.String()
}
