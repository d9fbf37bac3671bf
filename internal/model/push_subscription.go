package model

import "time"

// PushSubscription is a browser Web Push endpoint registered by a recipient.
type PushSubscription struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Endpoint    string    `json:"endpoint"`
	P256dh      string    `json:"p256dh"`
	Auth        string    `json:"auth"`
	CreatedAt   time.Time `json:"created_at"`
}
