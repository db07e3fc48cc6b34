package models

import "time"

// ShortLink maps a public download token to a stored document path. The
// public URL keeps a ".pdf" suffix on the token because at least one
// delivery channel sniffs media type from the URL.
type ShortLink struct {
	ID        int64     `db:"id" json:"id"`
	Token     string    `db:"token" json:"token"`
	FilePath  string    `db:"file_path" json:"file_path"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Downloads int       `db:"downloads" json:"downloads"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the link is past its expiry.
func (l *ShortLink) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
