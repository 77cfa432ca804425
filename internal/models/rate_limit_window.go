package models

// RateLimitWindow is the SQL rate limiter's fixed-window counter. WindowStart
// is stored as unix milliseconds so both sqlite and postgres compare it numerically.
type RateLimitWindow struct {
	Identifier  string `gorm:"primaryKey;size:255"`
	WindowStart int64  `gorm:"not null"`
	Count       int64  `gorm:"not null;default:0"`
}
