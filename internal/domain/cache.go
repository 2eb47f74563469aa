package domain

import (
	"context"
	"time"
)

// ReportCache keeps the most recent scan report for fast reads by the API.
// It is presentation state only; scans never read it back.
type ReportCache interface {
	SetLatest(ctx context.Context, result ScanResult) error
	GetLatest(ctx context.Context) (ScanResult, error)
}

// Lock is a held distributed lock. Release is idempotent.
type Lock interface {
	// Extend resets the remaining TTL. It returns ErrLockHeld when the lock
	// expired and is no longer owned by this holder.
	Extend(ctx context.Context, ttl time.Duration) error
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter throttles expensive API calls that fan out into RPC reads.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Bus names used by the monitor and its listeners.
const (
	ChannelScans = "scans"
	StreamScans  = "scan_events"
)

// ScanEvent is published after every completed scan.
type ScanEvent struct {
	Type        string   `json:"type"`
	ScanID      string   `json:"scan_id"`
	Mode        ScanMode `json:"mode"`
	Degraded    bool     `json:"degraded"`
	BlockNumber uint64   `json:"block_number"`
	Counts      Counts   `json:"counts"`
	Price       string   `json:"price"`
}
