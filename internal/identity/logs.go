package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LogEntry is one recorded user action.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// LogStore keeps a Redis list of JSON-encoded LogEntry values per user
// under "logs:<name>".
type LogStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewLogStore(client *redis.Client) *LogStore {
	return &LogStore{client: client, now: time.Now}
}

func logKey(username string) string {
	return "logs:" + username
}

// Append records an action at the tail of the user's log.
func (s *LogStore) Append(ctx context.Context, username, action, details string) error {
	entry := LogEntry{
		Timestamp: s.now().UTC(),
		Action:    action,
		Details:   details,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	if err := s.client.RPush(ctx, logKey(username), raw).Err(); err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent entries, oldest first.
func (s *LogStore) Recent(ctx context.Context, username string, limit int64) ([]LogEntry, error) {
	raws, err := s.client.LRange(ctx, logKey(username), -limit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read log entries: %w", err)
	}
	return decodeEntries(raws)
}

// Range returns entries with timestamps strictly inside (start, end).
func (s *LogStore) Range(ctx context.Context, username string, start, end time.Time) ([]LogEntry, error) {
	raws, err := s.client.LRange(ctx, logKey(username), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read log entries: %w", err)
	}
	entries, err := decodeEntries(raws)
	if err != nil {
		return nil, err
	}

	filtered := entries[:0]
	for _, e := range entries {
		if e.Timestamp.After(start) && e.Timestamp.Before(end) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// Clear deletes the user's entire log.
func (s *LogStore) Clear(ctx context.Context, username string) error {
	if err := s.client.Del(ctx, logKey(username)).Err(); err != nil {
		return fmt.Errorf("clear log entries: %w", err)
	}
	return nil
}

func decodeEntries(raws []string) ([]LogEntry, error) {
	entries := make([]LogEntry, 0, len(raws))
	for _, raw := range raws {
		var e LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
