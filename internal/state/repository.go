package state

import (
	"context"
	"fmt"
	"strconv"
)

// Field names, stored as "{account}.{field}"
const (
	FieldLastID       = "last_id"
	FieldSuppressNext = "suppress_next_result"
	FieldSeenBefore   = "seen_before"
)

// Record is the typed view of one account's watch state
type Record struct {
	Account      string `json:"account"`
	LastID       uint32 `json:"last_id"`
	SuppressNext bool   `json:"suppress_next_result"`
	SeenBefore   bool   `json:"seen_before"`
}

// Repository reads and writes per-account state on top of a KV
type Repository struct {
	kv KV
}

func NewRepository(kv KV) *Repository {
	return &Repository{kv: kv}
}

func Key(account, field string) string {
	return account + "." + field
}

// Watermark returns the highest message UID processed for account, 0 if none
func (r *Repository) Watermark(ctx context.Context, account string) (uint32, error) {
	v, ok, err := r.kv.Get(ctx, Key(account, FieldLastID))
	if err != nil || !ok {
		return 0, err
	}
	id, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("corrupt watermark for %s: %w", account, err)
	}
	return uint32(id), nil
}

// AdvanceWatermark stores id if it is greater than the current watermark.
// It reports whether the watermark moved.
func (r *Repository) AdvanceWatermark(ctx context.Context, account string, id uint32) (bool, error) {
	advanced := false
	err := r.kv.Update(ctx, Key(account, FieldLastID), func(old string, exists bool) (string, bool, error) {
		if exists {
			cur, err := strconv.ParseUint(old, 10, 32)
			if err != nil {
				return "", false, fmt.Errorf("corrupt watermark for %s: %w", account, err)
			}
			if uint64(id) <= cur {
				return "", false, nil
			}
		}
		advanced = true
		return strconv.FormatUint(uint64(id), 10), true, nil
	})
	return advanced, err
}

func (r *Repository) getBool(ctx context.Context, account, field string) (bool, error) {
	v, ok, err := r.kv.Get(ctx, Key(account, field))
	if err != nil || !ok {
		return false, err
	}
	return v == "1", nil
}

func (r *Repository) setBool(ctx context.Context, account, field string, value bool) error {
	v := "0"
	if value {
		v = "1"
	}
	return r.kv.Set(ctx, Key(account, field), v)
}

// SuppressNext reports whether the next password-changed notice is our own echo
func (r *Repository) SuppressNext(ctx context.Context, account string) (bool, error) {
	return r.getBool(ctx, account, FieldSuppressNext)
}

func (r *Repository) SetSuppressNext(ctx context.Context, account string, suppress bool) error {
	return r.setBool(ctx, account, FieldSuppressNext, suppress)
}

// ConsumeSuppress clears the suppress flag and reports whether it was set
func (r *Repository) ConsumeSuppress(ctx context.Context, account string) (bool, error) {
	was := false
	err := r.kv.Update(ctx, Key(account, FieldSuppressNext), func(old string, exists bool) (string, bool, error) {
		if !exists || old != "1" {
			return "", false, nil
		}
		was = true
		return "0", true, nil
	})
	return was, err
}

func (r *Repository) SeenBefore(ctx context.Context, account string) (bool, error) {
	return r.getBool(ctx, account, FieldSeenBefore)
}

// MarkSeen sets seen_before and reports whether this was the first time
func (r *Repository) MarkSeen(ctx context.Context, account string) (bool, error) {
	first := false
	err := r.kv.Update(ctx, Key(account, FieldSeenBefore), func(old string, exists bool) (string, bool, error) {
		if exists && old == "1" {
			return "", false, nil
		}
		first = true
		return "1", true, nil
	})
	return first, err
}

// ForgetSeen clears seen_before, done for every account at process start
func (r *Repository) ForgetSeen(ctx context.Context, account string) error {
	return r.kv.Delete(ctx, Key(account, FieldSeenBefore))
}

// Snapshot returns the full record for account
func (r *Repository) Snapshot(ctx context.Context, account string) (Record, error) {
	rec := Record{Account: account}
	var err error
	if rec.LastID, err = r.Watermark(ctx, account); err != nil {
		return rec, err
	}
	if rec.SuppressNext, err = r.SuppressNext(ctx, account); err != nil {
		return rec, err
	}
	if rec.SeenBefore, err = r.SeenBefore(ctx, account); err != nil {
		return rec, err
	}
	return rec, nil
}

// Reset removes every field for account
func (r *Repository) Reset(ctx context.Context, account string) error {
	for _, field := range []string{FieldLastID, FieldSuppressNext, FieldSeenBefore} {
		if err := r.kv.Delete(ctx, Key(account, field)); err != nil {
			return err
		}
	}
	return nil
}
