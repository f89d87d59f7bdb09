package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestErrorMatchesSentinelOfSameKind(t *testing.T) {
	err := New(KindNotFound, "users.resolve", "user_missing", gorm.ErrRecordNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found sentinel to match")
	}
	if errors.Is(err, ErrDuplicate) {
		t.Fatalf("did not expect duplicate sentinel to match")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected cause to remain reachable")
	}
	if CodeOf(err) != "users.resolve.user_missing" {
		t.Fatalf("unexpected code %q", CodeOf(err))
	}
}

func TestAlreadyFriendsIsDuplicate(t *testing.T) {
	err := New(KindAlreadyFriends, "friends.add", "edge_exists", nil)
	if !errors.Is(err, ErrAlreadyFriends) || !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected already friends to satisfy both sentinels")
	}
}

func TestFromStoreClassification(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "record-not-found", err: gorm.ErrRecordNotFound, want: KindNotFound},
		{name: "translated-duplicate", err: gorm.ErrDuplicatedKey, want: KindDuplicate},
		{name: "sqlite-unique", err: errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)"), want: KindDuplicate},
		{name: "postgres-unique", err: errors.New(`ERROR: duplicate key value violates unique constraint "idx_users_email" (SQLSTATE 23505)`), want: KindDuplicate},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: KindTimeout},
		{name: "other", err: errors.New("disk I/O error"), want: KindInternal},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			classified := FromStore("op", "reason", testCase.err)
			if KindOf(classified) != testCase.want {
				t.Fatalf("expected kind %s, got %s", testCase.want, KindOf(classified))
			}
		})
	}
}

func TestFromStorePreservesCodedErrors(t *testing.T) {
	original := New(KindNotLeader, "lifecycle.delete_group", "requester_not_leader", nil)
	if FromStore("tx", "failed", original) != original {
		t.Fatalf("expected coded error to pass through unchanged")
	}
}
