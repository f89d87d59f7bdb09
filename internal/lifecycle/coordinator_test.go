package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/mark77234/Tomo/internal/apperr"
	"github.com/mark77234/Tomo/internal/appointments"
	"github.com/mark77234/Tomo/internal/friends"
	"github.com/mark77234/Tomo/internal/groups"
	"github.com/mark77234/Tomo/internal/testutil"
	"github.com/mark77234/Tomo/internal/users"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type harness struct {
	db           *gorm.DB
	users        *users.Service
	friends      *friends.Service
	groups       *groups.Service
	appointments *appointments.Service
	coordinator  *Coordinator
	logs         *observer.ObservedLogs
}

func newHarness(t *testing.T) harness {
	t.Helper()
	db := testutil.OpenSQLite(t, &users.User{}, &friends.FriendEdge{}, &groups.Group{}, &groups.Member{}, &appointments.Appointment{})
	clock := func() time.Time { return time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC) }
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	h := harness{db: db, logs: logs}
	var err error
	h.users, err = users.NewService(users.ServiceConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	h.friends, err = friends.NewService(friends.ServiceConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	h.groups, err = groups.NewService(groups.ServiceConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	h.appointments, err = appointments.NewService(appointments.ServiceConfig{Database: db})
	require.NoError(t, err)
	h.coordinator, err = NewCoordinator(CoordinatorConfig{Database: db, Logger: logger})
	require.NoError(t, err)

	for _, request := range []users.SignupRequest{
		{ExternalID: "A", Username: "alice", Email: "a@x"},
		{ExternalID: "B", Username: "bob", Email: "b@x"},
		{ExternalID: "C", Username: "carol", Email: "c@x"},
	} {
		_, err := h.users.Signup(context.Background(), request)
		require.NoError(t, err)
	}
	return h
}

func (h harness) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	scoped := h.db.Model(model)
	if query != "" {
		scoped = scoped.Where(query, args...)
	}
	require.NoError(t, scoped.Count(&count).Error)
	return count
}

func TestDeleteUserCascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g1, err := h.groups.Create(ctx, groups.CreateRequest{LeaderExternalID: "A", Title: "g1", MemberEmails: []string{"b@x"}})
	require.NoError(t, err)
	g2, err := h.groups.Create(ctx, groups.CreateRequest{LeaderExternalID: "C", Title: "g2", MemberEmails: []string{"a@x"}})
	require.NoError(t, err)
	_, err = h.appointments.Create(ctx, appointments.CreateRequest{GroupTitle: "g1", Name: "lunch", Date: "2025-02-02", Time: "12:00", Location: "cafe"})
	require.NoError(t, err)
	_, err = h.appointments.Create(ctx, appointments.CreateRequest{GroupTitle: "g2", Name: "dinner", Date: "2025-02-02", Time: "19:00", Location: "bar"})
	require.NoError(t, err)
	require.NoError(t, h.friends.Add(ctx, "A", "b@x"))
	require.NoError(t, h.friends.Add(ctx, "C", "a@x"))
	require.NoError(t, h.friends.Add(ctx, "B", "c@x"))

	a, err := h.users.Resolve(ctx, "A")
	require.NoError(t, err)

	require.NoError(t, h.coordinator.DeleteUser(ctx, "A"))

	_, err = h.users.Resolve(ctx, "A")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.groups.Detail(ctx, g1.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.Zero(t, h.count(t, &groups.Member{}, "group_id = ?", g1.ID))
	require.Zero(t, h.count(t, &appointments.Appointment{}, "group_id = ?", g1.ID))

	detail, err := h.groups.Detail(ctx, g2.ID)
	require.NoError(t, err)
	require.Equal(t, []groups.MemberView{{Email: "c@x", Leader: true}}, detail.Members)
	dinner, err := h.appointments.ListOfGroup(ctx, "g2")
	require.NoError(t, err)
	require.Len(t, dinner, 1)

	require.Zero(t, h.count(t, &friends.FriendEdge{}, "user_id = ? OR friend_user_id = ?", a.ID, a.ID))
	require.Equal(t, int64(2), h.count(t, &friends.FriendEdge{}, ""), "edges between other users survive")
	require.Zero(t, h.count(t, &groups.Member{}, "user_id = ?", a.ID))

	entries := h.logs.FilterMessage("user deleted").All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), entries[0].ContextMap()["led_groups_removed"])
}

func TestDeleteUserMissing(t *testing.T) {
	h := newHarness(t)

	err := h.coordinator.DeleteUser(context.Background(), "ghost")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.Zero(t, h.logs.FilterMessage("lifecycle cascade failed").Len())
}

func TestDeleteUserWithRefreshCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.users.StoreRefreshCredential(ctx, "B", "refresh"))

	require.NoError(t, h.coordinator.DeleteUser(ctx, "B"))
	require.Equal(t, int64(2), h.count(t, &users.User{}, ""))
}

func TestDeleteGroupRequiresLeader(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g1, err := h.groups.Create(ctx, groups.CreateRequest{LeaderExternalID: "A", Title: "g1", Description: "desc", MemberEmails: []string{"b@x"}})
	require.NoError(t, err)
	_, err = h.appointments.Create(ctx, appointments.CreateRequest{GroupTitle: "g1", Name: "lunch", Date: "2025-01-01", Time: "12:00", Location: "cafe"})
	require.NoError(t, err)

	err = h.coordinator.DeleteGroup(ctx, g1.ID, "B")
	require.ErrorIs(t, err, apperr.ErrNotLeader)
	require.Equal(t, int64(2), h.count(t, &groups.Member{}, "group_id = ?", g1.ID))

	require.NoError(t, h.coordinator.DeleteGroup(ctx, g1.ID, "A"))

	_, err = h.groups.Detail(ctx, g1.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.Zero(t, h.count(t, &appointments.Appointment{}, ""))
	require.Zero(t, h.count(t, &groups.Member{}, ""))

	err = h.coordinator.DeleteGroup(ctx, g1.ID, "A")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
