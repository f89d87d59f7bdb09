package groups

import (
	"context"
	"testing"
	"time"

	"github.com/mark77234/Tomo/internal/apperr"
	"github.com/mark77234/Tomo/internal/testutil"
	"github.com/mark77234/Tomo/internal/users"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var createdAt = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db     *gorm.DB
	users  *users.Service
	groups *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenSQLite(t, &users.User{}, &Group{}, &Member{})
	clock := func() time.Time { return createdAt }

	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	groupService, err := NewService(ServiceConfig{Database: db, Clock: clock})
	require.NoError(t, err)

	for _, request := range []users.SignupRequest{
		{ExternalID: "A", Username: "alice", Email: "a@x"},
		{ExternalID: "B", Username: "bob", Email: "b@x"},
		{ExternalID: "C", Username: "carol", Email: "c@x"},
	} {
		_, err := userService.Signup(context.Background(), request)
		require.NoError(t, err)
	}
	return fixture{db: db, users: userService, groups: groupService}
}

func (f fixture) memberCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&Member{}).Count(&count).Error)
	return count
}

func TestCreateGroupWithMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.groups.Create(ctx, CreateRequest{
		LeaderExternalID: "A",
		Title:            "g1",
		Description:      "desc",
		MemberEmails:     []string{"b@x", "b@x", "a@x", "c@x"},
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Equal(t, []string{"a@x", "b@x", "c@x"}, created.People)
	require.Equal(t, int64(3), f.memberCount(t))

	var leaders int64
	require.NoError(t, f.db.Model(&Member{}).Where("group_id = ? AND leader = ?", created.ID, true).Count(&leaders).Error)
	require.Equal(t, int64(1), leaders)

	detail, err := f.groups.Detail(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "g1", detail.Title)
	require.Equal(t, []MemberView{{Email: "a@x", Leader: true}, {Email: "b@x"}, {Email: "c@x"}}, detail.Members)
	require.True(t, detail.CreatedAt.Equal(createdAt))
}

func TestCreateGroupRejectsDuplicateTitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.groups.Create(ctx, CreateRequest{LeaderExternalID: "A", Title: "g1"})
	require.NoError(t, err)

	_, err = f.groups.Create(ctx, CreateRequest{LeaderExternalID: "B", Title: "g1"})
	require.ErrorIs(t, err, apperr.ErrDuplicate)
	require.Equal(t, int64(1), f.memberCount(t))
}

func TestCreateGroupInsertRaceReportsDuplicateTitle(t *testing.T) {
	f := newFixture(t)

	injected := false
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:concurrent_group_insert", func(tx *gorm.DB) {
		if injected || tx.Statement.Table != "moims" {
			return
		}
		injected = true
		require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO moims (title, description, created_at) VALUES (?, ?, ?)",
			"g1", "other", createdAt).Error)
	}))

	_, err := f.groups.Create(context.Background(), CreateRequest{LeaderExternalID: "A", Title: "g1", MemberEmails: []string{"b@x"}})
	require.True(t, injected)
	require.ErrorIs(t, err, apperr.ErrDuplicate)
	require.Equal(t, apperr.KindDuplicate, apperr.KindOf(err))
	require.Equal(t, opCreate+"."+reasonTitleTaken, apperr.CodeOf(err))

	var groups int64
	require.NoError(t, f.db.Model(&Group{}).Count(&groups).Error)
	require.Zero(t, groups)
	require.Zero(t, f.memberCount(t))
}

func TestCreateGroupIsAllOrNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.groups.Create(context.Background(), CreateRequest{
		LeaderExternalID: "A",
		Title:            "g1",
		MemberEmails:     []string{"b@x", "ghost@x"},
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	var groups int64
	require.NoError(t, f.db.Model(&Group{}).Count(&groups).Error)
	require.Zero(t, groups)
	require.Zero(t, f.memberCount(t))
}

func TestCreateGroupUnknownLeader(t *testing.T) {
	f := newFixture(t)

	_, err := f.groups.Create(context.Background(), CreateRequest{LeaderExternalID: "ghost", Title: "g1"})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSummaryReportsLeaderFlagPerViewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.groups.Create(ctx, CreateRequest{
		LeaderExternalID: "A",
		Title:            "g1",
		Description:      "desc",
		MemberEmails:     []string{"b@x"},
	})
	require.NoError(t, err)

	asLeader, err := f.groups.Summary(ctx, created.ID, "A")
	require.NoError(t, err)
	require.True(t, asLeader.Leader)
	require.Equal(t, 2, asLeader.PeopleCount)
	require.Equal(t, "desc", asLeader.Description)

	asMember, err := f.groups.Summary(ctx, created.ID, "B")
	require.NoError(t, err)
	require.False(t, asMember.Leader)

	_, err = f.groups.Summary(ctx, created.ID+100, "A")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.groups.Create(ctx, CreateRequest{LeaderExternalID: "A", Title: "g1", MemberEmails: []string{"b@x"}})
	require.NoError(t, err)
	_, err = f.groups.Create(ctx, CreateRequest{LeaderExternalID: "C", Title: "g2", MemberEmails: []string{"a@x"}})
	require.NoError(t, err)

	listA, err := f.groups.ListForUser(ctx, "A")
	require.NoError(t, err)
	require.Len(t, listA, 2)
	require.Equal(t, "g1", listA[0].Title)
	require.True(t, listA[0].Leader)
	require.Equal(t, "g2", listA[1].Title)
	require.False(t, listA[1].Leader)

	listB, err := f.groups.ListForUser(ctx, "B")
	require.NoError(t, err)
	require.Len(t, listB, 1)

	_, err = f.groups.ListForUser(ctx, "ghost")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMembershipHelpers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g1, err := f.groups.Create(ctx, CreateRequest{LeaderExternalID: "A", Title: "g1", MemberEmails: []string{"b@x"}})
	require.NoError(t, err)
	g2, err := f.groups.Create(ctx, CreateRequest{LeaderExternalID: "C", Title: "g2", MemberEmails: []string{"a@x"}})
	require.NoError(t, err)

	a, err := f.users.Resolve(ctx, "A")
	require.NoError(t, err)

	leading, err := LeaderGroupIDs(f.db, a.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{g1.ID}, leading)

	isLeader, err := IsLeader(f.db, g2.ID, a.ID)
	require.NoError(t, err)
	require.False(t, isLeader)

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		if err := DeleteMembers(tx, leading); err != nil {
			return err
		}
		if err := DeleteGroups(tx, leading); err != nil {
			return err
		}
		return LeaveNonLeaderGroups(tx, a.ID)
	}))

	_, err = FindByID(f.db, g1.ID)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	detail, err := f.groups.Detail(ctx, g2.ID)
	require.NoError(t, err)
	require.Equal(t, []MemberView{{Email: "c@x", Leader: true}}, detail.Members)
}

func TestFindByTitle(t *testing.T) {
	f := newFixture(t)

	created, err := f.groups.Create(context.Background(), CreateRequest{LeaderExternalID: "A", Title: "g1"})
	require.NoError(t, err)

	group, err := FindByTitle(f.db, " g1 ")
	require.NoError(t, err)
	require.Equal(t, created.ID, group.ID)

	_, err = FindByTitle(f.db, "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
