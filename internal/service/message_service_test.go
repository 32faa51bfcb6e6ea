package service

import (
	"Saathi/internal/hub"
	"Saathi/internal/mocks"
	"Saathi/internal/model"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"
)

type serviceFixture struct {
	svc      *messageService
	messages *mocks.MockMessageRepository
	users    *mocks.MockUserRepository
}

func newServiceFixture(t *testing.T) serviceFixture {
	return newServiceFixtureWithClock(t, nil)
}

func newServiceFixtureWithClock(t *testing.T, clock Clock) serviceFixture {
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockMessageRepository(ctrl)
	users := mocks.NewMockUserRepository(ctrl)

	svc := NewMessageService(messages, users, clock, zaptest.NewLogger(t)).(*messageService)
	return serviceFixture{svc: svc, messages: messages, users: users}
}

func TestConversations_OnePerCounterpartNewestFirst(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	me := primitive.NewObjectID().Hex()
	alice := primitive.NewObjectID()
	bob := primitive.NewObjectID()
	ghost := primitive.NewObjectID()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	// newest first, as the repository returns them
	recent := []model.ChatMessage{
		{SenderID: bob.Hex(), RecipientID: me, Text: "bob latest", CreatedAt: base.Add(3 * time.Minute)},
		{SenderID: ghost.Hex(), RecipientID: me, Text: "from nobody", CreatedAt: base.Add(2 * time.Minute)},
		{SenderID: me, RecipientID: alice.Hex(), Text: "alice latest", CreatedAt: base.Add(time.Minute), Read: false},
		{SenderID: bob.Hex(), RecipientID: me, Text: "bob older", CreatedAt: base},
	}

	f.messages.EXPECT().RecentForUser(ctx, me).Return(recent, nil)
	f.users.EXPECT().FindByIDs(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, ids []string) ([]model.User, error) {
			require.ElementsMatch(t, []string{alice.Hex(), bob.Hex(), ghost.Hex()}, ids)
			return []model.User{
				{ID: alice, Name: "Alice", PhoneNumber: "111"},
				{ID: bob, Name: "Bob", PhoneNumber: "222"},
			}, nil
		})

	got, err := f.svc.Conversations(ctx, me)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, bob.Hex(), got[0].ID)
	require.Equal(t, "bob latest", got[0].LastMessage)
	require.True(t, got[0].Unread)

	require.Equal(t, alice.Hex(), got[1].ID)
	require.Equal(t, "alice latest", got[1].LastMessage)
	require.False(t, got[1].Unread, "own outgoing message is never unread")
}

func TestConversations_NoMessages(t *testing.T) {
	f := newServiceFixture(t)

	f.messages.EXPECT().RecentForUser(gomock.Any(), "u1").Return([]model.ChatMessage{}, nil)

	got, err := f.svc.Conversations(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestConversations_RepositoryError(t *testing.T) {
	f := newServiceFixture(t)
	boom := errors.New("boom")

	f.messages.EXPECT().RecentForUser(gomock.Any(), "u1").Return(nil, boom)

	_, err := f.svc.Conversations(context.Background(), "u1")
	require.ErrorIs(t, err, boom)
}

func TestHistory_MarksCounterpartMessagesRead(t *testing.T) {
	f := newServiceFixture(t)
	msgs := []model.ChatMessage{{SenderID: "other", RecipientID: "me", Text: "hi"}}

	gomock.InOrder(
		f.messages.EXPECT().Conversation(gomock.Any(), "me", "other").Return(msgs, nil),
		f.messages.EXPECT().MarkRead(gomock.Any(), "other", "me").Return(int64(1), nil),
	)

	got, err := f.svc.History(context.Background(), "me", "other")
	require.NoError(t, err)
	require.Equal(t, msgs, got)
	require.False(t, got[0].Read)
}

func TestHistory_MarkReadFailureStillReturnsMessages(t *testing.T) {
	f := newServiceFixture(t)
	msgs := []model.ChatMessage{{SenderID: "other", RecipientID: "me", Text: "hi"}}

	f.messages.EXPECT().Conversation(gomock.Any(), "me", "other").Return(msgs, nil)
	f.messages.EXPECT().MarkRead(gomock.Any(), "other", "me").Return(int64(0), errors.New("write failed"))

	got, err := f.svc.History(context.Background(), "me", "other")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestSend(t *testing.T) {
	fixed := time.Date(2026, 5, 6, 7, 8, 9, 123456789, time.FixedZone("IST", 19800))

	t.Run("persists with the clock's timestamp", func(t *testing.T) {
		f := newServiceFixtureWithClock(t, hub.NewMonotonicClock(func() time.Time { return fixed }))

		f.messages.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, msg *model.ChatMessage) error {
				msg.ID = primitive.NewObjectID()
				return nil
			})

		msg, err := f.svc.Send(context.Background(), "me", "you", "hello")
		require.NoError(t, err)
		require.False(t, msg.ID.IsZero())
		require.Equal(t, "me", msg.SenderID)
		require.Equal(t, "you", msg.RecipientID)
		require.Equal(t, "hello", msg.Text)
		require.Equal(t, time.UTC, msg.CreatedAt.Location())
		require.Equal(t, fixed.UTC().Truncate(time.Millisecond), msg.CreatedAt)
	})

	t.Run("shared clock never steps back", func(t *testing.T) {
		readings := []time.Time{fixed, fixed.Add(-time.Second)}
		i := 0
		clock := hub.NewMonotonicClock(func() time.Time {
			r := readings[i]
			i++
			return r
		})
		// a realtime send stamps first, then the wall clock jumps back
		realtime := clock.Now()

		f := newServiceFixtureWithClock(t, clock)
		f.messages.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Return(nil)

		msg, err := f.svc.Send(context.Background(), "me", "you", "hello")
		require.NoError(t, err)
		require.False(t, msg.CreatedAt.Before(realtime))
	})

	t.Run("nil clock uses wall time", func(t *testing.T) {
		f := newServiceFixture(t)
		f.messages.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Return(nil)

		before := time.Now().UTC().Truncate(time.Millisecond)
		msg, err := f.svc.Send(context.Background(), "me", "you", "hello")
		require.NoError(t, err)
		require.False(t, msg.CreatedAt.Before(before))
		require.Equal(t, time.UTC, msg.CreatedAt.Location())
	})

	t.Run("blank text", func(t *testing.T) {
		f := newServiceFixture(t)

		_, err := f.svc.Send(context.Background(), "me", "you", "  \n\t ")
		require.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("append failure", func(t *testing.T) {
		f := newServiceFixture(t)
		boom := errors.New("boom")
		f.messages.EXPECT().AppendMessage(gomock.Any(), gomock.Any()).Return(boom)

		_, err := f.svc.Send(context.Background(), "me", "you", "hello")
		require.ErrorIs(t, err, boom)
	})
}

func TestSearchUsers(t *testing.T) {
	t.Run("short query matches nothing", func(t *testing.T) {
		f := newServiceFixture(t)

		got, err := f.svc.SearchUsers(context.Background(), "me", " a ")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Empty(t, got)
	})

	t.Run("delegates trimmed query", func(t *testing.T) {
		f := newServiceFixture(t)
		want := []model.User{{ID: primitive.NewObjectID(), Name: "Ravi"}}
		f.users.EXPECT().Search(gomock.Any(), "ra", "me").Return(want, nil)

		got, err := f.svc.SearchUsers(context.Background(), "me", "  ra ")
		require.NoError(t, err)
		require.Equal(t, want, got)
	})
}
