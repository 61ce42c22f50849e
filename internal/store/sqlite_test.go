package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
	"github.com/zhouzirui/z-tavern/support/internal/model/prompt"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func newSession(id string, at time.Time) *chat.Session {
	return &chat.Session{
		ID:             id,
		Language:       "vi",
		Status:         chat.StatusActive,
		CreatedAt:      at,
		LastActivityAt: at,
	}
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "support.db")

	store, err := NewSQLiteStore(dbPath, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	session := newSession("s-1", baseTime)
	session.AccountID = "acct-42"
	require.NoError(t, store.CreateSession(ctx, session))

	got, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "vi", got.Language)
	assert.Equal(t, chat.StatusActive, got.Status)
	assert.Equal(t, "acct-42", got.AccountID)
	assert.True(t, got.CreatedAt.Equal(baseTime))
	assert.Nil(t, got.EndedAt)
	assert.Nil(t, got.WarnedAt)
	assert.Zero(t, got.Rating)
	assert.Zero(t, got.Version)
}

func TestGetSession_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSession_VersionCheck(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, newSession("s-1", baseTime)))

	first, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	stale, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)

	first.Status = chat.StatusHandedOver
	require.NoError(t, store.UpdateSession(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	stale.Touch(baseTime.Add(time.Minute))
	assert.ErrorIs(t, store.UpdateSession(ctx, stale), ErrConflict)

	got, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, chat.StatusHandedOver, got.Status)
	assert.True(t, got.LastActivityAt.Equal(baseTime))
}

func TestUpdateSession_NotFound(t *testing.T) {
	store := setupTestStore(t)

	err := store.UpdateSession(context.Background(), newSession("ghost", baseTime))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSession_ConcurrentWritersOneWins(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, newSession("s-1", baseTime)))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session := newSession("s-1", baseTime)
			session.Status = chat.StatusEnded
			if err := store.UpdateSession(ctx, session); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestListIdleSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	stale := newSession("stale", baseTime)
	fresh := newSession("fresh", baseTime.Add(10*time.Minute))
	ended := newSession("ended", baseTime)
	ended.Status = chat.StatusEnded
	for _, s := range []*chat.Session{stale, fresh, ended} {
		require.NoError(t, store.CreateSession(ctx, s))
	}

	idle, err := store.ListIdleSessions(ctx, baseTime.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "stale", idle[0].ID)
}

func TestListSessionsByStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	active := newSession("a", baseTime)
	handed := newSession("h", baseTime.Add(time.Second))
	handed.Status = chat.StatusHandedOver
	require.NoError(t, store.CreateSession(ctx, active))
	require.NoError(t, store.CreateSession(ctx, handed))

	all, err := store.ListSessions(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "h", all[0].ID)

	staff, err := store.ListSessions(ctx, chat.StatusHandedOver, 10)
	require.NoError(t, err)
	require.Len(t, staff, 1)
	assert.Equal(t, "h", staff[0].ID)
}

func TestMessagesAppendAndOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, newSession("s-1", baseTime)))

	for i, sender := range []chat.Sender{chat.SenderUser, chat.SenderBot, chat.SenderAgent} {
		require.NoError(t, store.AppendMessage(ctx, &chat.Message{
			ID:          string(sender),
			SessionID:   "s-1",
			Sender:      sender,
			DisplayName: "name",
			Content:     "masked",
			RawContent:  "raw",
			CreatedAt:   baseTime.Add(time.Duration(i) * time.Second),
		}))
	}

	messages, err := store.ListMessages(ctx, "s-1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, chat.SenderUser, messages[0].Sender)
	assert.Equal(t, chat.SenderAgent, messages[2].Sender)
	assert.Equal(t, "raw", messages[0].RawContent)

	recent, err := store.ListMessages(ctx, "s-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, chat.SenderBot, recent[0].Sender)
}

func TestAppendMessage_UnknownSession(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendMessage(context.Background(), &chat.Message{
		ID:        "m-1",
		SessionID: "missing",
		Sender:    chat.SenderUser,
		CreatedAt: baseTime,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTemplatesUpsertAndQuery(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertTemplates(ctx, prompt.Seed()))

	vi, err := store.ActiveTemplates(ctx, "vi")
	require.NoError(t, err)
	require.Len(t, vi, 1)
	assert.Equal(t, "support-vi", vi[0].ID)
	assert.Len(t, vi[0].UserExamples, 1)

	disabled := vi[0]
	disabled.Active = false
	require.NoError(t, store.UpsertTemplates(ctx, []prompt.Template{disabled}))

	vi, err = store.ActiveTemplates(ctx, "vi")
	require.NoError(t, err)
	assert.Empty(t, vi)

	fallback, err := prompt.Select(ctx, store, "vi")
	require.NoError(t, err)
	require.Len(t, fallback, 1)
	assert.Equal(t, prompt.LanguageAll, fallback[0].Language)

	all, err := store.ListTemplates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
