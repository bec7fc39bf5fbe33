package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const key = "https://github.com/acme/shop/pull/42"

func msg(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.UnixMilli(1700000000000).UTC()}
}

func newSQLiteStore(t *testing.T, limit int) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore(":memory:", limit)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func stores(t *testing.T, limit int) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(limit),
		"sqlite": newSQLiteStore(t, limit),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t, 0) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			empty, err := s.Load(ctx, key)
			require.NoError(t, err)
			assert.Empty(t, empty)

			user := msg(RoleUser, "GitHub PR URL: ...\n\nQuestion/request:\nwhy?")
			user.Display = "why?"
			require.NoError(t, s.Append(ctx, key, user, msg(RoleAssistant, "")))

			got, err := s.Load(ctx, key)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, user, got[0])
			assert.Equal(t, "why?", got[0].DisplayText())
			assert.Equal(t, RoleAssistant, got[1].Role)

			got[1].Content = "because"
			require.NoError(t, s.Save(ctx, key, got))
			again, err := s.Load(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "because", again[1].Content)

			other, err := s.Load(ctx, key+"/other")
			require.NoError(t, err)
			assert.Empty(t, other)

			require.NoError(t, s.Clear(ctx, key))
			cleared, err := s.Load(ctx, key)
			require.NoError(t, err)
			assert.Empty(t, cleared)
		})
	}
}

func TestStoreKeepsMostRecent(t *testing.T) {
	for name, s := range stores(t, 5) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var all []Message
			for i := 0; i < 4; i++ {
				all = append(all, msg(RoleUser, fmt.Sprintf("m%d", i)))
			}
			require.NoError(t, s.Save(ctx, key, all))
			require.NoError(t, s.Append(ctx, key, msg(RoleUser, "m4"), msg(RoleAssistant, "m5"), msg(RoleUser, "m6")))

			got, err := s.Load(ctx, key)
			require.NoError(t, err)
			var contents []string
			for _, m := range got {
				contents = append(contents, m.Content)
			}
			assert.Equal(t, []string{"m2", "m3", "m4", "m5", "m6"}, contents)
		})
	}
}

func TestCap(t *testing.T) {
	msgs := make([]Message, 60)
	assert.Len(t, Cap(msgs, 0), DefaultLimit)
	assert.Len(t, Cap(msgs[:3], 0), 3)
	assert.Len(t, Cap(msgs, 10), 10)
}

func TestMessageHelpers(t *testing.T) {
	assert.Equal(t, "shown", Message{Content: "full", Display: "shown"}.DisplayText())
	assert.Equal(t, "full", Message{Content: "full"}.DisplayText())
	assert.True(t, Message{Role: RoleAssistant}.Conversational())
	assert.False(t, Message{Role: RoleSystem}.Conversational())
}
