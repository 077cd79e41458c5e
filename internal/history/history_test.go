package history

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kino/internal/session"
	"kino/pkg/protocol"
)

func newJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestAppendAndListChronological(t *testing.T) {
	j := newJournal(t)
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	// stored out of order on purpose
	for _, off := range []int{2, 0, 1} {
		_, err := j.Append(Exchange{
			At:        base.Add(time.Duration(off) * time.Minute),
			Utterance: "pedido",
			Reply:     string(rune('a' + off)),
		})
		require.NoError(t, err)
	}

	all, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Reply)
	assert.Equal(t, "b", all[1].Reply)
	assert.Equal(t, "c", all[2].Reply)
	assert.NotEmpty(t, all[0].ID)

	last, err := j.List(2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "b", last[0].Reply)
}

func TestAppendFillsDefaults(t *testing.T) {
	j := newJournal(t)

	e, err := j.Append(Exchange{Reply: "olá"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.WithinDuration(t, time.Now(), e.At, time.Minute)
}

func TestFollowerJournalsEachReplyOnce(t *testing.T) {
	j := newJournal(t)
	f := NewFollower(j)

	d, err := protocol.ParseDebug(json.RawMessage(`{"intencao":"filme","filmes_encontrados":3}`))
	require.NoError(t, err)

	f.Observe(session.Snapshot{Status: session.Thinking, Utterance: "um filme de terror"})
	f.Observe(session.Snapshot{Status: session.Speaking, Utterance: "um filme de terror", Reply: "Que tal Hereditário?", Replies: 1, Debug: d, AudioURL: "http://h/audio/1.mp3"})
	f.Observe(session.Snapshot{Status: session.Idle, Utterance: "um filme de terror", Reply: "Que tal Hereditário?", Replies: 1, Debug: d})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Run(ctx)

	all, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "um filme de terror", all[0].Utterance)
	assert.Equal(t, "Que tal Hereditário?", all[0].Reply)
	assert.Equal(t, "filme", all[0].Intent)
	assert.Equal(t, "http://h/audio/1.mp3", all[0].AudioURL)
	assert.JSONEq(t, `{"intencao":"filme","filmes_encontrados":3}`, string(all[0].Debug))
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, nil))
	assert.Contains(t, buf.String(), "sem histórico")

	buf.Reset()
	require.NoError(t, Print(&buf, []Exchange{{
		At:        time.Now(),
		Utterance: "oi",
		Reply:     "olá!",
		Intent:    "conversa",
	}}))
	out := buf.String()
	assert.Contains(t, out, "(conversa)")
	assert.Contains(t, out, `Você: "oi"`)
	assert.Contains(t, out, `virtKino: "olá!"`)
}
