package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/edlab/edlab/internal/apperr"
	"github.com/edlab/edlab/internal/config"
	"github.com/edlab/edlab/internal/events"
	"github.com/edlab/edlab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndEndSession(t *testing.T) {
	f := newFixture(t, config.VerificationStrict)
	ctx := context.Background()

	session, err := f.labs.Start(ctx, models.SessionVoice, "+15550001", "English Pronunciation")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(session.ID, "voice_"))
	assert.Equal(t, models.SessionActive, session.Status)
	assert.Equal(t, "English Pronunciation", session.Topic)
	assert.Equal(t, int64(10), session.TokensRequired)
	assert.Nil(t, session.EndTime)
	assert.Nil(t, session.Duration)

	balance, err := f.ledger.Balance(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance, "starting a session does not charge tokens")

	f.clock.Advance(42*time.Second + 400*time.Millisecond)
	ended, err := f.labs.End(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, ended.Status)
	require.NotNil(t, ended.Duration)
	assert.Equal(t, int64(42), *ended.Duration)

	got, err := f.labs.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)

	// ending again recomputes from the original start
	f.clock.Advance(18 * time.Second)
	again, err := f.labs.End(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(60), *again.Duration)

	assert.Equal(t, []string{events.TypeSessionStarted, events.TypeSessionEnded, events.TypeSessionEnded}, f.publisher.types())
}

func TestStartVideoSession(t *testing.T) {
	f := newFixture(t, config.VerificationStrict)

	session, err := f.labs.Start(context.Background(), models.SessionVideo, "+15550001", "Science")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(session.ID, "video_"))
	assert.Equal(t, "Science", session.AgentType)
	assert.Empty(t, session.Topic)
	assert.Equal(t, int64(15), session.TokensRequired)
}

func TestEndUnknownSession(t *testing.T) {
	f := newFixture(t, config.VerificationStrict)
	ctx := context.Background()

	_, err := f.labs.End(ctx, "voice_missing")
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, "Session not found", err.Error())

	_, err = f.labs.Get(ctx, "voice_missing")
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.labs.End(ctx, "")
	assert.True(t, apperr.IsValidation(err))
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, config.VerificationStrict)
	ctx := context.Background()

	_, err := f.labs.Start(ctx, models.SessionVoice, "", "Math")
	assert.True(t, apperr.IsValidation(err))

	_, err = f.labs.Start(ctx, models.SessionKind("audio"), "+15550001", "Math")
	assert.True(t, apperr.IsValidation(err))
}

func TestListForNewestFirst(t *testing.T) {
	f := newFixture(t, config.VerificationStrict)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := f.labs.Start(ctx, models.SessionVoice, "+15550001", "Math")
		require.NoError(t, err)
		ids = append(ids, s.ID)
		f.clock.Advance(time.Minute)
	}
	_, err := f.labs.Start(ctx, models.SessionVideo, "+15550002", "English")
	require.NoError(t, err)

	sessions, err := f.labs.ListFor(ctx, "+15550001")
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{sessions[0].ID, sessions[1].ID, sessions[2].ID})

	sessions, err = f.labs.ListFor(ctx, "+15559999")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCatalog(t *testing.T) {
	f := newFixture(t, config.VerificationStrict)

	catalog := f.labs.Catalog()
	assert.Len(t, catalog.VoiceTopics, 3)
	assert.Len(t, catalog.VideoAgents, 3)
}
