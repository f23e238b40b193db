package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandari/ingestor/internal/model"
	"github.com/mandari/ingestor/internal/oparl"
	"github.com/mandari/ingestor/internal/storage"
	"github.com/mandari/ingestor/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		panic(err)
	}
	testDB = db
	defer db.Close(ctx)

	os.Exit(m.Run())
}

func newSource(t *testing.T, url string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	s := &model.Source{ID: id, Name: "Test City", URL: url, IsActive: true}
	require.NoError(t, testDB.AddSource(context.Background(), s))
	return id
}

func TestUpsertBody_InsertThenUpdate(t *testing.T) {
	ctx := context.Background()
	sourceID := newSource(t, "https://ris.example.de/oparl-a")

	p := oparl.New()
	b := p.ProcessBody(map[string]any{
		"id":   "https://ris.example.de/body/a",
		"type": "https://schema.oparl.org/1.1/Body",
		"name": "Example City",
	})
	inserted, err := testDB.UpsertBody(ctx, sourceID, b)
	require.NoError(t, err)
	assert.True(t, inserted)

	b2 := p.ProcessBody(map[string]any{
		"id":   "https://ris.example.de/body/a",
		"type": "https://schema.oparl.org/1.1/Body",
		"name": "Example City (renamed)",
	})
	inserted, err = testDB.UpsertBody(ctx, sourceID, b2)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, b.ID, b2.ID)
}

func TestUpsertMeetingAndAgendaItem(t *testing.T) {
	ctx := context.Background()
	sourceID := newSource(t, "https://ris.example.de/oparl-b")
	p := oparl.New()

	body := p.ProcessBody(map[string]any{
		"id": "https://ris.example.de/body/b", "type": "https://schema.oparl.org/1.1/Body", "name": "B",
	})
	_, err := testDB.UpsertBody(ctx, sourceID, body)
	require.NoError(t, err)

	meeting := p.ProcessMeeting(map[string]any{
		"id": "https://ris.example.de/meeting/1", "type": "https://schema.oparl.org/1.1/Meeting", "name": "Sitzung 1",
	}, body.ExternalID)
	_, err = testDB.UpsertMeeting(ctx, body.ID, meeting)
	require.NoError(t, err)

	item := p.ProcessAgendaItem(map[string]any{
		"id": "https://ris.example.de/ai/1", "type": "https://schema.oparl.org/1.1/AgendaItem", "name": "TOP 1",
	}, body.ExternalID)
	_, err = testDB.UpsertAgendaItem(ctx, meeting.ID, item)
	require.NoError(t, err)
}

func TestUpsertFile_AndSetFileExtraction(t *testing.T) {
	ctx := context.Background()
	sourceID := newSource(t, "https://ris.example.de/oparl-c")
	p := oparl.New()

	body := p.ProcessBody(map[string]any{
		"id": "https://ris.example.de/body/c", "type": "https://schema.oparl.org/1.1/Body", "name": "C",
	})
	_, err := testDB.UpsertBody(ctx, sourceID, body)
	require.NoError(t, err)

	f := p.ProcessFile(map[string]any{
		"id": "https://ris.example.de/file/1", "type": "https://schema.oparl.org/1.1/File",
		"name": "Anlage 1", "downloadUrl": "https://ris.example.de/file/1/download",
	}, body.ExternalID)
	_, err = testDB.UpsertFile(ctx, body.ID, uuid.Nil, uuid.Nil, f)
	require.NoError(t, err)

	pending, err := testDB.ListPendingFiles(ctx, body.ID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, f.ID, pending[0].ID)

	require.NoError(t, testDB.MarkFileProcessing(ctx, f.ID))

	text := "extracted text"
	hash := "abc123"
	method := "pdf-textlayer"
	require.NoError(t, testDB.SetFileExtraction(ctx, f.ID, storage.FileExtractionResult{
		Status: "completed", Method: &method, TextContent: &text, SHA256Hash: &hash,
	}))

	pending, err = testDB.ListPendingFiles(ctx, body.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUpsertMeeting_StaleModifiedIsNoOp(t *testing.T) {
	ctx := context.Background()
	sourceID := newSource(t, "https://ris.example.de/oparl-stale")
	p := oparl.New()

	body := p.ProcessBody(map[string]any{
		"id": "https://ris.example.de/body/stale", "type": "https://schema.oparl.org/1.1/Body", "name": "Stale",
	})
	_, err := testDB.UpsertBody(ctx, sourceID, body)
	require.NoError(t, err)

	newer := p.ProcessMeeting(map[string]any{
		"id": "https://ris.example.de/meeting/stale", "type": "https://schema.oparl.org/1.1/Meeting",
		"name": "Sitzung (aktuell)", "modified": "2026-01-02T00:00:00+00:00",
	}, body.ExternalID)
	inserted, err := testDB.UpsertMeeting(ctx, body.ID, newer)
	require.NoError(t, err)
	assert.True(t, inserted)

	older := p.ProcessMeeting(map[string]any{
		"id": "https://ris.example.de/meeting/stale", "type": "https://schema.oparl.org/1.1/Meeting",
		"name": "Sitzung (veraltet)", "modified": "2026-01-01T00:00:00+00:00",
	}, body.ExternalID)
	inserted, err = testDB.UpsertMeeting(ctx, body.ID, older)
	require.NoError(t, err)
	assert.False(t, inserted)

	var name string
	require.NoError(t, testDB.Pool().QueryRow(ctx, `SELECT name FROM oparl_meetings WHERE id = $1`, newer.ID).Scan(&name))
	assert.Equal(t, "Sitzung (aktuell)", name, "an older oparl_modified write must not overwrite the newer row")
}

func TestListSources_FiltersActiveOnly(t *testing.T) {
	ctx := context.Background()
	activeID := newSource(t, "https://ris.example.de/oparl-active")

	inactive := &model.Source{ID: uuid.New(), Name: "Inactive City", URL: "https://ris.example.de/oparl-inactive", IsActive: false}
	require.NoError(t, testDB.AddSource(ctx, inactive))

	sources, err := testDB.ListSources(ctx, true)
	require.NoError(t, err)

	var found bool
	for _, s := range sources {
		assert.True(t, s.IsActive)
		if s.ID == activeID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestUpdateSourceSyncTimes(t *testing.T) {
	ctx := context.Background()
	sourceID := newSource(t, "https://ris.example.de/oparl-sync")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, testDB.UpdateSourceSyncTimes(ctx, sourceID, true, now))

	s, err := testDB.GetSourceByURL(ctx, "https://ris.example.de/oparl-sync")
	require.NoError(t, err)
	require.NotNil(t, s.LastFullSync)
	assert.WithinDuration(t, now, *s.LastFullSync, time.Second)
}

func TestGetSourceByURL_NotFound(t *testing.T) {
	_, err := testDB.GetSourceByURL(context.Background(), "https://does-not-exist.example.de")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
