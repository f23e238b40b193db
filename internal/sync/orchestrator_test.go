package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"
	"github.com/mandari/ingestor/internal/events"
	"github.com/mandari/ingestor/internal/model"
	"github.com/mandari/ingestor/internal/oparl"
)

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 4, cfg.BodyConcurrency)
	assert.Equal(t, 5, cfg.IncrementalMaxPages)
	assert.Equal(t, 100, cfg.PersistBatchSize)
	assert.Equal(t, time.Hour, cfg.ModifiedSlack)

	cfg = Config{BodyConcurrency: 8, ModifiedSlack: 2 * time.Hour}.withDefaults()
	assert.Equal(t, 8, cfg.BodyConcurrency)
	assert.Equal(t, 2*time.Hour, cfg.ModifiedSlack)
	assert.Equal(t, 5, cfg.IncrementalMaxPages)
}

func TestCutoffFor(t *testing.T) {
	assert.True(t, cutoffFor(&model.Source{}, time.Hour).IsZero())

	last := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	cutoff := cutoffFor(&model.Source{LastSync: &last}, time.Hour)
	assert.Equal(t, last.Add(-time.Hour), cutoff)
}

func TestIsStale(t *testing.T) {
	modified := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	e := &oparl.Entity{OParlModified: &modified}

	assert.False(t, isStale(e, time.Time{}), "zero cutoff means full sync, nothing is stale")
	assert.False(t, isStale(&oparl.Entity{}, time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)), "no modified timestamp is never stale")
	assert.True(t, isStale(e, time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)))
	assert.False(t, isStale(e, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRefUUID_NilAndEmptyReturnNilUUID(t *testing.T) {
	o := &Orchestrator{proc: oparl.New()}
	assert.Equal(t, uuid.Nil, o.refUUID(nil))
	empty := ""
	assert.Equal(t, uuid.Nil, o.refUUID(&empty))

	id := "https://ris.example.de/person/1"
	assert.Equal(t, o.proc.GenerateUUID(id), o.refUUID(&id))
}

func TestRefUUID_IsDeterministic(t *testing.T) {
	o := &Orchestrator{proc: oparl.New()}
	id := "https://ris.example.de/organization/7"
	first := o.refUUID(&id)
	second := o.refUUID(&id)
	assert.Equal(t, first, second)
}

func TestFileParentIDs_PrefersFirstBackReference(t *testing.T) {
	o := &Orchestrator{proc: oparl.New()}
	f := &oparl.File{
		PaperExternalIDs:   []string{"https://ris.example.de/paper/1", "https://ris.example.de/paper/2"},
		MeetingExternalIDs: []string{"https://ris.example.de/meeting/1"},
	}
	paperID, meetingID := o.fileParentIDs(f)
	assert.Equal(t, o.proc.GenerateUUID("https://ris.example.de/paper/1"), paperID)
	assert.Equal(t, o.proc.GenerateUUID("https://ris.example.de/meeting/1"), meetingID)
}

func TestFileParentIDs_NoBackReferencesYieldsNilUUIDs(t *testing.T) {
	o := &Orchestrator{proc: oparl.New()}
	paperID, meetingID := o.fileParentIDs(&oparl.File{})
	assert.Equal(t, uuid.Nil, paperID)
	assert.Equal(t, uuid.Nil, meetingID)
}

func TestProcessItem_DispatchesByType(t *testing.T) {
	o := &Orchestrator{proc: oparl.New()}
	raw := map[string]any{
		"id": "https://ris.example.de/person/1", "type": "https://schema.oparl.org/1.1/Person", "name": "A. Example",
	}
	item := o.processItem(oparl.TypePerson, raw, "https://ris.example.de/body/1")
	require.NotNil(t, item)
	person, ok := item.(*oparl.Person)
	require.True(t, ok)
	assert.Equal(t, "A. Example", *person.Name)
}

func TestProcessItem_UnknownKindReturnsNil(t *testing.T) {
	o := &Orchestrator{proc: oparl.New()}
	assert.Nil(t, o.processItem(oparl.Type("unknown"), map[string]any{}, "b"))
}

func TestDerefOr(t *testing.T) {
	assert.Equal(t, "", derefOr(nil))
	s := "value"
	assert.Equal(t, "value", derefOr(&s))
}

func TestEmitEntityCreated_MeetingsAndPapersArePriority(t *testing.T) {
	o := &Orchestrator{emitter: events.New(nil, nil, true, 50)}
	ctx := context.Background()

	// These should never panic or block; the disabled emitter is a
	// no-op, so this only verifies the priority-routing call succeeds.
	o.emitEntityCreated(ctx, &oparl.Entity{OParlType: oparl.TypeMeeting, ID: uuid.Nil, ExternalID: "m1"}, "Sitzung 1")
	o.emitEntityCreated(ctx, &oparl.Entity{OParlType: oparl.TypePaper, ID: uuid.Nil, ExternalID: "p1"}, "Vorlage 1")
	o.emitEntityCreated(ctx, &oparl.Entity{OParlType: oparl.TypePerson, ID: uuid.Nil, ExternalID: "pe1"}, "Person 1")
}
