package sync

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandari/ingestor/internal/oparl"
)

func ptr(s string) *string { return &s }

func TestTouchedSet_AddGroupsByConcreteType(t *testing.T) {
	ts := newTouchedSet()
	ts.add(&oparl.Organization{Name: ptr("Rat")})
	ts.add(&oparl.Person{Name: ptr("A. Example")})
	ts.add(&oparl.Meeting{Name: ptr("Sitzung 1")})
	ts.add(&oparl.Paper{Name: ptr("Vorlage 1")})
	ts.add(&oparl.File{Name: ptr("Anlage 1")})
	ts.add(&oparl.Location{Description: ptr("Rathaus")})

	require.Len(t, ts.organizations, 1)
	require.Len(t, ts.persons, 1)
	require.Len(t, ts.meetings, 1)
	require.Len(t, ts.papers, 1)
	require.Len(t, ts.files, 1)
}

func TestOrganizationToModel_CopiesFieldsAndBodyID(t *testing.T) {
	b := &oparl.Body{Entity: oparl.Entity{ID: uuid.New()}}
	org := &oparl.Organization{
		Entity:           oparl.Entity{ID: uuid.New(), ExternalID: "https://ris.example.de/org/1"},
		Name:             ptr("Stadtrat"),
		OrganizationType: ptr("committee"),
	}

	m := organizationToModel(b, org)
	assert.Equal(t, org.ID, m.ID)
	assert.Equal(t, b.ID, m.BodyID)
	assert.Equal(t, "Stadtrat", *m.Name)
	assert.Equal(t, "committee", *m.OrganizationType)
}

func TestMeetingToModel_CopiesTimesAndLocation(t *testing.T) {
	b := &oparl.Body{Entity: oparl.Entity{ID: uuid.New()}}
	start := time.Date(2026, 8, 1, 18, 0, 0, 0, time.UTC)
	meeting := &oparl.Meeting{
		Entity:       oparl.Entity{ID: uuid.New()},
		Name:         ptr("Sitzung 1"),
		Start:        &start,
		LocationName: ptr("Rathaus"),
		Cancelled:    true,
	}

	m := meetingToModel(b, meeting)
	assert.Equal(t, "Sitzung 1", *m.Name)
	assert.Equal(t, start, *m.Start)
	assert.Equal(t, "Rathaus", *m.LocationName)
	assert.True(t, m.Cancelled)
}

func TestPaperToModel_CopiesReferenceAndType(t *testing.T) {
	b := &oparl.Body{Entity: oparl.Entity{ID: uuid.New()}}
	paper := &oparl.Paper{
		Entity:    oparl.Entity{ID: uuid.New()},
		Name:      ptr("Vorlage 1"),
		Reference: ptr("2026/001"),
		PaperType: ptr("Antrag"),
	}

	m := paperToModel(b, paper)
	assert.Equal(t, "Vorlage 1", *m.Name)
	assert.Equal(t, "2026/001", *m.Reference)
	assert.Equal(t, "Antrag", *m.PaperType)
	assert.Equal(t, b.ID, m.BodyID)
}

func TestPersonToModel_CopiesNameFields(t *testing.T) {
	b := &oparl.Body{Entity: oparl.Entity{ID: uuid.New()}}
	person := &oparl.Person{
		Entity:     oparl.Entity{ID: uuid.New()},
		GivenName:  ptr("A."),
		FamilyName: ptr("Example"),
	}

	m := personToModel(b, person)
	assert.Equal(t, "A.", *m.GivenName)
	assert.Equal(t, "Example", *m.FamilyName)
}

func TestEntityFrom_CopiesSharedFields(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id := uuid.New()
	e := oparl.Entity{ID: id, ExternalID: "https://ris.example.de/x/1", OParlCreated: &created}

	m := entityFrom(e)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "https://ris.example.de/x/1", m.ExternalID)
	assert.Equal(t, created, *m.OParlCreated)
}
