package oparl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUID_IsDeterministicAndCached(t *testing.T) {
	p := New()
	a := p.GenerateUUID("https://ris.muenster.de/body/1")
	b := p.GenerateUUID("https://ris.muenster.de/body/1")
	c := p.GenerateUUID("https://ris.muenster.de/body/2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestParseDateTime(t *testing.T) {
	cases := map[string]bool{
		"2024-01-15T10:30:00+00:00": true,
		"2024-01-15T10:30:00Z":      true,
		"2024-01-15":                true,
		"":                          false,
		"not-a-date":                false,
	}
	for input, wantOK := range cases {
		got := ParseDateTime(input)
		if wantOK {
			assert.NotNilf(t, got, "input %q", input)
		} else {
			assert.Nilf(t, got, "input %q", input)
		}
	}
}

func TestGetType_UnknownReturnsFalse(t *testing.T) {
	_, ok := GetType(map[string]any{"type": "https://schema.oparl.org/9.9/Unknown"})
	assert.False(t, ok)

	typ, ok := GetType(map[string]any{"type": "https://schema.oparl.org/1.1/Paper"})
	require.True(t, ok)
	assert.Equal(t, TypePaper, typ)
}

func TestProcessBody_ParsesListURLVariants(t *testing.T) {
	p := New()
	data := map[string]any{
		"id":           "https://ris.bonn.de/body/1",
		"type":         "https://schema.oparl.org/1.1/Body",
		"name":         "Bonn",
		"locationList": "https://ris.bonn.de/locations",
		"agendaItem":   "https://ris.bonn.de/agendaitems",
		"file":         "https://ris.bonn.de/files",
	}
	body := p.ProcessBody(data)

	assert.Equal(t, "Bonn", body.Name)
	require.NotNil(t, body.LocationListURL)
	assert.Equal(t, "https://ris.bonn.de/locations", *body.LocationListURL)
	require.NotNil(t, body.FileListURL)
	assert.Equal(t, "https://ris.bonn.de/files", *body.FileListURL)
}

func TestProcessBody_DefaultsMissingNameToUnknown(t *testing.T) {
	p := New()
	body := p.ProcessBody(map[string]any{
		"id":   "https://ris.example.de/body/1",
		"type": "https://schema.oparl.org/1.1/Body",
	})
	assert.Equal(t, "Unknown", body.Name)
}

func TestProcessBody_ProcessesEmbeddedLegislativeTerms(t *testing.T) {
	p := New()
	body := p.ProcessBody(map[string]any{
		"id":   "https://ris.example.de/body/1",
		"type": "https://schema.oparl.org/1.1/Body",
		"name": "Example",
		"legislativeTerm": []any{
			map[string]any{"id": "https://ris.example.de/term/1", "type": "https://schema.oparl.org/1.1/LegislativeTerm", "name": "2020-2025"},
		},
	})
	require.Len(t, body.Nested, 1)
	term, ok := body.Nested[0].(*LegislativeTerm)
	require.True(t, ok)
	require.NotNil(t, term.Name)
	assert.Equal(t, "2020-2025", *term.Name)
}

func TestProcessMeeting_ExtractsEmbeddedLocationAndAgendaItems(t *testing.T) {
	p := New()
	data := map[string]any{
		"id":   "https://ris.example.de/meeting/1",
		"type": "https://schema.oparl.org/1.1/Meeting",
		"name": "Ratssitzung",
		"location": map[string]any{
			"id":            "https://ris.example.de/location/1",
			"type":          "https://schema.oparl.org/1.1/Location",
			"room":          "Saal 1",
			"streetAddress": "Hauptstr. 1",
		},
		"organization": []any{"https://ris.example.de/org/1"},
		"agendaItem": []any{
			map[string]any{"id": "https://ris.example.de/ai/1", "type": "https://schema.oparl.org/1.1/AgendaItem", "name": "TOP 1"},
		},
	}
	m := p.ProcessMeeting(data, "https://ris.example.de/body/1")

	require.NotNil(t, m.LocationExternalID)
	assert.Equal(t, "https://ris.example.de/location/1", *m.LocationExternalID)
	require.NotNil(t, m.LocationName)
	assert.Equal(t, "Saal 1", *m.LocationName)
	assert.Equal(t, []string{"https://ris.example.de/org/1"}, m.References["organization"])

	var foundAgendaItem, foundLocation bool
	for _, n := range m.Nested {
		switch v := n.(type) {
		case *AgendaItem:
			foundAgendaItem = true
			require.NotNil(t, v.MeetingExternalID)
			assert.Equal(t, "https://ris.example.de/meeting/1", *v.MeetingExternalID)
		case *Location:
			foundLocation = true
		}
	}
	assert.True(t, foundAgendaItem)
	assert.True(t, foundLocation)
}

func TestProcessPaper_TruncatesLongNameAndExtractsReferences(t *testing.T) {
	p := New()
	longName := ""
	for i := 0; i < 600; i++ {
		longName += "x"
	}
	data := map[string]any{
		"id":               "https://ris.example.de/paper/1",
		"type":             "https://schema.oparl.org/1.1/Paper",
		"name":             longName,
		"originatorPerson": []any{"https://ris.example.de/person/1"},
	}
	paper := p.ProcessPaper(data, "https://ris.example.de/body/1")

	require.NotNil(t, paper.Name)
	assert.Len(t, *paper.Name, 500)
	assert.True(t, (*paper.Name)[497:500] == "...")
	assert.Equal(t, []string{"https://ris.example.de/person/1"}, paper.References["originator_person"])
}

func TestProcessPerson_NormalizesListEmailAndPhone(t *testing.T) {
	p := New()
	person := p.ProcessPerson(map[string]any{
		"id":    "https://ris.example.de/person/1",
		"type":  "https://schema.oparl.org/1.1/Person",
		"name":  "Jane Doe",
		"email": []any{"jane@example.de"},
	}, "")

	require.NotNil(t, person.Email)
	assert.Equal(t, "jane@example.de", *person.Email)
}

func TestProcessFile_TruncatesNameAndFileName(t *testing.T) {
	p := New()
	longName := ""
	for i := 0; i < 600; i++ {
		longName += "a"
	}
	longFileName := ""
	for i := 0; i < 300; i++ {
		longFileName += "b"
	}
	f := p.ProcessFile(map[string]any{
		"id":       "https://ris.example.de/file/1",
		"type":     "https://schema.oparl.org/1.1/File",
		"name":     longName,
		"fileName": longFileName,
		"paper":    []any{"https://ris.example.de/paper/1"},
	}, "")

	assert.Len(t, *f.Name, 500)
	assert.Len(t, *f.FileName, 255)
	assert.Equal(t, []string{"https://ris.example.de/paper/1"}, f.PaperExternalIDs)
}

func TestExtractFiles_CollectsAllFileFieldsAndReferences(t *testing.T) {
	p := New()
	m := p.ProcessMeeting(map[string]any{
		"id":   "https://ris.example.de/meeting/2",
		"type": "https://schema.oparl.org/1.1/Meeting",
		"invitation": map[string]any{
			"id": "https://ris.example.de/file/1", "type": "https://schema.oparl.org/1.1/File",
		},
		"resultsProtocol": []any{
			map[string]any{"id": "https://ris.example.de/file/2", "type": "https://schema.oparl.org/1.1/File"},
		},
	}, "")

	assert.ElementsMatch(t, []string{
		"https://ris.example.de/file/1", "https://ris.example.de/file/2",
	}, m.References["files"])

	var fileCount int
	for _, n := range m.Nested {
		f, ok := n.(*File)
		if !ok {
			continue
		}
		fileCount++
		assert.Equal(t, []string{"https://ris.example.de/meeting/2"}, f.MeetingExternalIDs,
			"an embedded file must be stamped with its parent meeting's external id")
	}
	assert.Equal(t, 2, fileCount)
}

func TestExtractFiles_StampsPaperParentOnEmbeddedFile(t *testing.T) {
	p := New()
	paper := p.ProcessPaper(map[string]any{
		"id":   "https://ris.example.de/paper/2",
		"type": "https://schema.oparl.org/1.1/Paper",
		"mainFile": map[string]any{
			"id": "https://ris.example.de/file/3", "type": "https://schema.oparl.org/1.1/File",
		},
	}, "")

	require.Len(t, paper.Nested, 1)
	f, ok := paper.Nested[0].(*File)
	require.True(t, ok)
	assert.Equal(t, []string{"https://ris.example.de/paper/2"}, f.PaperExternalIDs)
	assert.Empty(t, f.MeetingExternalIDs)
}

func TestProcess_DispatchesByType(t *testing.T) {
	p := New()
	result := p.Process(map[string]any{
		"id":   "https://ris.example.de/org/1",
		"type": "https://schema.oparl.org/1.1/Organization",
		"name": "Fraktion A",
	}, "")

	org, ok := result.(*Organization)
	require.True(t, ok)
	require.NotNil(t, org.Name)
	assert.Equal(t, "Fraktion A", *org.Name)
}

func TestProcess_UnknownTypeReturnsNil(t *testing.T) {
	p := New()
	result := p.Process(map[string]any{"id": "x", "type": "not-oparl"}, "")
	assert.Nil(t, result)
}
