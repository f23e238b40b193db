package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/mandari/ingestor/internal/model"
	"github.com/mandari/ingestor/internal/oparl"
	"github.com/mandari/ingestor/internal/searchindex"
)

// touchedSet accumulates the entities persisted during one body's sync
// walk, grouped by kind, so the indexing pass at the end of syncBody
// knows exactly what to push without re-querying storage for anything
// that didn't change.
type touchedSet struct {
	organizations []*oparl.Organization
	persons       []*oparl.Person
	meetings      []*oparl.Meeting
	papers        []*oparl.Paper
	files         []*oparl.File
}

func newTouchedSet() *touchedSet {
	return &touchedSet{}
}

func (t *touchedSet) add(item oparl.Processed) {
	switch e := item.(type) {
	case *oparl.Organization:
		t.organizations = append(t.organizations, e)
	case *oparl.Person:
		t.persons = append(t.persons, e)
	case *oparl.Meeting:
		t.meetings = append(t.meetings, e)
	case *oparl.Paper:
		t.papers = append(t.papers, e)
	case *oparl.File:
		t.files = append(t.files, e)
	}
}

// indexTouched converts everything touched during a body's sync walk
// into search documents and pushes them to their respective indexes.
// File text is re-read from storage so a File extracted earlier in this
// same cycle is reflected in both the standalone File document and any
// Paper it belongs to; a File whose extraction is still pending simply
// indexes with an empty preview and picks up text on the next cycle.
func (o *Orchestrator) indexTouched(ctx context.Context, b *oparl.Body, touched *touchedSet) error {
	files := make([]*model.File, 0, len(touched.files))
	filesByPaper := make(map[string][]*model.File)
	for _, f := range touched.files {
		mf := o.fileToModel(ctx, b, f)
		files = append(files, mf)
		if mf.PaperID != nil {
			key := mf.PaperID.String()
			filesByPaper[key] = append(filesByPaper[key], mf)
		}
	}

	var errs []error

	if len(touched.organizations) > 0 {
		docs := make([]searchindex.Document, 0, len(touched.organizations))
		for _, org := range touched.organizations {
			docs = append(docs, searchindex.OrganizationDocument(organizationToModel(b, org)))
		}
		if err := o.indexer.IndexDocuments(ctx, "organizations", docs); err != nil {
			errs = append(errs, err)
		}
	}

	if len(touched.persons) > 0 {
		docs := make([]searchindex.Document, 0, len(touched.persons))
		for _, p := range touched.persons {
			docs = append(docs, searchindex.PersonDocument(personToModel(b, p)))
		}
		if err := o.indexer.IndexDocuments(ctx, "persons", docs); err != nil {
			errs = append(errs, err)
		}
	}

	if len(touched.meetings) > 0 {
		docs := make([]searchindex.Document, 0, len(touched.meetings))
		for _, m := range touched.meetings {
			docs = append(docs, searchindex.MeetingDocument(meetingToModel(b, m)))
		}
		if err := o.indexer.IndexDocuments(ctx, "meetings", docs); err != nil {
			errs = append(errs, err)
		}
	}

	if len(touched.papers) > 0 {
		docs := make([]searchindex.Document, 0, len(touched.papers))
		for _, p := range touched.papers {
			mp := paperToModel(b, p)
			docs = append(docs, searchindex.PaperDocument(mp, filesByPaper[mp.ID.String()]))
		}
		if err := o.indexer.IndexDocuments(ctx, "papers", docs); err != nil {
			errs = append(errs, err)
		}
	}

	if len(files) > 0 {
		docs := make([]searchindex.Document, 0, len(files))
		for _, f := range files {
			docs = append(docs, searchindex.FileDocument(f))
		}
		if err := o.indexer.IndexDocuments(ctx, "files", docs); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("index touched entities for body %s: %w", b.ExternalID, errors.Join(errs...))
	}
	return nil
}

func (o *Orchestrator) fileToModel(ctx context.Context, b *oparl.Body, f *oparl.File) *model.File {
	mf := &model.File{
		Entity: model.Entity{
			ID:            f.ID,
			ExternalID:    f.ExternalID,
			OParlCreated:  f.OParlCreated,
			OParlModified: f.OParlModified,
		},
		BodyID:      &b.ID,
		Name:        f.Name,
		FileName:    f.FileName,
		MimeType:    f.MimeType,
		Size:        f.Size,
		AccessURL:   f.AccessURL,
		DownloadURL: f.DownloadURL,
		FileDate:    f.Date,
	}
	if len(f.PaperExternalIDs) > 0 {
		id := o.proc.GenerateUUID(f.PaperExternalIDs[0])
		mf.PaperID = &id
	}
	if len(f.MeetingExternalIDs) > 0 {
		id := o.proc.GenerateUUID(f.MeetingExternalIDs[0])
		mf.MeetingID = &id
	}

	text, err := o.db.GetFileText(ctx, f.ID)
	if err != nil {
		o.logf("failed to read extracted file text for indexing", "file", f.ExternalID, "err", err)
	} else {
		mf.TextContent = text
	}
	return mf
}

func organizationToModel(b *oparl.Body, o *oparl.Organization) *model.Organization {
	return &model.Organization{
		Entity:           entityFrom(o.Entity),
		BodyID:           b.ID,
		Name:             o.Name,
		ShortName:        o.ShortName,
		OrganizationType: o.OrganizationType,
		Classification:   o.Classification,
		StartDate:        o.StartDate,
		EndDate:          o.EndDate,
		Website:          o.Website,
	}
}

func personToModel(b *oparl.Body, p *oparl.Person) *model.Person {
	return &model.Person{
		Entity:     entityFrom(p.Entity),
		BodyID:     b.ID,
		Name:       p.Name,
		FamilyName: p.FamilyName,
		GivenName:  p.GivenName,
		Title:      p.Title,
		Gender:     p.Gender,
		Email:      p.Email,
		Phone:      p.Phone,
	}
}

func meetingToModel(b *oparl.Body, m *oparl.Meeting) *model.Meeting {
	return &model.Meeting{
		Entity:             entityFrom(m.Entity),
		BodyID:             b.ID,
		Name:               m.Name,
		MeetingState:       m.MeetingState,
		Cancelled:          m.Cancelled,
		Start:              m.Start,
		End:                m.End,
		LocationExternalID: m.LocationExternalID,
		LocationName:       m.LocationName,
		LocationAddress:    m.LocationAddress,
	}
}

func paperToModel(b *oparl.Body, p *oparl.Paper) *model.Paper {
	return &model.Paper{
		Entity:    entityFrom(p.Entity),
		BodyID:    b.ID,
		Name:      p.Name,
		Reference: p.Reference,
		PaperType: p.PaperType,
		Date:      p.Date,
	}
}

func entityFrom(e oparl.Entity) model.Entity {
	return model.Entity{
		ID:            e.ID,
		ExternalID:    e.ExternalID,
		OParlCreated:  e.OParlCreated,
		OParlModified: e.OParlModified,
		RawJSON:       e.RawJSON,
	}
}
