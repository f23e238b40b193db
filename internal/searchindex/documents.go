// Package searchindex converts persisted OParl entities into flat
// Meilisearch documents and pushes them to the search backend.
package searchindex

import (
	"strings"

	"github.com/mandari/ingestor/internal/model"
)

const (
	maxFilePreviewChars    = 5000
	maxPaperPreviewChars   = 25000
	maxStandaloneFileChars = 500
)

// Document is a flat, JSON-serializable Meilisearch document. Every
// builder below populates the subset of fields relevant to its entity
// type; the rest are omitted rather than sent as null.
type Document map[string]any

// PaperDocument builds the search document for a Paper, folding in a
// text preview assembled from its associated Files (capped per-file and
// in total so one long OCR result can't dominate the index).
func PaperDocument(p *model.Paper, files []*model.File) Document {
	var fileNames []string
	var chunks []string
	totalLen := 0

	for _, f := range files {
		if f.FileName != nil && *f.FileName != "" {
			fileNames = append(fileNames, *f.FileName)
		}
		if f.TextContent != nil && *f.TextContent != "" && totalLen < maxPaperPreviewChars {
			chunk := strings.TrimSpace(truncate(*f.TextContent, maxFilePreviewChars))
			chunks = append(chunks, chunk)
			totalLen += len(chunk)
		}
	}

	preview := strings.Join(chunks, "\n\n")
	preview = truncate(preview, maxPaperPreviewChars)

	doc := Document{
		"id":                    p.ID.String(),
		"type":                  "paper",
		"body_id":               p.BodyID.String(),
		"name":                  derefOr(p.Name, ""),
		"reference":             derefOr(p.Reference, ""),
		"paper_type":            derefOr(p.PaperType, ""),
		"file_contents_preview": preview,
		"file_names":            orEmptySlice(fileNames),
	}
	if p.Date != nil {
		doc["date"] = p.Date.Format(dateLayout)
	}
	if p.OParlCreated != nil {
		doc["oparl_created"] = p.OParlCreated.Format(timeLayout)
	}
	if p.OParlModified != nil {
		doc["oparl_modified"] = p.OParlModified.Format(timeLayout)
	}
	return doc
}

// MeetingDocument builds the search document for a Meeting.
func MeetingDocument(m *model.Meeting) Document {
	doc := Document{
		"id":            m.ID.String(),
		"type":          "meeting",
		"body_id":       m.BodyID.String(),
		"name":          derefOr(m.Name, ""),
		"location_name": derefOr(m.LocationName, ""),
		"cancelled":     m.Cancelled,
	}
	if m.Start != nil {
		doc["start"] = m.Start.Format(timeLayout)
	}
	if m.End != nil {
		doc["end"] = m.End.Format(timeLayout)
	}
	if m.OParlModified != nil {
		doc["oparl_modified"] = m.OParlModified.Format(timeLayout)
	}
	return doc
}

// PersonDocument builds the search document for a Person.
func PersonDocument(p *model.Person) Document {
	doc := Document{
		"id":          p.ID.String(),
		"type":        "person",
		"body_id":     p.BodyID.String(),
		"name":        derefOr(p.Name, ""),
		"given_name":  derefOr(p.GivenName, ""),
		"family_name": derefOr(p.FamilyName, ""),
		"title":       derefOr(p.Title, ""),
	}
	if p.OParlModified != nil {
		doc["oparl_modified"] = p.OParlModified.Format(timeLayout)
	}
	return doc
}

// OrganizationDocument builds the search document for an Organization.
func OrganizationDocument(o *model.Organization) Document {
	doc := Document{
		"id":                o.ID.String(),
		"type":              "organization",
		"body_id":           o.BodyID.String(),
		"name":              derefOr(o.Name, ""),
		"short_name":        derefOr(o.ShortName, ""),
		"organization_type": derefOr(o.OrganizationType, ""),
		"classification":    derefOr(o.Classification, ""),
	}
	if o.OParlModified != nil {
		doc["oparl_modified"] = o.OParlModified.Format(timeLayout)
	}
	return doc
}

// FileDocument builds the search document for a standalone File,
// including a short text preview distinct from the Paper-level one.
func FileDocument(f *model.File) Document {
	text := derefOr(f.TextContent, "")
	preview := text
	if len(text) > maxStandaloneFileChars {
		preview = strings.TrimSpace(text[:maxStandaloneFileChars]) + "..."
	}

	doc := Document{
		"id":           f.ID.String(),
		"type":         "file",
		"name":         derefOr(f.Name, ""),
		"file_name":    derefOr(f.FileName, ""),
		"mime_type":    derefOr(f.MimeType, ""),
		"text_content": text,
		"text_preview": preview,
	}
	if f.BodyID != nil {
		doc["body_id"] = f.BodyID.String()
	}
	if f.PaperID != nil {
		doc["paper_id"] = f.PaperID.String()
	}
	if f.MeetingID != nil {
		doc["meeting_id"] = f.MeetingID.String()
	}
	if f.OParlModified != nil {
		doc["oparl_modified"] = f.OParlModified.Format(timeLayout)
	}
	return doc
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02T15:04:05Z07:00"
)

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
