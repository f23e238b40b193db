// Package oparl processes raw OParl JSON objects into normalized,
// UUID-keyed entities: it detects the object's type, parses timestamps,
// walks embedded sub-objects, and extracts relation references so the
// storage layer never has to look at raw JSON again.
package oparl

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the OParl object kinds this processor understands.
type Type string

const (
	TypeSystem          Type = "System"
	TypeBody             Type = "Body"
	TypeOrganization     Type = "Organization"
	TypePerson           Type = "Person"
	TypeMeeting          Type = "Meeting"
	TypeAgendaItem       Type = "AgendaItem"
	TypePaper            Type = "Paper"
	TypeConsultation     Type = "Consultation"
	TypeFile             Type = "File"
	TypeLocation         Type = "Location"
	TypeMembership       Type = "Membership"
	TypeLegislativeTerm  Type = "LegislativeTerm"
)

// typeURLs maps schema.oparl.org type URLs (1.0 and 1.1) to Type.
var typeURLs = map[string]Type{
	"https://schema.oparl.org/1.0/System":         TypeSystem,
	"https://schema.oparl.org/1.1/System":         TypeSystem,
	"https://schema.oparl.org/1.0/Body":           TypeBody,
	"https://schema.oparl.org/1.1/Body":           TypeBody,
	"https://schema.oparl.org/1.0/Organization":   TypeOrganization,
	"https://schema.oparl.org/1.1/Organization":   TypeOrganization,
	"https://schema.oparl.org/1.0/Person":         TypePerson,
	"https://schema.oparl.org/1.1/Person":         TypePerson,
	"https://schema.oparl.org/1.0/Meeting":        TypeMeeting,
	"https://schema.oparl.org/1.1/Meeting":        TypeMeeting,
	"https://schema.oparl.org/1.0/AgendaItem":     TypeAgendaItem,
	"https://schema.oparl.org/1.1/AgendaItem":     TypeAgendaItem,
	"https://schema.oparl.org/1.0/Paper":          TypePaper,
	"https://schema.oparl.org/1.1/Paper":          TypePaper,
	"https://schema.oparl.org/1.0/Consultation":   TypeConsultation,
	"https://schema.oparl.org/1.1/Consultation":   TypeConsultation,
	"https://schema.oparl.org/1.0/File":           TypeFile,
	"https://schema.oparl.org/1.1/File":           TypeFile,
	"https://schema.oparl.org/1.0/Location":       TypeLocation,
	"https://schema.oparl.org/1.1/Location":       TypeLocation,
	"https://schema.oparl.org/1.0/Membership":     TypeMembership,
	"https://schema.oparl.org/1.1/Membership":     TypeMembership,
	"https://schema.oparl.org/1.0/LegislativeTerm": TypeLegislativeTerm,
	"https://schema.oparl.org/1.1/LegislativeTerm": TypeLegislativeTerm,
}

// Entity is the field set shared by every processed object.
type Entity struct {
	ID             uuid.UUID
	ExternalID     string
	OParlType      Type
	RawJSON        map[string]any
	BodyExternalID string
	OParlCreated   *time.Time
	OParlModified  *time.Time

	// Nested holds fully processed sub-objects found embedded in this
	// object's JSON (files, agenda items, consultations, locations,
	// legislative terms).
	Nested []Processed

	// References maps a relation name ("organization", "files", ...) to
	// the external IDs it points at, for relations expressed by ID
	// rather than embedding.
	References map[string][]string
}

// Processed is implemented by every concrete processed type, giving the
// storage layer uniform access to the shared fields for type-switching.
type Processed interface {
	Base() *Entity
}

func (e *Entity) Base() *Entity { return e }

func newEntity(id uuid.UUID, externalID string, t Type, raw map[string]any, bodyExternalID string, created, modified *time.Time) Entity {
	return Entity{
		ID:             id,
		ExternalID:     externalID,
		OParlType:      t,
		RawJSON:        raw,
		BodyExternalID: bodyExternalID,
		OParlCreated:   created,
		OParlModified:  modified,
		References:     make(map[string][]string),
	}
}

// Body is a processed OParl Body.
type Body struct {
	Entity

	Name           string
	ShortName      *string
	Website        *string
	License        *string
	Classification *string

	OrganizationListURL    *string
	PersonListURL          *string
	MeetingListURL         *string
	PaperListURL           *string
	MembershipListURL      *string
	LocationListURL        *string
	AgendaItemListURL      *string
	ConsultationListURL    *string
	FileListURL            *string
	LegislativeTermListURL *string
}

// Meeting is a processed OParl Meeting.
type Meeting struct {
	Entity

	Name         *string
	MeetingState *string
	Cancelled    bool
	Start        *time.Time
	End          *time.Time

	LocationExternalID *string
	LocationName       *string
	LocationAddress    *string
}

// Paper is a processed OParl Paper.
type Paper struct {
	Entity

	Name      *string
	Reference *string
	PaperType *string
	Date      *time.Time
}

// Person is a processed OParl Person.
type Person struct {
	Entity

	Name       *string
	FamilyName *string
	GivenName  *string
	Title      *string
	Gender     *string
	Email      *string
	Phone      *string
}

// Organization is a processed OParl Organization.
type Organization struct {
	Entity

	Name             *string
	ShortName        *string
	OrganizationType *string
	Classification   *string
	StartDate        *time.Time
	EndDate          *time.Time
	Website          *string
}

// AgendaItem is a processed OParl AgendaItem.
type AgendaItem struct {
	Entity

	Number             *string
	Order              *int
	Name               *string
	Public             bool
	Result             *string
	ResolutionText     *string
	MeetingExternalID  *string
}

// File is a processed OParl File.
type File struct {
	Entity

	Name        *string
	FileName    *string
	MimeType    *string
	Size        *int64
	AccessURL   *string
	DownloadURL *string
	Date        *time.Time

	// Back-references read from a standalone File object, or stamped from
	// the parent when the File is embedded in a Paper/Meeting.
	PaperExternalIDs   []string
	MeetingExternalIDs []string
}

// Location is a processed OParl Location.
type Location struct {
	Entity

	Description   *string
	StreetAddress *string
	Room          *string
	PostalCode    *string
	Locality      *string
	GeoJSON       map[string]any
}

// Consultation is a processed OParl Consultation.
type Consultation struct {
	Entity

	PaperExternalID      *string
	MeetingExternalID    *string
	AgendaItemExternalID *string
	Role                 *string
	Authoritative        bool
}

// Membership is a processed OParl Membership.
type Membership struct {
	Entity

	PersonExternalID       *string
	OrganizationExternalID *string
	Role                   *string
	VotingRight            bool
	StartDate              *time.Time
	EndDate                *time.Time
}

// LegislativeTerm is a processed OParl LegislativeTerm.
type LegislativeTerm struct {
	Entity

	Name      *string
	StartDate *time.Time
	EndDate   *time.Time
}
