// Package model defines the OParl entity types stored by the ingestion
// core and exchanged between the processor, storage, and search-index
// layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// OParlType identifies the kind of entity an object was parsed from.
type OParlType string

const (
	TypeSystem          OParlType = "System"
	TypeBody             OParlType = "Body"
	TypeOrganization     OParlType = "Organization"
	TypePerson           OParlType = "Person"
	TypeMeeting          OParlType = "Meeting"
	TypeAgendaItem       OParlType = "AgendaItem"
	TypePaper            OParlType = "Paper"
	TypeConsultation     OParlType = "Consultation"
	TypeFile             OParlType = "File"
	TypeLocation         OParlType = "Location"
	TypeMembership       OParlType = "Membership"
	TypeLegislativeTerm  OParlType = "LegislativeTerm"
)

// TypeURLs maps the schema.oparl.org type URLs (1.0 and 1.1) to OParlType.
var TypeURLs = map[string]OParlType{
	"https://schema.oparl.org/1.0/System":          TypeSystem,
	"https://schema.oparl.org/1.1/System":          TypeSystem,
	"https://schema.oparl.org/1.0/Body":            TypeBody,
	"https://schema.oparl.org/1.1/Body":            TypeBody,
	"https://schema.oparl.org/1.0/Organization":    TypeOrganization,
	"https://schema.oparl.org/1.1/Organization":    TypeOrganization,
	"https://schema.oparl.org/1.0/Person":          TypePerson,
	"https://schema.oparl.org/1.1/Person":          TypePerson,
	"https://schema.oparl.org/1.0/Meeting":         TypeMeeting,
	"https://schema.oparl.org/1.1/Meeting":         TypeMeeting,
	"https://schema.oparl.org/1.0/AgendaItem":       TypeAgendaItem,
	"https://schema.oparl.org/1.1/AgendaItem":       TypeAgendaItem,
	"https://schema.oparl.org/1.0/Paper":           TypePaper,
	"https://schema.oparl.org/1.1/Paper":           TypePaper,
	"https://schema.oparl.org/1.0/Consultation":     TypeConsultation,
	"https://schema.oparl.org/1.1/Consultation":     TypeConsultation,
	"https://schema.oparl.org/1.0/File":             TypeFile,
	"https://schema.oparl.org/1.1/File":             TypeFile,
	"https://schema.oparl.org/1.0/Location":         TypeLocation,
	"https://schema.oparl.org/1.1/Location":         TypeLocation,
	"https://schema.oparl.org/1.0/Membership":       TypeMembership,
	"https://schema.oparl.org/1.1/Membership":       TypeMembership,
	"https://schema.oparl.org/1.0/LegislativeTerm":   TypeLegislativeTerm,
	"https://schema.oparl.org/1.1/LegislativeTerm":   TypeLegislativeTerm,
}

// Entity is the base set of columns shared by every stored OParl row.
// Concrete entities embed it.
type Entity struct {
	ID            uuid.UUID      `json:"id"`
	ExternalID    string         `json:"external_id"`
	OParlCreated  *time.Time     `json:"oparl_created,omitempty"`
	OParlModified *time.Time     `json:"oparl_modified,omitempty"`
	RawJSON       map[string]any `json:"raw_json"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Source is a registered OParl endpoint (a city's RIS system).
type Source struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	URL           string         `json:"url"`
	ContactEmail  *string        `json:"contact_email,omitempty"`
	ContactName   *string        `json:"contact_name,omitempty"`
	Website       *string        `json:"website,omitempty"`
	IsActive      bool           `json:"is_active"`
	LastSync      *time.Time     `json:"last_sync,omitempty"`
	LastFullSync  *time.Time     `json:"last_full_sync,omitempty"`
	SyncConfig    map[string]any `json:"sync_config"`
	RawJSON       map[string]any `json:"raw_json"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Body is a municipality/Kommune, the root of one sync tree.
type Body struct {
	Entity

	SourceID uuid.UUID `json:"source_id"`

	Name           string  `json:"name"`
	ShortName      *string `json:"short_name,omitempty"`
	Website        *string `json:"website,omitempty"`
	License        *string `json:"license,omitempty"`
	Classification *string `json:"classification,omitempty"`

	OrganizationListURL    *string `json:"organization_list_url,omitempty"`
	PersonListURL          *string `json:"person_list_url,omitempty"`
	MeetingListURL         *string `json:"meeting_list_url,omitempty"`
	PaperListURL           *string `json:"paper_list_url,omitempty"`
	MembershipListURL      *string `json:"membership_list_url,omitempty"`
	LocationListURL        *string `json:"location_list_url,omitempty"`
	AgendaItemListURL      *string `json:"agenda_item_list_url,omitempty"`
	ConsultationListURL    *string `json:"consultation_list_url,omitempty"`
	FileListURL            *string `json:"file_list_url,omitempty"`
	LegislativeTermListURL *string `json:"legislative_term_list_url,omitempty"`

	LastSync *time.Time `json:"last_sync,omitempty"`
}

// Meeting is a Sitzung.
type Meeting struct {
	Entity

	BodyID uuid.UUID `json:"body_id"`

	Name         *string `json:"name,omitempty"`
	MeetingState *string `json:"meeting_state,omitempty"`
	Cancelled    bool    `json:"cancelled"`

	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	LocationExternalID *string `json:"location_external_id,omitempty"`
	LocationName       *string `json:"location_name,omitempty"`
	LocationAddress    *string `json:"location_address,omitempty"`
}

// Paper is a Vorlage/Vorgang.
type Paper struct {
	Entity

	BodyID uuid.UUID `json:"body_id"`

	Name      *string    `json:"name,omitempty"`
	Reference *string    `json:"reference,omitempty"`
	PaperType *string    `json:"paper_type,omitempty"`
	Date      *time.Time `json:"date,omitempty"`

	// AI-enhanced fields, populated by downstream enrichment, not the
	// processor itself.
	Summary             *string        `json:"summary,omitempty"`
	LocationsExtracted   map[string]any `json:"locations_extracted,omitempty"`
}

// Person is a council member.
type Person struct {
	Entity

	BodyID uuid.UUID `json:"body_id"`

	Name       *string `json:"name,omitempty"`
	FamilyName *string `json:"family_name,omitempty"`
	GivenName  *string `json:"given_name,omitempty"`
	Title      *string `json:"title,omitempty"`
	Gender     *string `json:"gender,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
}

// Organization is a Gremium/Fraktion.
type Organization struct {
	Entity

	BodyID uuid.UUID `json:"body_id"`

	Name             *string    `json:"name,omitempty"`
	ShortName        *string    `json:"short_name,omitempty"`
	OrganizationType *string    `json:"organization_type,omitempty"`
	Classification   *string    `json:"classification,omitempty"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	Website          *string    `json:"website,omitempty"`
}

// AgendaItem is a Tagesordnungspunkt.
type AgendaItem struct {
	Entity

	MeetingID uuid.UUID `json:"meeting_id"`

	Number          *string `json:"number,omitempty"`
	Order           *int    `json:"order,omitempty"`
	Name            *string `json:"name,omitempty"`
	Public          bool    `json:"public"`
	Result          *string `json:"result,omitempty"`
	ResolutionText  *string `json:"resolution_text,omitempty"`
}

// File is a document attachment, either embedded in a Paper/Meeting or
// standalone (fetched from a body's file list).
type File struct {
	Entity

	BodyID    *uuid.UUID `json:"body_id,omitempty"`
	PaperID   *uuid.UUID `json:"paper_id,omitempty"`
	MeetingID *uuid.UUID `json:"meeting_id,omitempty"`

	Name        *string    `json:"name,omitempty"`
	FileName    *string    `json:"file_name,omitempty"`
	MimeType    *string    `json:"mime_type,omitempty"`
	Size        *int64     `json:"size,omitempty"`
	AccessURL   *string    `json:"access_url,omitempty"`
	DownloadURL *string    `json:"download_url,omitempty"`
	FileDate    *time.Time `json:"file_date,omitempty"`

	// Populated by the extraction pipeline.
	LocalPath        *string `json:"local_path,omitempty"`
	TextContent      *string `json:"text_content,omitempty"`
	SHA256Hash       *string `json:"sha256_hash,omitempty"`
	ExtractionStatus string  `json:"extraction_status"`
	ExtractionMethod *string `json:"extraction_method,omitempty"`
	PageCount        *int    `json:"page_count,omitempty"`
	ExtractionError  *string `json:"extraction_error,omitempty"`

	// Back-references present on standalone File objects (fetched
	// individually rather than embedded).
	PaperExternalIDs   []string `json:"-"`
	MeetingExternalIDs []string `json:"-"`
}

// Location is a Sitzungsort or other referenced location.
type Location struct {
	Entity

	BodyID *uuid.UUID `json:"body_id,omitempty"`

	Description   *string        `json:"description,omitempty"`
	StreetAddress *string        `json:"street_address,omitempty"`
	Room          *string        `json:"room,omitempty"`
	PostalCode    *string        `json:"postal_code,omitempty"`
	Locality      *string        `json:"locality,omitempty"`
	GeoJSON       map[string]any `json:"geojson,omitempty"`
}

// Consultation links a Paper to a Meeting/AgendaItem.
type Consultation struct {
	Entity

	BodyID  *uuid.UUID `json:"body_id,omitempty"`
	PaperID *uuid.UUID `json:"paper_id,omitempty"`

	PaperExternalID       *string `json:"paper_external_id,omitempty"`
	MeetingExternalID     *string `json:"meeting_external_id,omitempty"`
	AgendaItemExternalID  *string `json:"agenda_item_external_id,omitempty"`
	Role                  *string `json:"role,omitempty"`
	Authoritative         bool    `json:"authoritative"`
}

// Membership links a Person to an Organization.
type Membership struct {
	Entity

	BodyID         *uuid.UUID `json:"body_id,omitempty"`
	PersonID       *uuid.UUID `json:"person_id,omitempty"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`

	PersonExternalID       *string    `json:"person_external_id,omitempty"`
	OrganizationExternalID *string    `json:"organization_external_id,omitempty"`
	Role                   *string    `json:"role,omitempty"`
	VotingRight            bool       `json:"voting_right"`
	StartDate              *time.Time `json:"start_date,omitempty"`
	EndDate                *time.Time `json:"end_date,omitempty"`
}

// LegislativeTerm is a Wahlperiode.
type LegislativeTerm struct {
	Entity

	BodyID *uuid.UUID `json:"body_id,omitempty"`

	Name      *string    `json:"name,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}
