package oparl

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Processor turns raw OParl JSON objects into Processed entities. One
// Processor is shared across a sync run so its UUID cache stays warm.
type Processor struct {
	mu      sync.Mutex
	idCache map[string]uuid.UUID
}

// New creates a Processor.
func New() *Processor {
	return &Processor{idCache: make(map[string]uuid.UUID)}
}

// GenerateUUID derives a deterministic UUID from an external ID using
// UUID5 over the URL namespace, matching how the stable ID for a given
// OParl resource must be reproducible across runs.
func (p *Processor) GenerateUUID(externalID string) uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.idCache[externalID]; ok {
		return id
	}
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(externalID))
	p.idCache[externalID] = id
	return id
}

// ParseDateTime parses an OParl datetime or date-only string. Returns nil
// on empty input or a format it can't recognize rather than erroring,
// since a handful of municipal OParl servers emit malformed timestamps
// and a single bad value must not abort a sync.
func ParseDateTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	v := strings.ReplaceAll(value, "Z", "+00:00")
	if !strings.Contains(v, "T") {
		v += "T00:00:00+00:00"
	}
	t, err := time.Parse("2006-01-02T15:04:05Z07:00", v)
	if err != nil {
		return nil
	}
	return &t
}

// GetType returns the Type for a raw object's "type" field, if known.
func GetType(data map[string]any) (Type, bool) {
	raw, _ := data["type"].(string)
	t, ok := typeURLs[raw]
	return t, ok
}

func getString(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func getStringPtr(data map[string]any, key string) *string {
	v, ok := data[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func getBool(data map[string]any, key string, def bool) bool {
	v, ok := data[key].(bool)
	if !ok {
		return def
	}
	return v
}

func getInt(data map[string]any, key string) *int {
	switch v := data[key].(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	default:
		return nil
	}
}

func getInt64(data map[string]any, key string) *int64 {
	switch v := data[key].(type) {
	case float64:
		n := int64(v)
		return &n
	case int64:
		return &v
	default:
		return nil
	}
}

func getDateTimePtr(data map[string]any, key string) *time.Time {
	v, ok := data[key].(string)
	if !ok {
		return nil
	}
	return ParseDateTime(v)
}

func getMap(data map[string]any, key string) (map[string]any, bool) {
	m, ok := data[key].(map[string]any)
	return m, ok
}

func getList(data map[string]any, key string) []any {
	l, _ := data[key].([]any)
	return l
}

// normalizeStringField coerces a field that should be a string but is
// sometimes emitted as a singleton list by nonconforming servers.
func normalizeStringField(v any) *string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return &val
	case []any:
		if len(val) == 0 {
			return nil
		}
		if s, ok := val[0].(string); ok && s != "" {
			return &s
		}
		return nil
	default:
		return nil
	}
}

// Process detects the type of a raw OParl object and dispatches to the
// matching specific processor. Returns nil if the type is unrecognized.
func (p *Processor) Process(data map[string]any, bodyExternalID string) Processed {
	t, ok := GetType(data)
	if !ok {
		return nil
	}

	switch t {
	case TypeBody:
		return p.ProcessBody(data)
	case TypeMeeting:
		return p.ProcessMeeting(data, bodyExternalID)
	case TypePaper:
		return p.ProcessPaper(data, bodyExternalID)
	case TypePerson:
		return p.ProcessPerson(data, bodyExternalID)
	case TypeOrganization:
		return p.ProcessOrganization(data, bodyExternalID)
	case TypeAgendaItem:
		return p.ProcessAgendaItem(data, bodyExternalID)
	case TypeFile:
		return p.ProcessFile(data, bodyExternalID)
	case TypeLocation:
		return p.ProcessLocation(data, bodyExternalID)
	case TypeConsultation:
		return p.ProcessConsultation(data, bodyExternalID)
	case TypeMembership:
		return p.ProcessMembership(data, bodyExternalID)
	case TypeLegislativeTerm:
		return p.ProcessLegislativeTerm(data, bodyExternalID)
	default:
		return p.processBase(data, t, bodyExternalID)
	}
}

func (p *Processor) processBase(data map[string]any, t Type, bodyExternalID string) *Entity {
	externalID := getString(data, "id")
	body := bodyExternalID
	if body == "" {
		body = p.extractBodyID(data)
	}
	e := newEntity(p.GenerateUUID(externalID), externalID, t, data, body,
		getDateTimePtr(data, "created"), getDateTimePtr(data, "modified"))
	return &e
}

// ProcessBody processes an OParl Body. The body's own external ID is its
// own body reference.
func (p *Processor) ProcessBody(data map[string]any) *Body {
	externalID := getString(data, "id")
	name := getString(data, "name")
	if name == "" {
		name = "Unknown"
	}

	body := &Body{
		Entity: newEntity(p.GenerateUUID(externalID), externalID, TypeBody, data, externalID,
			getDateTimePtr(data, "created"), getDateTimePtr(data, "modified")),
		Name:           name,
		ShortName:      getStringPtr(data, "shortName"),
		Website:        getStringPtr(data, "website"),
		License:        getStringPtr(data, "license"),
		Classification: getStringPtr(data, "classification"),

		OrganizationListURL: getStringPtr(data, "organization"),
		PersonListURL:       getStringPtr(data, "person"),
		MeetingListURL:      getStringPtr(data, "meeting"),
		PaperListURL:        getStringPtr(data, "paper"),
		MembershipListURL:   getStringPtr(data, "membership"),
		// Different servers use different field names for the same list.
		LocationListURL:   getStringPtr(data, "locationList"), // Münster & Bonn
		AgendaItemListURL: getStringPtr(data, "agendaItem"),
		ConsultationListURL: firstNonNil(
			getStringPtr(data, "consultation"), getStringPtr(data, "consultations")),
		FileListURL: firstNonNil(
			getStringPtr(data, "file"), getStringPtr(data, "files")),
		LegislativeTermListURL: getStringPtr(data, "legislativeTermList"),
	}

	for _, raw := range getList(data, "legislativeTerm") {
		if m, ok := raw.(map[string]any); ok {
			body.Nested = append(body.Nested, p.ProcessLegislativeTerm(m, externalID))
		}
	}

	return body
}

func firstNonNil(a, b *string) *string {
	if a != nil {
		return a
	}
	return b
}

// ProcessMeeting processes an OParl Meeting, including its embedded
// location, agenda items, and files.
func (p *Processor) ProcessMeeting(data map[string]any, bodyExternalID string) *Meeting {
	externalID := getString(data, "id")
	body := bodyExternalID
	if body == "" {
		body = p.extractBodyID(data)
	}

	m := &Meeting{
		Entity: newEntity(p.GenerateUUID(externalID), externalID, TypeMeeting, data, body,
			getDateTimePtr(data, "created"), getDateTimePtr(data, "modified")),
		Name:         getStringPtr(data, "name"),
		MeetingState: getStringPtr(data, "meetingState"),
		Cancelled:    getBool(data, "cancelled", false),
		Start:        getDateTimePtr(data, "start"),
		End:          getDateTimePtr(data, "end"),
	}

	switch loc := data["location"].(type) {
	case map[string]any:
		m.LocationExternalID = getStringPtr(loc, "id")
		m.LocationName = firstNonNil(getStringPtr(loc, "room"), getStringPtr(loc, "description"))
		m.LocationAddress = getStringPtr(loc, "streetAddress")
		m.Nested = append(m.Nested, p.ProcessLocation(loc, body))
	case string:
		m.LocationExternalID = &loc
	}

	if orgs := getList(data, "organization"); len(orgs) > 0 {
		m.References["organization"] = extractRefs(orgs)
	}

	for _, raw := range getList(data, "agendaItem") {
		if ai, ok := raw.(map[string]any); ok {
			item := p.ProcessAgendaItem(ai, body)
			item.MeetingExternalID = &externalID
			m.Nested = append(m.Nested, item)
		}
	}

	p.extractFiles(&m.Entity, data, body)

	return m
}

// ProcessPaper processes an OParl Paper, including its embedded files
// and consultations.
func (p *Processor) ProcessPaper(data map[string]any, bodyExternalID string) *Paper {
	externalID := getString(data, "id")
	body := bodyExternalID
	if body == "" {
		body = p.extractBodyID(data)
	}

	name := getStringPtr(data, "name")
	if name != nil && len(*name) > 500 {
		truncated := (*name)[:497] + "..."
		name = &truncated
	}

	paper := &Paper{
		Entity: newEntity(p.GenerateUUID(externalID), externalID, TypePaper, data, body,
			getDateTimePtr(data, "created"), getDateTimePtr(data, "modified")),
		Name:      name,
		Reference: getStringPtr(data, "reference"),
		PaperType: getStringPtr(data, "paperType"),
		Date:      getDateTimePtr(data, "date"),
	}

	p.extractFiles(&paper.Entity, data, body)

	for _, raw := range getList(data, "consultation") {
		if cd, ok := raw.(map[string]any); ok {
			cons := p.ProcessConsultation(cd, body)
			cons.PaperExternalID = &externalID
			paper.Nested = append(paper.Nested, cons)
		}
	}

	if v, ok := data["originatorPerson"]; ok {
		if refs := extractRefs(toList(v)); len(refs) > 0 {
			paper.References["originator_person"] = refs
		}
	}
	if v, ok := data["originatorOrganization"]; ok {
		if refs := extractRefs(toList(v)); len(refs) > 0 {
			paper.References["originator_organization"] = refs
		}
	}
	if v, ok := data["underDirectionOf"]; ok {
		if refs := extractRefs(toList(v)); len(refs) > 0 {
			paper.References["under_direction_of"] = refs
		}
	}

	return paper
}

func toList(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return nil
}

// ProcessPerson processes an OParl Person.
func (p *Processor) ProcessPerson(data map[string]any, bodyExternalID string) *Person {
	externalID := getString(data, "id")
	body := bodyExternalID
	if body == "" {
		body = p.extractBodyID(data)
	}

	return &Person{
		Entity: newEntity(p.GenerateUUID(externalID), externalID, TypePerson, data, body,
			getDateTimePtr(data, "created"), getDateTimePtr(data, "modified")),
		Name:       getStringPtr(data, "name"),
		FamilyName: getStringPtr(data, "familyName"),
		GivenName:  getStringPtr(data, "givenName"),
		Title:      normalizeStringField(data["title"]),
		Gender:     getStringPtr(data, "gender"),
		Email:      normalizeStringField(data["email"]),
		Phone:      normalizeStringField(data["phone"]),
	}
}

// ProcessOrganization processes an OParl Organization.
func (p *Processor) ProcessOrganization(data map[string]any, bodyExternalID string) *Organization {
	externalID := getString(data, "id")
	body := bodyExternalID
	if body == "" {
		body = p.extractBodyID(data)
	}

	return &Organization{
		Entity: newEntity(p.GenerateUUID(externalID), externalID, TypeOrganization, data, body,
			getDateTimePtr(data, "created"), getDateTimePtr(data, "modified")),
		Name:             getStringPtr(data, "name"),
		ShortName:        getStringPtr(data, "shortName"),
		OrganizationType: getStringPtr(data, "organizationType"),
		Classification:   getStringPtr(data, "classification"),
		StartDate:        getDateTimePtr(data, "startDate"),
		EndDate:          getDateTimePtr(data, "endDate"),
		Website:          getStringPtr(data, "website"),
	}
}

// ProcessAgendaItem processes an OParl AgendaItem.
func (p *Processor) ProcessAgendaItem(data map[string]any, bodyExternalID string) *AgendaItem {
	externalID := getString(data, "id")

	item := &AgendaItem{
		Entity: newEntity(p.GenerateUUID(externalID), externalID, TypeAgendaItem, data, bodyExternalID,
			getDateTimePtr(data, "created"), getDateTimePtr(data, "modified")),
		Number:         getStringPtr(data, "number"),
		Order:          getInt(data, "order"),
		Name:           getStringPtr(data, "name"),
		Public:         getBool(data, "public", true),
		Result:         getStringPtr(data, "result"),
		ResolutionText: getStringPtr(data, "resolutionText"),
	}
	item.MeetingExternalID = refID(data["meeting"])

	switch cons := data["consultation"].(type) {
	case string:
		item.References["consultation"] = []string{cons}
	case map[string]any:
		item.References["consultation"] = []string{getString(cons, "id")}
	}

	return item
}

// ProcessFile processes an OParl File, truncating name/fileName to fit
// their database columns and extracting the paper/meeting back-references
// present on standalone file objects.
func (p *Processor) ProcessFile(data map[string]any, bodyExternalID string) *File {
	externalID := getString(data, "id")

	name := getStringPtr(data, "name")
	if name != nil && len(*name) > 500 {
		truncated := (*name)[:497] + "..."
		name = &truncated
	}
	fileName := getStringPtr(data, "fileName")
	if fileName != nil && len(*fileName) > 255 {
		truncated := (*fileName)[:252] + "..."
		fileName = &truncated
	}

	return &File{
		Entity: newEntity(p.GenerateUUID(externalID), externalID, TypeFile, data, bodyExternalID,
			getDateTimePtr(data, "created"), getDateTimePtr(data, "modified")),
		Name:               name,
		FileName:           fileName,
		MimeType:           getStringPtr(data, "mimeType"),
		Size:               getInt64(data, "size"),
		AccessURL:          getStringPtr(data, "accessUrl"),
		DownloadURL:        getStringPtr(data, "downloadUrl"),
		Date:               getDateTimePtr(data, "date"),
		PaperExternalIDs:   extractRefs(getList(data, "paper")),
		MeetingExternalIDs: extractRefs(getList(data, "meeting")),
	}
}

// ProcessLocation processes an OParl Location.
func (p *Processor) ProcessLocation(data map[string]any, bodyExternalID string) *Location {
	externalID := getString(data, "id")
	geojson, _ := getMap(data, "geojson")

	return &Location{
		Entity: newEntity(p.GenerateUUID(externalID), externalID, TypeLocation, data, bodyExternalID,
			getDateTimePtr(data, "created"), getDateTimePtr(data, "modified")),
		Description:   getStringPtr(data, "description"),
		StreetAddress: getStringPtr(data, "streetAddress"),
		Room:          getStringPtr(data, "room"),
		PostalCode:    getStringPtr(data, "postalCode"),
		Locality:      getStringPtr(data, "locality"),
		GeoJSON:       geojson,
	}
}

// ProcessConsultation processes an OParl Consultation.
func (p *Processor) ProcessConsultation(data map[string]any, bodyExternalID string) *Consultation {
	externalID := getString(data, "id")

	cons := &Consultation{
		Entity: newEntity(p.GenerateUUID(externalID), externalID, TypeConsultation, data, bodyExternalID,
			getDateTimePtr(data, "created"), getDateTimePtr(data, "modified")),
		Role:          getStringPtr(data, "role"),
		Authoritative: getBool(data, "authoritative", false),
	}
	cons.PaperExternalID = refID(data["paper"])
	cons.MeetingExternalID = refID(data["meeting"])
	cons.AgendaItemExternalID = refID(data["agendaItem"])

	if orgs := getList(data, "organization"); len(orgs) > 0 {
		cons.References["organization"] = extractRefs(orgs)
	}

	return cons
}

// ProcessMembership processes an OParl Membership.
func (p *Processor) ProcessMembership(data map[string]any, bodyExternalID string) *Membership {
	externalID := getString(data, "id")

	m := &Membership{
		Entity: newEntity(p.GenerateUUID(externalID), externalID, TypeMembership, data, bodyExternalID,
			getDateTimePtr(data, "created"), getDateTimePtr(data, "modified")),
		Role:        getStringPtr(data, "role"),
		VotingRight: getBool(data, "votingRight", true),
		StartDate:   getDateTimePtr(data, "startDate"),
		EndDate:     getDateTimePtr(data, "endDate"),
	}
	m.PersonExternalID = refID(data["person"])
	m.OrganizationExternalID = refID(data["organization"])

	return m
}

// ProcessLegislativeTerm processes an OParl LegislativeTerm.
func (p *Processor) ProcessLegislativeTerm(data map[string]any, bodyExternalID string) *LegislativeTerm {
	externalID := getString(data, "id")
	body := bodyExternalID
	if body == "" {
		body = p.extractBodyID(data)
	}

	return &LegislativeTerm{
		Entity: newEntity(p.GenerateUUID(externalID), externalID, TypeLegislativeTerm, data, body,
			getDateTimePtr(data, "created"), getDateTimePtr(data, "modified")),
		Name:      getStringPtr(data, "name"),
		StartDate: getDateTimePtr(data, "startDate"),
		EndDate:   getDateTimePtr(data, "endDate"),
	}
}

func (p *Processor) extractBodyID(data map[string]any) string {
	switch b := data["body"].(type) {
	case string:
		return b
	case map[string]any:
		return getString(b, "id")
	default:
		return ""
	}
}

func extractRefs(items []any) []string {
	refs := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			refs = append(refs, v)
		case map[string]any:
			if id, ok := v["id"].(string); ok {
				refs = append(refs, id)
			}
		}
	}
	return refs
}

// refID extracts the external ID from a single-valued OParl reference
// field, which servers emit either as a bare string or as an embedded
// object with an "id" key.
func refID(v any) *string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return &val
	case map[string]any:
		if id, ok := val["id"].(string); ok && id != "" {
			return &id
		}
		return nil
	default:
		return nil
	}
}

// fileFields lists every OParl field that embeds one or more File
// objects, directly or as a list.
var fileFields = []string{
	"mainFile",
	"auxiliaryFile",
	"invitation",
	"resultsProtocol",
	"verbatimProtocol",
	"derivativeFile",
}

func (p *Processor) extractFiles(entity *Entity, data map[string]any, bodyExternalID string) {
	var fileRefs []string

	for _, field := range fileFields {
		switch files := data[field].(type) {
		case map[string]any:
			f := p.ProcessFile(files, bodyExternalID)
			stampFileParent(f, entity)
			entity.Nested = append(entity.Nested, f)
			fileRefs = append(fileRefs, getString(files, "id"))
		case []any:
			for _, raw := range files {
				switch v := raw.(type) {
				case map[string]any:
					f := p.ProcessFile(v, bodyExternalID)
					stampFileParent(f, entity)
					entity.Nested = append(entity.Nested, f)
					fileRefs = append(fileRefs, getString(v, "id"))
				case string:
					fileRefs = append(fileRefs, v)
				}
			}
		}
	}

	if len(fileRefs) > 0 {
		entity.References["files"] = fileRefs
	}
}

// stampFileParent gives an embedded File a back-reference to the Meeting
// or Paper it was nested under, since a server that embeds a file under
// "invitation" or "mainFile" doesn't repeat the parent's id on the file
// object itself the way a standalone File resource does.
func stampFileParent(f *File, parent *Entity) {
	switch parent.OParlType {
	case TypeMeeting:
		if len(f.MeetingExternalIDs) == 0 {
			f.MeetingExternalIDs = []string{parent.ExternalID}
		}
	case TypePaper:
		if len(f.PaperExternalIDs) == 0 {
			f.PaperExternalIDs = []string{parent.ExternalID}
		}
	}
}
