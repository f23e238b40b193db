package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mandari/ingestor/internal/oparl"
)

// staleUpdateGuard is appended to every upsert's ON CONFLICT DO UPDATE so a
// write carrying an older oparl_modified than the row already on disk is a
// no-op instead of clobbering newer data. NULL on either side still allows
// the update through, since absence of a modified timestamp can't be
// compared.
func staleUpdateGuard(table string) string {
	return "WHERE " + table + ".oparl_modified IS NULL OR EXCLUDED.oparl_modified IS NULL OR EXCLUDED.oparl_modified >= " + table + ".oparl_modified"
}

// scanUpsert reads the `(xmax = 0)` inserted flag from an upsert's
// RETURNING clause. When the ON CONFLICT DO UPDATE's WHERE guard skips a
// stale write, Postgres returns no row at all, which this treats as a
// no-op update rather than an error.
func scanUpsert(row rowScanner) (bool, error) {
	var inserted bool
	err := row.Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return inserted, err
}

// UpsertBody inserts or updates a Body row, keyed by external_id. The
// returned bool reports whether the row was newly inserted, so callers
// can decide whether an entity-created event is warranted.
func (db *DB) UpsertBody(ctx context.Context, sourceID uuid.UUID, b *oparl.Body) (bool, error) {
	inserted, err := scanUpsert(db.pool.QueryRow(ctx, `
		INSERT INTO oparl_bodies (
			id, external_id, source_id, name, short_name, website, license, classification,
			organization_list_url, person_list_url, meeting_list_url, paper_list_url,
			membership_list_url, location_list_url, agenda_item_list_url,
			consultation_list_url, file_list_url, legislative_term_list_url,
			oparl_created, oparl_modified, raw_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			short_name = EXCLUDED.short_name,
			website = EXCLUDED.website,
			license = EXCLUDED.license,
			classification = EXCLUDED.classification,
			organization_list_url = EXCLUDED.organization_list_url,
			person_list_url = EXCLUDED.person_list_url,
			meeting_list_url = EXCLUDED.meeting_list_url,
			paper_list_url = EXCLUDED.paper_list_url,
			membership_list_url = EXCLUDED.membership_list_url,
			location_list_url = EXCLUDED.location_list_url,
			agenda_item_list_url = EXCLUDED.agenda_item_list_url,
			consultation_list_url = EXCLUDED.consultation_list_url,
			file_list_url = EXCLUDED.file_list_url,
			legislative_term_list_url = EXCLUDED.legislative_term_list_url,
			oparl_created = EXCLUDED.oparl_created,
			oparl_modified = EXCLUDED.oparl_modified,
			raw_json = EXCLUDED.raw_json,
			updated_at = now()
		`+staleUpdateGuard("oparl_bodies")+`
		RETURNING (xmax = 0)
	`, b.ID, b.ExternalID, sourceID, b.Name, b.ShortName, b.Website, b.License, b.Classification,
		b.OrganizationListURL, b.PersonListURL, b.MeetingListURL, b.PaperListURL,
		b.MembershipListURL, b.LocationListURL, b.AgendaItemListURL,
		b.ConsultationListURL, b.FileListURL, b.LegislativeTermListURL,
		b.OParlCreated, b.OParlModified, orEmptyMap(b.RawJSON)))
	if err != nil {
		return false, fmt.Errorf("storage: upsert body: %w", err)
	}
	return inserted, nil
}

// UpsertOrganization inserts or updates an Organization row.
func (db *DB) UpsertOrganization(ctx context.Context, bodyID uuid.UUID, o *oparl.Organization) (bool, error) {
	inserted, err := scanUpsert(db.pool.QueryRow(ctx, `
		INSERT INTO oparl_organizations (
			id, external_id, body_id, name, short_name, organization_type, classification,
			start_date, end_date, website, oparl_created, oparl_modified, raw_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			short_name = EXCLUDED.short_name,
			organization_type = EXCLUDED.organization_type,
			classification = EXCLUDED.classification,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			website = EXCLUDED.website,
			oparl_created = EXCLUDED.oparl_created,
			oparl_modified = EXCLUDED.oparl_modified,
			raw_json = EXCLUDED.raw_json,
			updated_at = now()
		`+staleUpdateGuard("oparl_organizations")+`
		RETURNING (xmax = 0)
	`, o.ID, o.ExternalID, bodyID, o.Name, o.ShortName, o.OrganizationType, o.Classification,
		o.StartDate, o.EndDate, o.Website, o.OParlCreated, o.OParlModified, orEmptyMap(o.RawJSON)))
	if err != nil {
		return false, fmt.Errorf("storage: upsert organization: %w", err)
	}
	return inserted, nil
}

// UpsertPerson inserts or updates a Person row.
func (db *DB) UpsertPerson(ctx context.Context, bodyID uuid.UUID, p *oparl.Person) (bool, error) {
	inserted, err := scanUpsert(db.pool.QueryRow(ctx, `
		INSERT INTO oparl_persons (
			id, external_id, body_id, name, family_name, given_name, title, gender, email, phone,
			oparl_created, oparl_modified, raw_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			family_name = EXCLUDED.family_name,
			given_name = EXCLUDED.given_name,
			title = EXCLUDED.title,
			gender = EXCLUDED.gender,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			oparl_created = EXCLUDED.oparl_created,
			oparl_modified = EXCLUDED.oparl_modified,
			raw_json = EXCLUDED.raw_json,
			updated_at = now()
		`+staleUpdateGuard("oparl_persons")+`
		RETURNING (xmax = 0)
	`, p.ID, p.ExternalID, bodyID, p.Name, p.FamilyName, p.GivenName, p.Title, p.Gender, p.Email, p.Phone,
		p.OParlCreated, p.OParlModified, orEmptyMap(p.RawJSON)))
	if err != nil {
		return false, fmt.Errorf("storage: upsert person: %w", err)
	}
	return inserted, nil
}

// UpsertMeeting inserts or updates a Meeting row.
func (db *DB) UpsertMeeting(ctx context.Context, bodyID uuid.UUID, m *oparl.Meeting) (bool, error) {
	inserted, err := scanUpsert(db.pool.QueryRow(ctx, `
		INSERT INTO oparl_meetings (
			id, external_id, body_id, name, meeting_state, cancelled, start, "end",
			location_external_id, location_name, location_address,
			oparl_created, oparl_modified, raw_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			meeting_state = EXCLUDED.meeting_state,
			cancelled = EXCLUDED.cancelled,
			start = EXCLUDED.start,
			"end" = EXCLUDED."end",
			location_external_id = EXCLUDED.location_external_id,
			location_name = EXCLUDED.location_name,
			location_address = EXCLUDED.location_address,
			oparl_created = EXCLUDED.oparl_created,
			oparl_modified = EXCLUDED.oparl_modified,
			raw_json = EXCLUDED.raw_json,
			updated_at = now()
		`+staleUpdateGuard("oparl_meetings")+`
		RETURNING (xmax = 0)
	`, m.ID, m.ExternalID, bodyID, m.Name, m.MeetingState, m.Cancelled, m.Start, m.End,
		m.LocationExternalID, m.LocationName, m.LocationAddress,
		m.OParlCreated, m.OParlModified, orEmptyMap(m.RawJSON)))
	if err != nil {
		return false, fmt.Errorf("storage: upsert meeting: %w", err)
	}
	return inserted, nil
}

// UpsertPaper inserts or updates a Paper row.
func (db *DB) UpsertPaper(ctx context.Context, bodyID uuid.UUID, p *oparl.Paper) (bool, error) {
	inserted, err := scanUpsert(db.pool.QueryRow(ctx, `
		INSERT INTO oparl_papers (
			id, external_id, body_id, name, reference, paper_type, date,
			oparl_created, oparl_modified, raw_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			reference = EXCLUDED.reference,
			paper_type = EXCLUDED.paper_type,
			date = EXCLUDED.date,
			oparl_created = EXCLUDED.oparl_created,
			oparl_modified = EXCLUDED.oparl_modified,
			raw_json = EXCLUDED.raw_json,
			updated_at = now()
		`+staleUpdateGuard("oparl_papers")+`
		RETURNING (xmax = 0)
	`, p.ID, p.ExternalID, bodyID, p.Name, p.Reference, p.PaperType, p.Date,
		p.OParlCreated, p.OParlModified, orEmptyMap(p.RawJSON)))
	if err != nil {
		return false, fmt.Errorf("storage: upsert paper: %w", err)
	}
	return inserted, nil
}

// UpsertAgendaItem inserts or updates an AgendaItem row.
func (db *DB) UpsertAgendaItem(ctx context.Context, meetingID uuid.UUID, a *oparl.AgendaItem) (bool, error) {
	inserted, err := scanUpsert(db.pool.QueryRow(ctx, `
		INSERT INTO oparl_agenda_items (
			id, external_id, meeting_id, number, "order", name, public, result, resolution_text,
			oparl_created, oparl_modified, raw_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (external_id) DO UPDATE SET
			number = EXCLUDED.number,
			"order" = EXCLUDED."order",
			name = EXCLUDED.name,
			public = EXCLUDED.public,
			result = EXCLUDED.result,
			resolution_text = EXCLUDED.resolution_text,
			oparl_created = EXCLUDED.oparl_created,
			oparl_modified = EXCLUDED.oparl_modified,
			raw_json = EXCLUDED.raw_json,
			updated_at = now()
		`+staleUpdateGuard("oparl_agenda_items")+`
		RETURNING (xmax = 0)
	`, a.ID, a.ExternalID, meetingID, a.Number, a.Order, a.Name, a.Public, a.Result, a.ResolutionText,
		a.OParlCreated, a.OParlModified, orEmptyMap(a.RawJSON)))
	if err != nil {
		return false, fmt.Errorf("storage: upsert agenda item: %w", err)
	}
	return inserted, nil
}

// UpsertFile inserts or updates a File row. bodyID, paperID, and
// meetingID may each be uuid.Nil when not applicable.
func (db *DB) UpsertFile(ctx context.Context, bodyID, paperID, meetingID uuid.UUID, f *oparl.File) (bool, error) {
	inserted, err := scanUpsert(db.pool.QueryRow(ctx, `
		INSERT INTO oparl_files (
			id, external_id, body_id, paper_id, meeting_id, name, file_name, mime_type, size,
			access_url, download_url, file_date, oparl_created, oparl_modified, raw_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			file_name = EXCLUDED.file_name,
			mime_type = EXCLUDED.mime_type,
			size = EXCLUDED.size,
			access_url = EXCLUDED.access_url,
			download_url = EXCLUDED.download_url,
			file_date = EXCLUDED.file_date,
			oparl_created = EXCLUDED.oparl_created,
			oparl_modified = EXCLUDED.oparl_modified,
			raw_json = EXCLUDED.raw_json,
			updated_at = now()
		`+staleUpdateGuard("oparl_files")+`
		RETURNING (xmax = 0)
	`, f.ID, f.ExternalID, nilToNull(bodyID), nilToNull(paperID), nilToNull(meetingID),
		f.Name, f.FileName, f.MimeType, f.Size, f.AccessURL, f.DownloadURL, f.Date,
		f.OParlCreated, f.OParlModified, orEmptyMap(f.RawJSON)))
	if err != nil {
		return false, fmt.Errorf("storage: upsert file: %w", err)
	}
	return inserted, nil
}

// FileExtractionResult carries the outcome of one extraction attempt for
// a single file row.
type FileExtractionResult struct {
	Status      string
	Method      *string
	PageCount   *int
	TextContent *string
	SHA256Hash  *string
	Error       *string
}

// SetFileExtraction records the result of a text extraction attempt,
// identified by the file's deterministic ID.
func (db *DB) SetFileExtraction(ctx context.Context, fileID uuid.UUID, r FileExtractionResult) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE oparl_files SET
			extraction_status = $2,
			extraction_method = $3,
			page_count = $4,
			text_content = COALESCE($5, text_content),
			sha256_hash = COALESCE($6, sha256_hash),
			extraction_error = $7,
			updated_at = now()
		WHERE id = $1
	`, fileID, r.Status, r.Method, r.PageCount, r.TextContent, r.SHA256Hash, r.Error)
	if err != nil {
		return fmt.Errorf("storage: set file extraction: %w", err)
	}
	return nil
}

// ListPendingFiles returns up to limit File rows for a body whose
// extraction status is pending or failed, and which have a
// downloadable URL.
func (db *DB) ListPendingFiles(ctx context.Context, bodyID uuid.UUID, limit int) ([]PendingFile, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, external_id, COALESCE(download_url, access_url, ''), COALESCE(mime_type, ''), COALESCE(file_name, '')
		FROM oparl_files
		WHERE body_id = $1
		  AND extraction_status IN ('pending', 'failed')
		  AND (download_url IS NOT NULL OR access_url IS NOT NULL)
		ORDER BY created_at
		LIMIT $2
	`, bodyID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending files: %w", err)
	}
	defer rows.Close()

	var files []PendingFile
	for rows.Next() {
		var f PendingFile
		if err := rows.Scan(&f.ID, &f.ExternalID, &f.URL, &f.MimeType, &f.FileName); err != nil {
			return nil, fmt.Errorf("storage: scan pending file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// PendingFile is a minimal projection of a File row queued for extraction.
type PendingFile struct {
	ID         uuid.UUID
	ExternalID string
	URL        string
	MimeType   string
	FileName   string
}

// MarkFileProcessing flags a file as currently being extracted, so a
// concurrent scheduler run doesn't pick up the same row twice.
func (db *DB) MarkFileProcessing(ctx context.Context, fileID uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `UPDATE oparl_files SET extraction_status = 'processing', updated_at = now() WHERE id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("storage: mark file processing: %w", err)
	}
	return nil
}

// GetFileText returns the extracted text content of a file, or nil if
// extraction hasn't produced any (not yet run, or a scanned file with
// no usable text layer). Used by the search indexer to pick up text
// that a just-completed extraction pass wrote to the row.
func (db *DB) GetFileText(ctx context.Context, fileID uuid.UUID) (*string, error) {
	var text *string
	err := db.pool.QueryRow(ctx, `SELECT text_content FROM oparl_files WHERE id = $1`, fileID).Scan(&text)
	if err != nil {
		return nil, fmt.Errorf("storage: get file text: %w", err)
	}
	return text, nil
}

// UpsertLocation inserts or updates a Location row.
func (db *DB) UpsertLocation(ctx context.Context, bodyID uuid.UUID, l *oparl.Location) (bool, error) {
	inserted, err := scanUpsert(db.pool.QueryRow(ctx, `
		INSERT INTO oparl_locations (
			id, external_id, body_id, description, street_address, room, postal_code, locality, geojson,
			oparl_created, oparl_modified, raw_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (external_id) DO UPDATE SET
			description = EXCLUDED.description,
			street_address = EXCLUDED.street_address,
			room = EXCLUDED.room,
			postal_code = EXCLUDED.postal_code,
			locality = EXCLUDED.locality,
			geojson = EXCLUDED.geojson,
			oparl_created = EXCLUDED.oparl_created,
			oparl_modified = EXCLUDED.oparl_modified,
			raw_json = EXCLUDED.raw_json,
			updated_at = now()
		`+staleUpdateGuard("oparl_locations")+`
		RETURNING (xmax = 0)
	`, l.ID, l.ExternalID, nilToNull(bodyID), l.Description, l.StreetAddress, l.Room, l.PostalCode, l.Locality, l.GeoJSON,
		l.OParlCreated, l.OParlModified, orEmptyMap(l.RawJSON)))
	if err != nil {
		return false, fmt.Errorf("storage: upsert location: %w", err)
	}
	return inserted, nil
}

// UpsertConsultation inserts or updates a Consultation row. paperID may
// be uuid.Nil when the referenced paper hasn't been synced yet.
func (db *DB) UpsertConsultation(ctx context.Context, bodyID, paperID uuid.UUID, c *oparl.Consultation) (bool, error) {
	inserted, err := scanUpsert(db.pool.QueryRow(ctx, `
		INSERT INTO oparl_consultations (
			id, external_id, body_id, paper_id, paper_external_id, meeting_external_id,
			agenda_item_external_id, role, authoritative, oparl_created, oparl_modified, raw_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (external_id) DO UPDATE SET
			paper_external_id = EXCLUDED.paper_external_id,
			meeting_external_id = EXCLUDED.meeting_external_id,
			agenda_item_external_id = EXCLUDED.agenda_item_external_id,
			role = EXCLUDED.role,
			authoritative = EXCLUDED.authoritative,
			oparl_created = EXCLUDED.oparl_created,
			oparl_modified = EXCLUDED.oparl_modified,
			raw_json = EXCLUDED.raw_json,
			updated_at = now()
		`+staleUpdateGuard("oparl_consultations")+`
		RETURNING (xmax = 0)
	`, c.ID, c.ExternalID, nilToNull(bodyID), nilToNull(paperID), c.PaperExternalID, c.MeetingExternalID,
		c.AgendaItemExternalID, c.Role, c.Authoritative, c.OParlCreated, c.OParlModified, orEmptyMap(c.RawJSON)))
	if err != nil {
		return false, fmt.Errorf("storage: upsert consultation: %w", err)
	}
	return inserted, nil
}

// UpsertMembership inserts or updates a Membership row. personID and
// organizationID may each be uuid.Nil when the referenced entity hasn't
// been synced yet.
func (db *DB) UpsertMembership(ctx context.Context, bodyID, personID, organizationID uuid.UUID, m *oparl.Membership) (bool, error) {
	inserted, err := scanUpsert(db.pool.QueryRow(ctx, `
		INSERT INTO oparl_memberships (
			id, external_id, body_id, person_id, organization_id,
			person_external_id, organization_external_id, role, voting_right,
			start_date, end_date, oparl_created, oparl_modified, raw_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (external_id) DO UPDATE SET
			person_external_id = EXCLUDED.person_external_id,
			organization_external_id = EXCLUDED.organization_external_id,
			role = EXCLUDED.role,
			voting_right = EXCLUDED.voting_right,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			oparl_created = EXCLUDED.oparl_created,
			oparl_modified = EXCLUDED.oparl_modified,
			raw_json = EXCLUDED.raw_json,
			updated_at = now()
		`+staleUpdateGuard("oparl_memberships")+`
		RETURNING (xmax = 0)
	`, m.ID, m.ExternalID, nilToNull(bodyID), nilToNull(personID), nilToNull(organizationID),
		m.PersonExternalID, m.OrganizationExternalID, m.Role, m.VotingRight,
		m.StartDate, m.EndDate, m.OParlCreated, m.OParlModified, orEmptyMap(m.RawJSON)))
	if err != nil {
		return false, fmt.Errorf("storage: upsert membership: %w", err)
	}
	return inserted, nil
}

// UpsertLegislativeTerm inserts or updates a LegislativeTerm row.
func (db *DB) UpsertLegislativeTerm(ctx context.Context, bodyID uuid.UUID, lt *oparl.LegislativeTerm) (bool, error) {
	inserted, err := scanUpsert(db.pool.QueryRow(ctx, `
		INSERT INTO oparl_legislative_terms (
			id, external_id, body_id, name, start_date, end_date,
			oparl_created, oparl_modified, raw_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			oparl_created = EXCLUDED.oparl_created,
			oparl_modified = EXCLUDED.oparl_modified,
			raw_json = EXCLUDED.raw_json,
			updated_at = now()
		`+staleUpdateGuard("oparl_legislative_terms")+`
		RETURNING (xmax = 0)
	`, lt.ID, lt.ExternalID, nilToNull(bodyID), lt.Name, lt.StartDate, lt.EndDate,
		lt.OParlCreated, lt.OParlModified, orEmptyMap(lt.RawJSON)))
	if err != nil {
		return false, fmt.Errorf("storage: upsert legislative term: %w", err)
	}
	return inserted, nil
}

// nilToNull converts uuid.Nil to a SQL NULL so optional foreign keys
// aren't stored as the all-zero UUID.
func nilToNull(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
