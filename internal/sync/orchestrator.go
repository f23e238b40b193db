// Package sync drives the end-to-end synchronization of one municipal
// body's OParl data: discovering list endpoints, paginating them,
// handing payloads to the processor, persisting the result, triggering
// text extraction and search indexing, and announcing progress.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mandari/ingestor/internal/events"
	"github.com/mandari/ingestor/internal/extractor"
	"github.com/mandari/ingestor/internal/httpclient"
	"github.com/mandari/ingestor/internal/metrics"
	"github.com/mandari/ingestor/internal/model"
	"github.com/mandari/ingestor/internal/oparl"
	"github.com/mandari/ingestor/internal/searchindex"
	"github.com/mandari/ingestor/internal/storage"
)

var tracer = otel.Tracer("github.com/mandari/ingestor/internal/sync")

// Config configures orchestrator behavior.
type Config struct {
	BodyConcurrency     int
	IncrementalMaxPages int
	PersistBatchSize    int
	ModifiedSlack       time.Duration
}

func (c Config) withDefaults() Config {
	if c.BodyConcurrency <= 0 {
		c.BodyConcurrency = 4
	}
	if c.IncrementalMaxPages <= 0 {
		c.IncrementalMaxPages = 5
	}
	if c.PersistBatchSize <= 0 {
		c.PersistBatchSize = 100
	}
	if c.ModifiedSlack <= 0 {
		c.ModifiedSlack = time.Hour
	}
	return c
}

// Result summarizes one source's sync run.
type Result struct {
	SourceURL      string
	EntitiesSynced int
	Errors         int
	Duration       time.Duration
}

// Orchestrator ties the HTTP client, processor, storage, extractor,
// search indexer, and event emitter into one sync cycle.
type Orchestrator struct {
	db        *storage.DB
	http      *httpclient.Client
	proc      *oparl.Processor
	extractor *extractor.Extractor
	indexer   *searchindex.Indexer
	emitter   *events.Emitter
	metrics   *metrics.Collector
	logger    *slog.Logger
	cfg       Config
}

// New creates an Orchestrator. extractor, indexer, emitter, and metrics
// may be nil; each stage is skipped without error if its collaborator
// is absent.
func New(db *storage.DB, httpc *httpclient.Client, ex *extractor.Extractor, indexer *searchindex.Indexer, emitter *events.Emitter, m *metrics.Collector, logger *slog.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{
		db:        db,
		http:      httpc,
		proc:      oparl.New(),
		extractor: ex,
		indexer:   indexer,
		emitter:   emitter,
		metrics:   m,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// SyncAll runs SyncSource for every active source, bounded by
// BodyConcurrency concurrent sources. A per-source failure is recorded
// in its own Result and does not abort the others.
func (o *Orchestrator) SyncAll(ctx context.Context, full bool) ([]Result, error) {
	sources, err := o.db.ListSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("sync: list active sources: %w", err)
	}

	results := make([]Result, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.BodyConcurrency)

	for i, s := range sources {
		i, s := i, s
		g.Go(func() error {
			results[i] = o.SyncSource(gctx, s, full)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// SyncSource synchronizes every body exposed by one source's OParl
// system endpoint. Failures are captured in the returned Result rather
// than propagated, so a single bad source never aborts a fleet-wide run.
func (o *Orchestrator) SyncSource(ctx context.Context, source *model.Source, full bool) Result {
	start := time.Now()
	syncType := "incremental"
	if full {
		syncType = "full"
	}

	ctx, span := tracer.Start(ctx, "sync.source", trace.WithAttributes(
		attribute.String("sync.source_url", source.URL),
		attribute.String("sync.type", syncType),
	))
	defer span.End()

	var tracker *metrics.SyncTracker
	if o.metrics != nil {
		tracker = o.metrics.TrackSync(source.URL, syncType)
	}
	o.emitter.EmitSyncStarted(ctx, source.URL, source.Name, full)

	result := Result{SourceURL: source.URL}
	err := o.syncSource(ctx, source, full, &result)
	result.Duration = time.Since(start)

	if tracker != nil {
		tracker.Finish(err)
	}
	if err != nil {
		result.Errors++
		span.SetStatus(codes.Error, err.Error())
		o.logf("sync failed", "source", source.URL, "err", err)
		o.emitter.EmitSyncFailed(ctx, source.URL, source.Name, err.Error(), result.Duration)
		return result
	}

	span.SetAttributes(
		attribute.Int("sync.entities_synced", result.EntitiesSynced),
		attribute.Int("sync.errors", result.Errors),
	)

	if err := o.db.UpdateSourceSyncTimes(ctx, source.ID, full, time.Now().UTC()); err != nil {
		o.logf("failed to update source sync timestamps", "source", source.URL, "err", err)
	}
	o.emitter.EmitSyncCompleted(ctx, source.URL, source.Name, result.Duration, result.EntitiesSynced, result.Errors)
	return result
}

func (o *Orchestrator) syncSource(ctx context.Context, source *model.Source, full bool, result *Result) error {
	sysResult := o.http.FetchSystem(ctx, source.URL)
	if sysResult.Error != nil {
		return fmt.Errorf("fetch system endpoint: %w", sysResult.Error)
	}
	bodyListURL, _ := sysResult.Data["body"].(string)
	if bodyListURL == "" {
		return fmt.Errorf("system endpoint %q has no body list URL", source.URL)
	}

	cutoff := cutoffFor(source, o.cfg.ModifiedSlack)
	if full {
		cutoff = time.Time{}
	}

	for page := range o.http.FetchList(ctx, bodyListURL, 0) {
		if page.Err != nil {
			return fmt.Errorf("fetch body list: %w", page.Err)
		}
		for _, raw := range page.Items {
			b := o.proc.ProcessBody(raw)
			created, err := o.db.UpsertBody(ctx, source.ID, b)
			if err != nil {
				result.Errors++
				o.logf("failed to upsert body", "external_id", b.ExternalID, "err", err)
				continue
			}
			if created {
				result.EntitiesSynced++
			}

			if err := o.syncBody(ctx, b, full, cutoff, result); err != nil {
				result.Errors++
				o.logf("body sync failed", "body", b.ExternalID, "err", err)
			}
		}
	}
	return nil
}

func cutoffFor(source *model.Source, slack time.Duration) time.Time {
	if source.LastSync == nil {
		return time.Time{}
	}
	return source.LastSync.Add(-slack)
}

// listStep names one OParl list endpoint walked in the fixed order
// required so a referenced entity (e.g. a Membership's Organization) is
// always synced before anything that references it.
type listStep struct {
	name string
	url  func(*oparl.Body) *string
	kind oparl.Type
}

var listSteps = []listStep{
	{"organizations", func(b *oparl.Body) *string { return b.OrganizationListURL }, oparl.TypeOrganization},
	{"persons", func(b *oparl.Body) *string { return b.PersonListURL }, oparl.TypePerson},
	{"memberships", func(b *oparl.Body) *string { return b.MembershipListURL }, oparl.TypeMembership},
	{"meetings", func(b *oparl.Body) *string { return b.MeetingListURL }, oparl.TypeMeeting},
	{"papers", func(b *oparl.Body) *string { return b.PaperListURL }, oparl.TypePaper},
	{"files", func(b *oparl.Body) *string { return b.FileListURL }, oparl.TypeFile},
	{"locations", func(b *oparl.Body) *string { return b.LocationListURL }, oparl.TypeLocation},
	{"agenda_items", func(b *oparl.Body) *string { return b.AgendaItemListURL }, oparl.TypeAgendaItem},
	{"consultations", func(b *oparl.Body) *string { return b.ConsultationListURL }, oparl.TypeConsultation},
}

// syncBody walks every list endpoint of one body in the fixed dependency
// order, persisting items and any nested entities found inside them,
// then runs extraction and search indexing over what it touched.
func (o *Orchestrator) syncBody(ctx context.Context, b *oparl.Body, full bool, cutoff time.Time, result *Result) error {
	ctx, span := tracer.Start(ctx, "sync.body", trace.WithAttributes(
		attribute.String("sync.body_external_id", b.ExternalID),
	))
	defer span.End()

	maxPages := 0
	if !full {
		maxPages = o.cfg.IncrementalMaxPages
	}

	touched := newTouchedSet()

	for _, step := range listSteps {
		listURL := step.url(b)
		if listURL == nil || *listURL == "" {
			continue
		}
		for page := range o.http.FetchList(ctx, *listURL, maxPages) {
			if page.Err != nil {
				result.Errors++
				o.logf("list fetch failed", "body", b.ExternalID, "list", step.name, "err", page.Err)
				continue
			}
			for _, raw := range page.Items {
				item := o.processItem(step.kind, raw, b.ExternalID)
				if item == nil {
					continue
				}
				if !full && isStale(item.Base(), cutoff) {
					continue
				}
				if err := o.persistTree(ctx, b, item, result, touched); err != nil {
					result.Errors++
					o.logf("persist failed", "body", b.ExternalID, "external_id", item.Base().ExternalID, "err", err)
				}
			}
		}
	}

	if o.extractor != nil {
		extracted, err := o.extractor.ExtractPendingFiles(ctx, b.ID)
		if err != nil {
			o.logf("extraction pass failed", "body", b.ExternalID, "err", err)
		} else if extracted > 0 {
			o.logf("extraction pass complete", "body", b.ExternalID, "extracted", extracted)
		}
	}

	if o.indexer != nil {
		if err := o.indexTouched(ctx, b, touched); err != nil {
			o.logf("indexing pass failed", "body", b.ExternalID, "err", err)
		}
	}

	return nil
}

func isStale(e *oparl.Entity, cutoff time.Time) bool {
	if cutoff.IsZero() || e.OParlModified == nil {
		return false
	}
	return e.OParlModified.Before(cutoff)
}

func (o *Orchestrator) processItem(kind oparl.Type, raw map[string]any, bodyExternalID string) oparl.Processed {
	switch kind {
	case oparl.TypeOrganization:
		return o.proc.ProcessOrganization(raw, bodyExternalID)
	case oparl.TypePerson:
		return o.proc.ProcessPerson(raw, bodyExternalID)
	case oparl.TypeMembership:
		return o.proc.ProcessMembership(raw, bodyExternalID)
	case oparl.TypeMeeting:
		return o.proc.ProcessMeeting(raw, bodyExternalID)
	case oparl.TypePaper:
		return o.proc.ProcessPaper(raw, bodyExternalID)
	case oparl.TypeFile:
		return o.proc.ProcessFile(raw, bodyExternalID)
	case oparl.TypeLocation:
		return o.proc.ProcessLocation(raw, bodyExternalID)
	case oparl.TypeAgendaItem:
		return o.proc.ProcessAgendaItem(raw, bodyExternalID)
	case oparl.TypeConsultation:
		return o.proc.ProcessConsultation(raw, bodyExternalID)
	case oparl.TypeLegislativeTerm:
		return o.proc.ProcessLegislativeTerm(raw, bodyExternalID)
	default:
		return nil
	}
}

// persistTree persists one processed entity and recursively persists
// everything the processor found nested inside it (e.g. a Meeting's
// embedded Location and AgendaItems), recording every entity it touches
// so the indexing pass knows what to reindex.
func (o *Orchestrator) persistTree(ctx context.Context, b *oparl.Body, item oparl.Processed, result *Result, touched *touchedSet) error {
	created, name, err := o.persistOne(ctx, b, item)
	if err != nil {
		return err
	}
	touched.add(item)
	if created {
		result.EntitiesSynced++
		o.emitEntityCreated(ctx, item.Base(), name)
	}

	for _, nested := range item.Base().Nested {
		if err := o.persistTree(ctx, b, nested, result, touched); err != nil {
			result.Errors++
			o.logf("nested persist failed", "body", b.ExternalID, "err", err)
		}
	}
	return nil
}

// persistOne dispatches one processed entity to its storage upsert
// function, resolving foreign keys by recomputing the referenced
// entity's deterministic UUID from its external ID — no lookup needed,
// since GenerateUUID is a pure function of the external ID, and the
// fixed list order guarantees a referenced entity is synced first.
func (o *Orchestrator) persistOne(ctx context.Context, b *oparl.Body, item oparl.Processed) (created bool, name string, err error) {
	switch e := item.(type) {
	case *oparl.Organization:
		created, err = o.db.UpsertOrganization(ctx, b.ID, e)
		return created, derefOr(e.Name), err
	case *oparl.Person:
		created, err = o.db.UpsertPerson(ctx, b.ID, e)
		return created, derefOr(e.Name), err
	case *oparl.Membership:
		personID := o.refUUID(e.PersonExternalID)
		orgID := o.refUUID(e.OrganizationExternalID)
		created, err = o.db.UpsertMembership(ctx, b.ID, personID, orgID, e)
		return created, "", err
	case *oparl.Meeting:
		created, err = o.db.UpsertMeeting(ctx, b.ID, e)
		return created, derefOr(e.Name), err
	case *oparl.Paper:
		created, err = o.db.UpsertPaper(ctx, b.ID, e)
		return created, derefOr(e.Name), err
	case *oparl.File:
		paperID, meetingID := o.fileParentIDs(e)
		created, err = o.db.UpsertFile(ctx, b.ID, paperID, meetingID, e)
		return created, derefOr(e.Name), err
	case *oparl.Location:
		created, err = o.db.UpsertLocation(ctx, b.ID, e)
		return created, "", err
	case *oparl.AgendaItem:
		meetingID := o.refUUID(e.MeetingExternalID)
		created, err = o.db.UpsertAgendaItem(ctx, meetingID, e)
		return created, derefOr(e.Name), err
	case *oparl.Consultation:
		paperID := o.refUUID(e.PaperExternalID)
		created, err = o.db.UpsertConsultation(ctx, b.ID, paperID, e)
		return created, "", err
	case *oparl.LegislativeTerm:
		created, err = o.db.UpsertLegislativeTerm(ctx, b.ID, e)
		return created, derefOr(e.Name), err
	default:
		return false, "", fmt.Errorf("sync: unhandled processed type %T", item)
	}
}

// fileParentIDs resolves a File's Paper/Meeting parent from whichever
// back-reference the processor extracted, preferring the first entry
// when a standalone file object lists several.
func (o *Orchestrator) fileParentIDs(f *oparl.File) (paperID, meetingID uuid.UUID) {
	if len(f.PaperExternalIDs) > 0 {
		paperID = o.proc.GenerateUUID(f.PaperExternalIDs[0])
	}
	if len(f.MeetingExternalIDs) > 0 {
		meetingID = o.proc.GenerateUUID(f.MeetingExternalIDs[0])
	}
	return paperID, meetingID
}

func (o *Orchestrator) refUUID(externalID *string) uuid.UUID {
	if externalID == nil || *externalID == "" {
		return uuid.Nil
	}
	return o.proc.GenerateUUID(*externalID)
}

// emitEntityCreated announces a new entity, bypassing the batch buffer
// for Meetings and Papers per their priority-delivery requirement.
func (o *Orchestrator) emitEntityCreated(ctx context.Context, e *oparl.Entity, name string) {
	var nameArg *string
	if name != "" {
		nameArg = &name
	}
	priority := e.OParlType == oparl.TypeMeeting || e.OParlType == oparl.TypePaper
	o.emitter.EmitEntityCreated(ctx, string(e.OParlType), e.ID.String(), e.ExternalID, nameArg, !priority)
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (o *Orchestrator) logf(msg string, args ...any) {
	if o.logger == nil {
		return
	}
	o.logger.Warn(msg, args...)
}
