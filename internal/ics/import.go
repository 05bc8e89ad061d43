package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/notify"
)

// EventWriter is the part of the event store the importer needs.
type EventWriter interface {
	CreateIfAbsent(ctx context.Context, e *model.ScheduledEvent) (bool, error)
}

// ImportResult counts what one import did.
type ImportResult struct {
	Feeds    int
	Events   int
	Created  int
	Existing int
	Failed   int
}

// Importer copies feed events into the store. It only inserts: an event
// whose UID is already stored, including one the sweep has since rolled
// forward, is left alone.
type Importer struct {
	fetcher  *Fetcher
	store    EventWriter
	loc      *time.Location
	notifier notify.Notifier
}

// NewImporter returns an importer that reads floating times in loc. notifier
// may be nil.
func NewImporter(fetcher *Fetcher, store EventWriter, loc *time.Location, notifier notify.Notifier) *Importer {
	return &Importer{fetcher: fetcher, store: store, loc: loc, notifier: notifier}
}

// Import fetches every source and stores new events. Feed and event
// failures are counted and returned joined; the import keeps going past
// them.
func (im *Importer) Import(ctx context.Context, sources []Source) (ImportResult, error) {
	var res ImportResult

	fetched, fetchErr := im.fetcher.FetchAll(ctx, sources)
	errs := []error{fetchErr}

	for _, fr := range fetched {
		events, err := ParseICS(fr.Source, fr.Body, im.loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Feeds++
		res.Events += len(events)

		for i := range events {
			created, err := im.store.CreateIfAbsent(ctx, &events[i])
			switch {
			case err != nil:
				res.Failed++
				errs = append(errs, fmt.Errorf("store %s: %w", events[i].ID, err))
			case created:
				res.Created++
			default:
				res.Existing++
			}
		}
	}

	if res.Created > 0 && im.notifier != nil {
		if err := im.notifier.Publish(ctx); err != nil {
			appLog.Error("ics import: change notification failed", err)
		}
	}

	appLog.Info("ics import completed",
		"feeds", res.Feeds,
		"events", res.Events,
		"created", res.Created,
		"existing", res.Existing,
		"failed", res.Failed,
	)
	return res, errors.Join(errs...)
}
