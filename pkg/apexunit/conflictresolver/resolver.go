package conflictresolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/openshift/apex-test-runner/pkg/apexunit/apexunitapi"
	"github.com/openshift/apex-test-runner/pkg/results"
)

// State is the outcome of a conflict check.
type State string

const (
	// StateClear means nothing was in flight for the classes.
	StateClear State = "Clear"
	// StateClearedByAbort means in-flight items were found and aborted.
	StateClearedByAbort State = "ClearedByAbort"
	// StateRefused means in-flight items were found and reload is disabled.
	StateRefused State = "Refused"
)

// queryBatchSize keeps the IN list of one query well below the URI length limit.
const queryBatchSize = 200

// Resolver makes sure no test queue items for the classes of a run are in flight
// before it is submitted. The check and the following submission are not atomic:
// a concurrent run may enqueue items between them.
type Resolver struct {
	conn   apexunitapi.Connection
	reload bool
}

func New(conn apexunitapi.Connection, reload bool) *Resolver {
	return &Resolver{conn: conn, reload: reload}
}

// Query renders the SOQL selecting in-flight queue items owned by classIDs.
func Query(classIDs []string) string {
	statuses := make([]string, 0, len(apexunitapi.InFlightStatuses))
	for _, status := range apexunitapi.InFlightStatuses {
		statuses = append(statuses, string(status))
	}
	return fmt.Sprintf("SELECT Id, Status, ApexClassId FROM ApexTestQueueItem WHERE ApexClassId IN (%s) AND Status IN (%s)",
		apexunitapi.QuoteIDs(classIDs), apexunitapi.QuoteIDs(statuses))
}

// Resolve checks for in-flight items and, in reload mode, aborts all of them with
// a single update. StateRefused is always returned together with an error.
func (r *Resolver) Resolve(ctx context.Context, classIDs []string) (State, error) {
	ids := sets.List(sets.New(classIDs...))
	if len(ids) == 0 {
		return StateClear, nil
	}
	logger := logrus.WithField("class-count", len(ids))

	items, err := r.inFlight(ctx, ids)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		logger.Debug("No test queue items in flight.")
		return StateClear, nil
	}

	owners := sets.New[string]()
	for _, item := range items {
		owners.Insert(item.ApexClassID)
	}
	logger = logger.WithFields(logrus.Fields{"in-flight": len(items), "classes": strings.Join(sets.List(owners), ",")})
	if !r.reload {
		logger.Error("Test queue items are already in flight for the classes of this run.")
		return StateRefused, results.ForReason(results.ReasonConflict).ForError(
			fmt.Errorf("%d test queue items for %d classes are already in flight; wait for them to finish or enable test reload to abort them", len(items), owners.Len()))
	}

	logger.Warn("Aborting test queue items already in flight.")
	updates := make([]apexunitapi.SObject, 0, len(items))
	for _, item := range items {
		updates = append(updates, apexunitapi.SObject{
			Type:   "ApexTestQueueItem",
			ID:     item.ID,
			Fields: map[string]interface{}{"Status": string(apexunitapi.QueueItemAborted)},
		})
	}
	if err := r.conn.Update(ctx, updates); err != nil {
		return "", results.ForReason(results.ReasonRemoteJob).WithError(err).Errorf("could not abort %d test queue items in flight: %v", len(updates), err)
	}
	return StateClearedByAbort, nil
}

func (r *Resolver) inFlight(ctx context.Context, ids []string) ([]apexunitapi.QueueItem, error) {
	var items []apexunitapi.QueueItem
	for start := 0; start < len(ids); start += queryBatchSize {
		end := start + queryBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		result, err := r.conn.Query(ctx, Query(ids[start:end]))
		if err != nil {
			return nil, fmt.Errorf("could not query test queue items in flight: %w", err)
		}
		batch, err := apexunitapi.DecodeRecords[apexunitapi.QueueItem](result)
		if err != nil {
			return nil, results.ForReason(results.ReasonTransport).WithError(err).Errorf("could not decode test queue items: %v", err)
		}
		items = append(items, batch...)
	}
	return items, nil
}
