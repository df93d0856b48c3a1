package activity

import (
	"context"
	"time"

	"schedhub/internal/apperr"
	"schedhub/internal/storage"
	logx "schedhub/pkg/logx"
)

// Update is one client-submitted lifecycle transition.
type Update struct {
	Guid       string     `json:"guid"`
	StartedOn  *time.Time `json:"startedOn,omitempty"`
	FinishedOn *time.Time `json:"finishedOn,omitempty"`
}

// UpdateResult reports the outcome for one update. Err is nil on success.
type UpdateResult struct {
	Guid string
	Err  error
}

// Controller validates and applies lifecycle transitions.
//
// Transitions are driven only by client-submitted timestamps; EXPIRED is
// derived at read time and never written. FINISHED is terminal.
type Controller struct {
	store storage.Store
	log   logx.Logger
}

func NewController(store storage.Store, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{store: store, log: log}
}

// Apply processes each update independently: one bad item does not abort the
// batch. Results are returned in input order.
func (c *Controller) Apply(ctx context.Context, updates []Update) []UpdateResult {
	out := make([]UpdateResult, 0, len(updates))
	for _, u := range updates {
		err := c.applyOne(ctx, u)
		if err != nil {
			c.log.Debug("update rejected", logx.String("guid", u.Guid), logx.Err(err))
		}
		out = append(out, UpdateResult{Guid: u.Guid, Err: err})
	}
	return out
}

func (c *Controller) applyOne(ctx context.Context, u Update) error {
	if u.Guid == "" {
		return apperr.E(apperr.KindBadRequest, "update has no guid")
	}
	if u.StartedOn == nil && u.FinishedOn == nil {
		return apperr.E(apperr.KindBadRequest, "update has no startedOn or finishedOn")
	}

	rec, err := c.store.GetActivity(ctx, u.Guid)
	if err != nil {
		return err
	}
	if rec.FinishedOn != nil {
		return apperr.E(apperr.KindIllegalTransition, "activity %s is already finished", u.Guid)
	}

	var started, finished *time.Time
	if u.StartedOn != nil && rec.StartedOn == nil {
		t := u.StartedOn.UTC()
		started = &t
	}
	// Finishing without a prior start is allowed; the instance simply goes
	// straight to FINISHED.
	if u.FinishedOn != nil {
		t := u.FinishedOn.UTC()
		finished = &t
	}
	if started == nil && finished == nil {
		// startedOn resubmitted for an already-started instance: no-op.
		return nil
	}
	return c.store.SetActivityTimes(ctx, u.Guid, started, finished)
}
