// Package plan manages schedule-plan records: creation, listing and deletion.
package plan

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"schedhub/internal/apperr"
	"schedhub/internal/sched"
	"schedhub/internal/storage"
	logx "schedhub/pkg/logx"
)

type Service struct {
	store storage.Store
	log   logx.Logger

	now func() time.Time
}

func NewService(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Create validates the plan, assigns its guid and activation time, and
// persists it. The stored creation time anchors occurrence generation.
func (s *Service) Create(ctx context.Context, p sched.SchedulePlan) (sched.SchedulePlan, error) {
	if err := p.Validate(); err != nil {
		return sched.SchedulePlan{}, err
	}
	p.Guid = uuid.NewString()
	p.CreatedAt = s.now().UTC()

	b, err := json.Marshal(p)
	if err != nil {
		return sched.SchedulePlan{}, apperr.Wrap(apperr.KindStorage, err, "marshal plan")
	}
	rec := storage.PlanRecord{
		Guid:      p.Guid,
		Label:     p.Label,
		PlanJSON:  b,
		CreatedAt: p.CreatedAt,
	}
	if err := s.store.PutPlan(ctx, rec); err != nil {
		return sched.SchedulePlan{}, err
	}
	s.log.Info("plan created", logx.String("guid", p.Guid), logx.String("label", p.Label))
	return p, nil
}

func (s *Service) Get(ctx context.Context, guid string) (sched.SchedulePlan, error) {
	rec, err := s.store.GetPlan(ctx, guid)
	if err != nil {
		return sched.SchedulePlan{}, err
	}
	return decode(rec)
}

func (s *Service) List(ctx context.Context) ([]sched.SchedulePlan, error) {
	recs, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]sched.SchedulePlan, 0, len(recs))
	for _, rec := range recs {
		p, err := decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Delete removes the plan and its non-terminal generated instances. Finished
// and expired instances stay retrievable by id.
func (s *Service) Delete(ctx context.Context, guid string) error {
	if err := s.store.DeletePlan(ctx, guid, s.now().UTC()); err != nil {
		return err
	}
	s.log.Info("plan deleted", logx.String("guid", guid))
	return nil
}

func decode(rec storage.PlanRecord) (sched.SchedulePlan, error) {
	var p sched.SchedulePlan
	if err := json.Unmarshal(rec.PlanJSON, &p); err != nil {
		return sched.SchedulePlan{}, apperr.Wrap(apperr.KindStorage, err, "corrupt plan %s", rec.Guid)
	}
	p.Guid = rec.Guid
	p.CreatedAt = rec.CreatedAt
	return p, nil
}
