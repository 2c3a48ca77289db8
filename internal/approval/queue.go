// Package approval maintains the staff-side queue of pending check-in
// requests. The queue merges two sources, an initial REST snapshot and live
// push events, by activity id, so replays and the snapshot/stream overlap
// cannot produce duplicates.
package approval

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/Nish7156/loyalty-client/internal/api"
	"github.com/Nish7156/loyalty-client/internal/domain"
	"github.com/Nish7156/loyalty-client/internal/realtime"
	apperrors "github.com/Nish7156/loyalty-client/pkg/errors"
)

// Backend is the slice of the staff API the queue needs. *api.Client
// satisfies it.
type Backend interface {
	ListActivities(ctx context.Context) ([]domain.Activity, error)
	UpdateActivity(ctx context.Context, id string, status domain.ActivityStatus, value *float64) (*domain.Activity, error)
	ListRewards(ctx context.Context) ([]domain.Reward, error)
	CompleteRewardByCode(ctx context.Context, code string) (*domain.Reward, error)
}

// Queue is the pending check-in list for one staff session, newest first.
type Queue struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	pending []domain.Activity
}

func New(backend Backend, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{backend: backend, logger: logger}
}

// Load replaces the queue with a fresh snapshot from the backend, keeping
// only unresolved requests. Call on screen entry and again after a realtime
// reconnect, since events missed while disconnected are gone for good.
func (q *Queue) Load(ctx context.Context) error {
	activities, err := q.backend.ListActivities(ctx)
	if err != nil {
		return err
	}

	pending := make([]domain.Activity, 0, len(activities))
	for _, a := range activities {
		if a.Status == domain.ActivityPending {
			pending = append(pending, a)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.After(pending[j].CreatedAt)
	})

	q.mu.Lock()
	q.pending = pending
	q.mu.Unlock()
	return nil
}

// Pending returns a copy of the current queue, newest first.
func (q *Queue) Pending() []domain.Activity {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Activity, len(q.pending))
	copy(out, q.pending)
	return out
}

// Len returns the number of unresolved requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// ApplyEvent merges a realtime event into the queue. A pending new request
// is prepended unless its id is already present; a terminal status update
// removes the matching entry. Anything else is ignored.
func (q *Queue) ApplyEvent(ev realtime.Event) {
	switch ev.Kind {
	case realtime.KindNewCheckin:
		if ev.Activity == nil || ev.Activity.ID == "" || ev.Activity.Status != domain.ActivityPending {
			return
		}
		q.mu.Lock()
		defer q.mu.Unlock()
		for i := range q.pending {
			if q.pending[i].ID == ev.Activity.ID {
				return
			}
		}
		q.pending = append([]domain.Activity{*ev.Activity}, q.pending...)

	case realtime.KindCheckinUpdated:
		if ev.Update == nil || !ev.Update.Status.IsTerminal() {
			return
		}
		q.remove(ev.Update.ID)
	}
}

// Approve resolves a request as approved, optionally overriding the declared
// amount. On success the entry leaves the queue immediately rather than
// waiting for the echo of our own push event. On any failure, a lost race to
// another staff session included, the entry stays and the error is returned;
// a resolved-elsewhere entry disappears when its checkin_updated event
// reaches ApplyEvent.
func (q *Queue) Approve(ctx context.Context, id string, value *float64) error {
	return q.resolve(ctx, id, domain.ActivityApproved, value)
}

// Reject resolves a request as rejected.
func (q *Queue) Reject(ctx context.Context, id string) error {
	return q.resolve(ctx, id, domain.ActivityRejected, nil)
}

func (q *Queue) resolve(ctx context.Context, id string, status domain.ActivityStatus, value *float64) error {
	_, err := q.backend.UpdateActivity(ctx, id, status, value)
	switch {
	case err == nil:
		q.remove(id)
		return nil
	case api.IsConflict(err):
		// Another session got there first. The entry is left in place
		// until its checkin_updated event arrives.
		q.logger.Info("check-in already resolved elsewhere", slog.String("activity_id", id))
		return err
	default:
		return err
	}
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.pending {
		if q.pending[i].ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// PendingRedemptions fetches rewards that customers have redeemed but staff
// have not yet completed, i.e. outstanding redemption codes.
func (q *Queue) PendingRedemptions(ctx context.Context) ([]domain.Reward, error) {
	rewards, err := q.backend.ListRewards(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Reward, 0, len(rewards))
	for _, r := range rewards {
		if r.Status == domain.RewardRedeemed && r.RedemptionCode != "" {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CompleteRedemption finishes a redemption from the code the customer shows
// at the counter.
func (q *Queue) CompleteRedemption(ctx context.Context, code string) (*domain.Reward, error) {
	if code == "" {
		return nil, apperrors.InvalidInput("enter the redemption code")
	}
	return q.backend.CompleteRewardByCode(ctx, code)
}
