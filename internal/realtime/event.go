package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/Nish7156/loyalty-client/internal/domain"
)

// Event names on the wire.
const (
	eventNewCheckin     = "new_checkin_request"
	eventCheckinUpdated = "checkin_updated"
	eventJoinBranch     = "join_branch"
)

// EventKind tags the normalized event union.
type EventKind int

const (
	KindNewCheckin EventKind = iota + 1
	KindCheckinUpdated
)

// Event is a push event normalized at the channel boundary. Exactly one of
// Activity and Update is set, according to Kind. Consumers must merge by id
// with idempotent semantics; delivery order relative to REST responses is
// not guaranteed and duplicates are possible.
type Event struct {
	Kind     EventKind
	Activity *domain.Activity
	Update   *domain.StatusUpdate
}

// frame is the raw wire shape of a push message.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// normalize validates a raw frame into a typed Event. Unknown event names
// return (zero, false, nil) and are skipped; malformed payloads for known
// events return an error.
func normalize(raw []byte) (Event, bool, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, false, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Event {
	case eventNewCheckin:
		var a domain.Activity
		if err := json.Unmarshal(f.Data, &a); err != nil {
			return Event{}, false, fmt.Errorf("decode %s payload: %w", f.Event, err)
		}
		if a.ID == "" {
			return Event{}, false, fmt.Errorf("%s payload missing id", f.Event)
		}
		if a.Status == "" {
			a.Status = domain.ActivityPending
		}
		return Event{Kind: KindNewCheckin, Activity: &a}, true, nil

	case eventCheckinUpdated:
		var u domain.StatusUpdate
		if err := json.Unmarshal(f.Data, &u); err != nil {
			return Event{}, false, fmt.Errorf("decode %s payload: %w", f.Event, err)
		}
		if u.ID == "" || !u.Status.Valid() {
			return Event{}, false, fmt.Errorf("%s payload invalid: id=%q status=%q", f.Event, u.ID, u.Status)
		}
		return Event{Kind: KindCheckinUpdated, Update: &u}, true, nil

	default:
		return Event{}, false, nil
	}
}
