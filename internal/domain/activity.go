package domain

import "time"

// ActivityStatus is the staff-resolution state of a check-in request.
type ActivityStatus string

const (
	ActivityPending  ActivityStatus = "PENDING"
	ActivityApproved ActivityStatus = "APPROVED"
	ActivityRejected ActivityStatus = "REJECTED"
)

// IsTerminal reports whether the status can no longer change.
func (s ActivityStatus) IsTerminal() bool {
	return s == ActivityApproved || s == ActivityRejected
}

// Valid reports whether s is one of the known statuses.
func (s ActivityStatus) Valid() bool {
	return s == ActivityPending || s == ActivityApproved || s == ActivityRejected
}

// Activity is a check-in request: a customer's submitted visit awaiting
// staff approval. The backend owns the record; the client holds transient
// copies keyed by ID.
type Activity struct {
	ID           string         `json:"id"`
	CustomerID   string         `json:"customerId"`
	BranchID     string         `json:"branchId"`
	StaffID      *string        `json:"staffId,omitempty"`
	Status       ActivityStatus `json:"status"`
	Value        *float64       `json:"value,omitempty"`
	CustomerName string         `json:"customerName,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	Branch       *Branch        `json:"branch,omitempty"`
	Partner      *Partner       `json:"partner,omitempty"`
}

// StatusUpdate is the payload of a checkin_updated push event.
type StatusUpdate struct {
	ID     string         `json:"id"`
	Status ActivityStatus `json:"status"`
}
