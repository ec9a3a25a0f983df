package workorder

import "github.com/sebastiankruger/shopfloor-oee/internal/errors"

// Status is the lifecycle state of a work order. The zero value is Pending.
// Only the transition methods on WorkOrder change it.
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusPaused
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusActive:
		return "Active"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ParseStatus is the inverse of String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "Pending":
		return StatusPending, nil
	case "Active":
		return StatusActive, nil
	case "Paused":
		return StatusPaused, nil
	case "Completed":
		return StatusCompleted, nil
	case "Cancelled":
		return StatusCancelled, nil
	default:
		return 0, errors.New().WithMessage(errors.ErrInvalidArgument, "unknown work order status "+s)
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsOpen reports whether the order occupies its resource.
func (s Status) IsOpen() bool {
	return s == StatusActive || s == StatusPaused
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
