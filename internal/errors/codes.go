package errors

const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrStorage         ErrorCode = "storage_failed"

	// Validation errors
	ErrNegativeValue          ErrorCode = "negative_value"
	ErrActualExceedsPlanned   ErrorCode = "actual_exceeds_planned"
	ErrDowntimeMismatch       ErrorCode = "downtime_mismatch"
	ErrTotalBelowCounted      ErrorCode = "total_below_counted"
	ErrInvalidPeriod          ErrorCode = "invalid_period"
	ErrPercentageOutOfRange   ErrorCode = "percentage_out_of_range"
	ErrMissingField           ErrorCode = "missing_field"
	ErrCountDecreased         ErrorCode = "count_decreased"
	ErrUnknownReason          ErrorCode = "unknown_reason_code"
	ErrIncompleteClassifying  ErrorCode = "incomplete_classification"
	ErrDuplicateWorkOrder     ErrorCode = "duplicate_work_order"
	ErrResourceHierarchyCycle ErrorCode = "resource_hierarchy_cycle"

	// State errors
	ErrInvalidTransition ErrorCode = "invalid_transition"
	ErrResourceBusy      ErrorCode = "resource_busy"
	ErrAlreadyClassified ErrorCode = "already_classified"
	ErrAlreadyClosed     ErrorCode = "already_closed"
	ErrNotClassified     ErrorCode = "not_classified"

	// Not found errors
	ErrWorkOrderNotFound ErrorCode = "work_order_not_found"
	ErrStoppageNotFound  ErrorCode = "stoppage_not_found"
	ErrJobIssueNotFound  ErrorCode = "job_issue_not_found"
	ErrDeviceNotFound    ErrorCode = "device_not_found"

	// Dependency errors
	ErrGatewayUnavailable ErrorCode = "gateway_unavailable"
	ErrCounterSource      ErrorCode = "counter_source_failed"
	ErrCacheUnavailable   ErrorCode = "cache_unavailable"
	ErrNotifyFailed       ErrorCode = "notification_failed"

	// Conflict errors
	ErrVersionConflict ErrorCode = "version_conflict"
)

var errorMessages = map[ErrorCode]string{
	ErrInternal:               "Internal error occurred",
	ErrInvalidArgument:        "Invalid argument provided",
	ErrInvalidConfig:          "Invalid configuration",
	ErrReadConfig:             "Failed to read configuration",
	ErrStorage:                "Storage operation failed",
	ErrNegativeValue:          "Value cannot be negative",
	ErrActualExceedsPlanned:   "Actual run time cannot exceed planned production time",
	ErrDowntimeMismatch:       "Downtime must equal planned minus actual run time",
	ErrTotalBelowCounted:      "Total pieces cannot be less than good plus defective pieces",
	ErrInvalidPeriod:          "Period end must be after period start",
	ErrPercentageOutOfRange:   "Percentage out of range",
	ErrMissingField:           "Required field missing",
	ErrCountDecreased:         "Cumulative counts cannot decrease",
	ErrUnknownReason:          "Unknown reason category or subcode",
	ErrIncompleteClassifying:  "Classification requires category, subcode and operator",
	ErrDuplicateWorkOrder:     "Work order already exists",
	ErrResourceHierarchyCycle: "Resource hierarchy contains a cycle",
	ErrInvalidTransition:      "Invalid state transition",
	ErrResourceBusy:           "Resource already has an active work order",
	ErrAlreadyClassified:      "Stoppage already classified",
	ErrAlreadyClosed:          "Stoppage already closed",
	ErrNotClassified:          "Issue must be classified before it can be resolved",
	ErrWorkOrderNotFound:      "Work order not found",
	ErrStoppageNotFound:       "Stoppage event not found",
	ErrJobIssueNotFound:       "Job completion issue not found",
	ErrDeviceNotFound:         "Device not found",
	ErrGatewayUnavailable:     "Equipment availability gateway unavailable",
	ErrCounterSource:          "Counter data source failed",
	ErrCacheUnavailable:       "Result cache unavailable",
	ErrNotifyFailed:           "Notification delivery failed",
	ErrVersionConflict:        "Entity was modified concurrently",
}

var errorKinds = map[ErrorCode]Kind{
	ErrInvalidArgument:        KindValidation,
	ErrInvalidConfig:          KindValidation,
	ErrNegativeValue:          KindValidation,
	ErrActualExceedsPlanned:   KindValidation,
	ErrDowntimeMismatch:       KindValidation,
	ErrTotalBelowCounted:      KindValidation,
	ErrInvalidPeriod:          KindValidation,
	ErrPercentageOutOfRange:   KindValidation,
	ErrMissingField:           KindValidation,
	ErrCountDecreased:         KindValidation,
	ErrUnknownReason:          KindValidation,
	ErrIncompleteClassifying:  KindValidation,
	ErrDuplicateWorkOrder:     KindValidation,
	ErrResourceHierarchyCycle: KindValidation,
	ErrInvalidTransition:      KindState,
	ErrResourceBusy:           KindState,
	ErrAlreadyClassified:      KindState,
	ErrAlreadyClosed:          KindState,
	ErrNotClassified:          KindState,
	ErrWorkOrderNotFound:      KindNotFound,
	ErrStoppageNotFound:       KindNotFound,
	ErrJobIssueNotFound:       KindNotFound,
	ErrDeviceNotFound:         KindNotFound,
	ErrGatewayUnavailable:     KindDependency,
	ErrCounterSource:          KindDependency,
	ErrCacheUnavailable:       KindDependency,
	ErrNotifyFailed:           KindDependency,
	ErrVersionConflict:        KindConflict,
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}

// KindOfCode returns the kind a code belongs to. Unknown codes are internal.
func KindOfCode(code ErrorCode) Kind {
	if kind, ok := errorKinds[code]; ok {
		return kind
	}

	return KindInternal
}
