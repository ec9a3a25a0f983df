package errors

// ErrorCode identifies a specific failure.
type ErrorCode string

// Kind groups error codes by how callers are expected to react to them.
type Kind string

const (
	KindInternal   Kind = "internal"
	KindValidation Kind = "validation"
	KindState      Kind = "state"
	KindNotFound   Kind = "not_found"
	KindDependency Kind = "dependency"
	KindConflict   Kind = "conflict"
)

// Error is the application error carried through every package.
type Error interface {
	error
	Code() ErrorCode
	Kind() Kind
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds Error values.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
