package psnap

// Status is the library return code.
type Status uint32

const (
	OK                Status = 0
	ErrInvalidArg     Status = 1
	ErrAlreadyExists  Status = 2
	ErrNotSupported   Status = 3
	ErrObjectNotFound Status = 4
	ErrNoSysResources Status = 5
	ErrUnexpected     Status = 6
	ErrHwAccess       Status = 7
	ErrLast           Status = 8
)

// ErrSeverity used to indicate the severity of an error.
type ErrSeverity uint32

const (
	ErrSevNone  ErrSeverity = 0
	ErrSevError ErrSeverity = 1
	ErrSevWarn  ErrSeverity = 2
	ErrSevInfo  ErrSeverity = 3
)
