package core

import "errors"

// Common errors.
var (
	ErrNotPrepared        = errors.New("not prepared")
	ErrNotFound           = errors.New("not found")
	ErrCorruptedData      = errors.New("corrupted data")
	ErrDeserialize        = errors.New("deserialize error")
	ErrSerialize          = errors.New("serialize error")
	ErrFileOperation      = errors.New("file operation error")
	ErrNoAccess           = errors.New("no access")
	ErrDataIsLocked       = errors.New("data is locked")
	ErrDataIsObsolete     = errors.New("data is obsolete")
	ErrOverSizeLimit      = errors.New("over size limit")
	ErrOverNumberLimit    = errors.New("over number limit")
	ErrAborted            = errors.New("aborted by recovery query")
	ErrDeleted            = errors.New("crystal has been deleted")
	ErrAlreadyRegistered  = errors.New("crystal already registered")
	ErrInvalidFileID      = errors.New("invalid file id")
	ErrStorageUnavailable = errors.New("storage is not available")
)

// Result is the typed result code of an engine operation.
type Result int

const (
	ResultSuccess Result = iota
	ResultNotPrepared
	ResultNotFound
	ResultCorruptedData
	ResultDeserializeError
	ResultSerializeError
	ResultFileOperationError
	ResultNoAccess
	ResultDataIsLocked
	ResultDataIsObsolete
	ResultOverSizeLimit
	ResultOverNumberLimit
	ResultAborted
)

var resultNames = map[Result]string{
	ResultSuccess:            "Success",
	ResultNotPrepared:        "NotPrepared",
	ResultNotFound:           "NotFound",
	ResultCorruptedData:      "CorruptedData",
	ResultDeserializeError:   "DeserializeError",
	ResultSerializeError:     "SerializeError",
	ResultFileOperationError: "FileOperationError",
	ResultNoAccess:           "NoAccess",
	ResultDataIsLocked:       "DataIsLocked",
	ResultDataIsObsolete:     "DataIsObsolete",
	ResultOverSizeLimit:      "OverSizeLimit",
	ResultOverNumberLimit:    "OverNumberLimit",
	ResultAborted:            "Aborted",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return "Unknown"
}

// ResultOf maps an error returned by the engine to its Result code.
// Errors that do not wrap a known sentinel map to ResultFileOperationError.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrNotPrepared):
		return ResultNotPrepared
	case errors.Is(err, ErrNotFound):
		return ResultNotFound
	case errors.Is(err, ErrCorruptedData):
		return ResultCorruptedData
	case errors.Is(err, ErrDeserialize):
		return ResultDeserializeError
	case errors.Is(err, ErrSerialize):
		return ResultSerializeError
	case errors.Is(err, ErrNoAccess):
		return ResultNoAccess
	case errors.Is(err, ErrDataIsLocked):
		return ResultDataIsLocked
	case errors.Is(err, ErrDataIsObsolete):
		return ResultDataIsObsolete
	case errors.Is(err, ErrOverSizeLimit):
		return ResultOverSizeLimit
	case errors.Is(err, ErrOverNumberLimit):
		return ResultOverNumberLimit
	case errors.Is(err, ErrAborted):
		return ResultAborted
	default:
		return ResultFileOperationError
	}
}
