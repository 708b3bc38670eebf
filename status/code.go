package status

import "strconv"

// Code is the numeric outcome of an RPC. Every terminal status carries
// exactly one of these values.
type Code uint32

const (
	// OK means the call completed successfully.
	OK Code = 0
	// Canceled means the call was canceled, typically by the caller.
	Canceled Code = 1
	// Unknown is the fallback for errors with no better classification.
	Unknown Code = 2
	// InvalidArgument means the caller supplied a malformed argument.
	InvalidArgument Code = 3
	// DeadlineExceeded means the call's deadline elapsed before completion.
	DeadlineExceeded Code = 4
	// NotFound means a requested entity does not exist.
	NotFound Code = 5
	// AlreadyExists means an entity the caller tried to create exists.
	AlreadyExists Code = 6
	// PermissionDenied means the caller lacks permission for the operation.
	PermissionDenied Code = 7
	// ResourceExhausted means a quota or size limit was hit.
	ResourceExhausted Code = 8
	// FailedPrecondition means system state rejects the operation.
	FailedPrecondition Code = 9
	// Aborted means the operation was aborted, e.g. a concurrency conflict.
	Aborted Code = 10
	// OutOfRange means the operation ran past a valid range.
	OutOfRange Code = 11
	// Unimplemented means the operation is not supported by the peer.
	Unimplemented Code = 12
	// Internal means an invariant expected by the protocol was broken.
	Internal Code = 13
	// Unavailable means the service is currently unreachable; retryable.
	Unavailable Code = 14
	// DataLoss means unrecoverable data loss or corruption.
	DataLoss Code = 15
	// Unauthenticated means the caller has no valid credentials.
	Unauthenticated Code = 16
)

var codeNames = map[Code]string{
	OK:                 "OK",
	Canceled:           "Canceled",
	Unknown:            "Unknown",
	InvalidArgument:    "InvalidArgument",
	DeadlineExceeded:   "DeadlineExceeded",
	NotFound:           "NotFound",
	AlreadyExists:      "AlreadyExists",
	PermissionDenied:   "PermissionDenied",
	ResourceExhausted:  "ResourceExhausted",
	FailedPrecondition: "FailedPrecondition",
	Aborted:            "Aborted",
	OutOfRange:         "OutOfRange",
	Unimplemented:      "Unimplemented",
	Internal:           "Internal",
	Unavailable:        "Unavailable",
	DataLoss:           "DataLoss",
	Unauthenticated:    "Unauthenticated",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "Code(" + strconv.FormatUint(uint64(c), 10) + ")"
}
