package errors

import (
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code     uint16
	Name     string
	GrpcCode grpccodes.Code
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

// Is reports whether any error in err's chain carries this code.
func (c Code[MT]) Is(err error) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code() == c.Code
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	GrpcCode() grpccodes.Code
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err != nil {
		return metadata
	}
	var genericMap map[string]any
	if err := json.Unmarshal(buf, &genericMap); err != nil {
		return metadata
	}
	for k, v := range genericMap {
		if v == nil {
			metadata[k] = ""
			continue
		}
		metadata[k] = fmt.Sprintf("%v", v)
	}
	return metadata
}

func (e *ErrorImpl[MT]) GrpcCode() grpccodes.Code {
	return e.code.GrpcCode
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

type AmountMetadata struct {
	Amount string `json:"amount"`
}

type DurationMetadata struct {
	CurrentCycle   uint32 `json:"current_cycle"`
	DurationCycles uint32 `json:"duration_cycles"`
	EndCycle       uint32 `json:"end_cycle"`
}

type SplitMetadata struct {
	YieldSplitPercent uint8 `json:"yield_split_percent"`
}

type AddressMetadata struct {
	Address string `json:"address"`
}

type PositionMetadata struct {
	PositionID uint64 `json:"position_id"`
}

type LockMetadata struct {
	PositionID   uint64 `json:"position_id"`
	CurrentCycle uint32 `json:"current_cycle"`
	EndCycle     uint32 `json:"end_cycle"`
}

type AuthMetadata struct {
	PositionID uint64 `json:"position_id,omitempty"`
	Caller     string `json:"caller"`
}

type GaugeMetadata struct {
	GaugeID uint64 `json:"gauge_id"`
	Status  string `json:"status,omitempty"`
}

type ClassMetadata struct {
	ClassID uint32 `json:"class_id"`
}

type AllocationMetadata struct {
	PositionID uint64 `json:"position_id"`
	UsedBPS    uint32 `json:"used_bps"`
	RequestBPS uint32 `json:"request_bps"`
}

type VoteMetadata struct {
	PositionID    uint64 `json:"position_id"`
	GaugeID       uint64 `json:"gauge_id"`
	LastVoteCycle uint32 `json:"last_vote_cycle"`
	CurrentCycle  uint32 `json:"current_cycle"`
}

type TooSoonMetadata struct {
	LastAdvance int64 `json:"last_advance"`
	NextAllowed int64 `json:"next_allowed"`
	Now         int64 `json:"now"`
}

type StageMetadata struct {
	Expected string `json:"expected"`
	Current  string `json:"current"`
}

type EpochMetadata struct {
	PositionID uint64 `json:"position_id,omitempty"`
	Epoch      uint32 `json:"epoch"`
	ClosesAt   uint32 `json:"closes_at,omitempty"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR", grpccodes.Internal}
var INVALID_AMOUNT = Code[AmountMetadata]{1, "INVALID_AMOUNT", grpccodes.InvalidArgument}
var INVALID_DURATION = Code[DurationMetadata]{2, "INVALID_DURATION", grpccodes.InvalidArgument}
var INVALID_SPLIT = Code[SplitMetadata]{3, "INVALID_SPLIT", grpccodes.InvalidArgument}
var INVALID_ADDRESS = Code[AddressMetadata]{4, "INVALID_ADDRESS", grpccodes.InvalidArgument}
var POSITION_NOT_FOUND = Code[PositionMetadata]{5, "POSITION_NOT_FOUND", grpccodes.NotFound}
var LOCK_NOT_OVER = Code[LockMetadata]{6, "LOCK_NOT_OVER", grpccodes.FailedPrecondition}
var LOCK_OVER = Code[LockMetadata]{7, "LOCK_OVER", grpccodes.FailedPrecondition}
var POSITION_CLOSED = Code[PositionMetadata]{8, "POSITION_CLOSED", grpccodes.FailedPrecondition}
var NOT_AUTHORIZED = Code[AuthMetadata]{9, "NOT_AUTHORIZED", grpccodes.PermissionDenied}
var GAUGE_NOT_FOUND = Code[GaugeMetadata]{10, "GAUGE_NOT_FOUND", grpccodes.NotFound}
var CLASS_NOT_FOUND = Code[ClassMetadata]{11, "CLASS_NOT_FOUND", grpccodes.NotFound}
var GAUGE_NOT_ACTIVE = Code[GaugeMetadata]{12, "GAUGE_NOT_ACTIVE", grpccodes.FailedPrecondition}

var INVALID_GAUGE_TRANSITION = Code[GaugeMetadata]{
	13,
	"INVALID_GAUGE_TRANSITION",
	grpccodes.FailedPrecondition,
}

var ALLOCATION_EXCEEDED = Code[AllocationMetadata]{
	14,
	"ALLOCATION_EXCEEDED",
	grpccodes.InvalidArgument,
}
var TIME_LOCKED = Code[LockMetadata]{15, "TIME_LOCKED", grpccodes.FailedPrecondition}
var VOTE_TOO_SOON = Code[VoteMetadata]{16, "VOTE_TOO_SOON", grpccodes.FailedPrecondition}

var DISTRIBUTION_IN_PROGRESS = Code[StageMetadata]{
	17,
	"DISTRIBUTION_IN_PROGRESS",
	grpccodes.Unavailable,
}
var TOO_SOON = Code[TooSoonMetadata]{18, "TOO_SOON", grpccodes.FailedPrecondition}
var WRONG_STAGE = Code[StageMetadata]{19, "WRONG_STAGE", grpccodes.FailedPrecondition}
var EPOCH_NOT_CLOSED = Code[EpochMetadata]{20, "EPOCH_NOT_CLOSED", grpccodes.FailedPrecondition}
var NO_BALANCE = Code[EpochMetadata]{21, "NO_BALANCE", grpccodes.FailedPrecondition}
var ALREADY_CLAIMED = Code[EpochMetadata]{22, "ALREADY_CLAIMED", grpccodes.AlreadyExists}

var ARITHMETIC_OVERFLOW = Code[map[string]any]{
	23,
	"ARITHMETIC_OVERFLOW",
	grpccodes.OutOfRange,
}
var INVALID_BATCH_SIZE = Code[any]{24, "INVALID_BATCH_SIZE", grpccodes.InvalidArgument}
var INVALID_REQUEST = Code[map[string]any]{25, "INVALID_REQUEST", grpccodes.InvalidArgument}
