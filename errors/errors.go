/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors
var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create an entity that already exists
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrConditionFailed is returned when a conditional write fails
	ErrConditionFailed = errors.New("condition check failed")

	// ErrStoreUnavailable is returned when the backing store cannot serve a request
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidConfiguration is returned when a repository cannot be configured
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrBatchFailed is returned when one or more chunks of a batch failed
	ErrBatchFailed = errors.New("batch partially failed")

	// ErrNotInitialized is returned when a repository has no store to work with
	ErrNotInitialized = errors.New("repository not initialized")

	// ErrClosed is returned when a repository or store is used after Close
	ErrClosed = errors.New("repository closed")

	// ErrThrottled marks store responses that asked the caller to slow down
	ErrThrottled = errors.New("request throttled")
)

// NotFoundError represents an error when an entity is not found
type NotFoundError struct {
	Type string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with key %q not found", e.Type, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// AlreadyExistsError represents an error when an entity already exists
type AlreadyExistsError struct {
	Type string
	Key  string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s with key %q already exists", e.Type, e.Key)
}

func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// ValidationError represents an input validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ConditionFailedError represents a failed conditional operation
type ConditionFailedError struct {
	Operation string
	Condition string
}

func (e *ConditionFailedError) Error() string {
	return fmt.Sprintf("condition check failed for %s operation: %s", e.Operation, e.Condition)
}

func (e *ConditionFailedError) Is(target error) bool {
	return target == ErrConditionFailed
}

// StoreError wraps a failure reported by a backing store.
// Fatal marks failures that make further requests pointless (bad credentials,
// missing table, closed database); the batch executor stops on them.
type StoreError struct {
	Store string
	Op    string
	Err   error
	Fatal bool
}

func (e *StoreError) Error() string {
	kind := "store error"
	if e.Fatal {
		kind = "fatal store error"
	}
	return fmt.Sprintf("%s: %s %s: %v", kind, e.Store, e.Op, e.Err)
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Transient reports whether the wrapped failure may succeed if retried later.
func (e *StoreError) Transient() bool {
	return !e.Fatal && errors.Is(e.Err, ErrThrottled)
}

// ConfigurationError represents a missing or invalid configuration value
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid configuration %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Message)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// ChunkFailure records a single failed chunk of a batch.
type ChunkFailure struct {
	Index int
	Size  int
	Err   error
}

// BatchError aggregates the chunk failures of a batch operation that still
// processed the remaining chunks.
type BatchError struct {
	Op        string
	Processed int
	Failures  []ChunkFailure
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d chunk(s) failed, %d item(s) processed", e.Op, len(e.Failures), e.Processed)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; chunk %d (%d items): %v", f.Index, f.Size, f.Err)
	}
	return b.String()
}

func (e *BatchError) Is(target error) bool {
	return target == ErrBatchFailed
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join returns an error wrapping errs, or nil when all are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Helper functions for creating errors

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(entityType, key string) error {
	return &NotFoundError{Type: entityType, Key: key}
}

// NewAlreadyExistsError creates a new AlreadyExistsError
func NewAlreadyExistsError(entityType, key string) error {
	return &AlreadyExistsError{Type: entityType, Key: key}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NewConditionFailedError creates a new ConditionFailedError
func NewConditionFailedError(operation, condition string) error {
	return &ConditionFailedError{Operation: operation, Condition: condition}
}

// NewStoreError creates a new non-fatal StoreError
func NewStoreError(store, op string, err error) error {
	return &StoreError{Store: store, Op: op, Err: err}
}

// NewFatalStoreError creates a new fatal StoreError
func NewFatalStoreError(store, op string, err error) error {
	return &StoreError{Store: store, Op: op, Err: err, Fatal: true}
}

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(field, message string) error {
	return &ConfigurationError{Field: field, Message: message}
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConditionFailed checks if an error is a condition failed error
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

// IsStoreUnavailable checks if an error came from the backing store
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

// IsBatchError checks if an error reports partially failed batch chunks
func IsBatchError(err error) bool {
	return errors.Is(err, ErrBatchFailed)
}

// IsFatal reports whether err should stop any further store requests.
// Closed stores and fatal StoreErrors are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return true
	}
	var se *StoreError
	return errors.As(err, &se) && se.Fatal
}

// IsTransient reports whether err is a throttling failure worth retrying.
func IsTransient(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return errors.Is(err, ErrThrottled)
}
