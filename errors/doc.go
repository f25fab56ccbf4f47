/*
Package errors provides semantic error types for the entityrepo library.

The package defines common error scenarios with specific types that can be
checked using the standard errors.Is() function or the provided helper functions.

Common Errors:

	var (
	    ErrNotFound             = errors.New("entity not found")
	    ErrAlreadyExists        = errors.New("entity already exists")
	    ErrInvalidInput         = errors.New("invalid input")
	    ErrConditionFailed      = errors.New("condition check failed")
	    ErrStoreUnavailable     = errors.New("store unavailable")
	    ErrInvalidConfiguration = errors.New("invalid configuration")
	    ErrBatchFailed          = errors.New("batch partially failed")
	)

Absence and conflicts never reach repository callers as errors: the repository
turns them into nil results, false and skipped counts. Only validation,
configuration and store failures are returned.

Usage:

	n, err := repo.InsertMany(ctx, items)
	if err != nil {
	    if errors.IsBatchError(err) {
	        // n items were stored, some chunks failed
	    }
	    if errors.IsFatal(err) {
	        // credentials or table are broken, stop retrying
	    }
	}

	err := errors.NewValidationError("skip", "must not be negative")
	err := errors.NewFatalStoreError("dynamodb", "PutItem", cause)
	err := errors.NewConfigurationError("collection", "required")

The error types implement the error interface and support wrapping,
making them compatible with Go's standard error handling patterns.
*/
package errors
