/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/suparena/entityrepo/errors"
)

// wrap classifies DynamoDB failures by API error code. Throttling can be
// retried; a missing table or rejected credentials cannot.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.IsValidationError(err), errors.IsFatal(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "RequestLimitExceeded",
			"ThrottlingException", "LimitExceededException", "InternalServerError":
			return errors.NewStoreError(storeName, op, fmt.Errorf("%w: %w", errors.ErrThrottled, err))
		case "ResourceNotFoundException", "AccessDeniedException", "UnrecognizedClientException",
			"InvalidSignatureException", "MissingAuthenticationTokenException", "ExpiredTokenException":
			return errors.NewFatalStoreError(storeName, op, err)
		}
	}
	return errors.NewStoreError(storeName, op, err)
}

func isConditionFailed(err error) bool {
	var cfe *types.ConditionalCheckFailedException
	return errors.As(err, &cfe)
}

func isTableMissing(err error) bool {
	var rnf *types.ResourceNotFoundException
	return errors.As(err, &rnf)
}

func isTableInUse(err error) bool {
	var riu *types.ResourceInUseException
	return errors.As(err, &riu)
}
