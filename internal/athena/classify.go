package athena

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"athena-runner/internal/domain"
)

// transientCodes are API error codes that clear up on their own.
var transientCodes = map[string]bool{
	"ThrottlingException":      true,
	"Throttling":               true,
	"TooManyRequestsException": true,
	"RequestLimitExceeded":     true,
	"SlowDown":                 true,
	"InternalServerException":  true,
	"InternalError":            true,
	"ServiceUnavailable":       true,
	"RequestTimeout":           true,
	"RequestTimeoutException":  true,
}

// classify marks SDK errors the poller may retry as domain.TransientError and
// maps missing objects and executions to domain.NotFoundError. Everything else passes through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound("result object not found"), err)
	}
	// Athena reports unknown execution ids as InvalidRequestException.
	var invalid *types.InvalidRequestException
	if errors.As(err, &invalid) && strings.Contains(strings.ToLower(invalid.ErrorMessage()), "not found") {
		return fmt.Errorf("%w: %w", domain.ErrNotFound("query execution not found"), err)
	}

	if isTransient(err) {
		return domain.Transient(err)
	}
	return err
}

func isTransient(err error) bool {
	var (
		tooMany  *types.TooManyRequestsException
		internal *types.InternalServerException
	)
	if errors.As(err, &tooMany) || errors.As(err, &internal) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] {
			return true
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return true
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		if code := respErr.HTTPStatusCode(); code == 429 || code >= 500 {
			return true
		}
	}

	if awsretry.IsErrorThrottles(awsretry.DefaultThrottles).IsErrorThrottle(err) == aws.TrueTernary {
		return true
	}
	if awsretry.IsErrorRetryables(awsretry.DefaultRetryables).IsErrorRetryable(err) == aws.TrueTernary {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
