package athena

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"athena-runner/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"throttling code", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Rate exceeded"}, true},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, true},
		{"server fault", &smithy.GenericAPIError{Code: "Whatever", Fault: smithy.FaultServer}, true},
		{"athena too many requests", &types.TooManyRequestsException{Message: aws.String("too many")}, true},
		{"athena internal", &types.InternalServerException{Message: aws.String("oops")}, true},
		{"network", &net.DNSError{Err: "no such host", Name: "athena.us-east-1.amazonaws.com", IsTimeout: true}, true},
		{"wrapped throttling", fmt.Errorf("call: %w", &smithy.GenericAPIError{Code: "ThrottlingException"}), true},
		{"invalid request", &types.InvalidRequestException{Message: aws.String("bad id")}, false},
		{"client fault", &smithy.GenericAPIError{Code: "AccessDeniedException", Fault: smithy.FaultClient}, false},
		{"plain", errors.New("boom"), false},
		{"context cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.transient, domain.IsTransient(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, classify(nil))
}

func TestClassify_NoSuchKey(t *testing.T) {
	err := classify(&s3types.NoSuchKey{})
	assert.Equal(t, domain.KindNotFound, domain.Kind(err))
	assert.False(t, domain.IsTransient(err))
}

func TestClassify_UnknownExecution(t *testing.T) {
	cause := &types.InvalidRequestException{Message: aws.String("QueryExecution 0000-1111 was not found")}
	err := classify(fmt.Errorf("operation error Athena: GetQueryExecution: %w", cause))
	assert.Equal(t, domain.KindNotFound, domain.Kind(err))
	assert.False(t, domain.Retryable(err))
	assert.ErrorIs(t, err, cause)

	other := classify(&types.InvalidRequestException{Message: aws.String("bad id")})
	assert.Equal(t, domain.KindInternal, domain.Kind(other))
}
