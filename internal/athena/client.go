// Package athena implements domain.QueryService over Amazon Athena, reading
// result objects from S3.
package athena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"athena-runner/internal/domain"
)

// Compile-time checks.
var (
	_ domain.QueryService      = (*Client)(nil)
	_ domain.ExecutionCanceler = (*Client)(nil)
)

// QueryAPI is the subset of the Athena client used here.
type QueryAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// ObjectAPI is the subset of the S3 client used here.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config holds the connection settings for Athena and S3.
type Config struct {
	Database       string
	Catalog        string
	Workgroup      string
	OutputLocation string // s3:// prefix for result objects; empty uses the workgroup's
	Region         string
	Endpoint       string // custom endpoint for S3-compatible or local stacks

	// Static credentials. Empty means the default AWS credential chain.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	RequestsPerSecond float64 // control-plane rate limit; <= 0 disables it
}

// Client talks to Athena for execution control and to S3 for result bytes.
type Client struct {
	queries QueryAPI
	objects ObjectAPI
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New builds SDK clients from cfg.
//
// Region and credentials resolve through the default AWS chain (environment,
// shared config, instance role) unless static keys are given. A custom
// endpoint switches S3 to path-style addressing.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	queries := athena.NewFromConfig(awsCfg, func(o *athena.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	objects := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithAPI(queries, objects, cfg, logger), nil
}

// NewWithAPI wires a Client over existing SDK clients or test doubles.
func NewWithAPI(queries QueryAPI, objects ObjectAPI, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{queries: queries, objects: objects, cfg: cfg, logger: logger}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Submit starts a query execution. The client request token makes SDK-level
// retries of the same call idempotent, so one Submit starts one execution.
func (c *Client) Submit(ctx context.Context, sql string) (domain.ExecutionHandle, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	in := &athena.StartQueryExecutionInput{
		QueryString:        aws.String(sql),
		ClientRequestToken: aws.String(uuid.NewString()),
	}
	if c.cfg.Database != "" || c.cfg.Catalog != "" {
		in.QueryExecutionContext = &types.QueryExecutionContext{}
		if c.cfg.Database != "" {
			in.QueryExecutionContext.Database = aws.String(c.cfg.Database)
		}
		if c.cfg.Catalog != "" {
			in.QueryExecutionContext.Catalog = aws.String(c.cfg.Catalog)
		}
	}
	if c.cfg.OutputLocation != "" {
		in.ResultConfiguration = &types.ResultConfiguration{OutputLocation: aws.String(c.cfg.OutputLocation)}
	}
	if c.cfg.Workgroup != "" {
		in.WorkGroup = aws.String(c.cfg.Workgroup)
	}

	out, err := c.queries.StartQueryExecution(ctx, in)
	if err != nil {
		return "", classify(err)
	}
	id := aws.ToString(out.QueryExecutionId)
	if id == "" {
		return "", errors.New("athena returned no query execution id")
	}
	return domain.ExecutionHandle(id), nil
}

// GetState reads the current status and statistics of an execution.
func (c *Client) GetState(ctx context.Context, h domain.ExecutionHandle) (*domain.ExecutionStatus, error) {
	qe, err := c.describe(ctx, h)
	if err != nil {
		return nil, err
	}
	if qe.Status == nil {
		return nil, fmt.Errorf("athena returned no status for %s", h)
	}

	state, err := domain.ParseExecutionState(string(qe.Status.State))
	if err != nil {
		return nil, err
	}
	status := &domain.ExecutionStatus{State: state, Reason: aws.ToString(qe.Status.StateChangeReason)}
	if status.Reason == "" && qe.Status.AthenaError != nil {
		status.Reason = aws.ToString(qe.Status.AthenaError.ErrorMessage)
	}
	if s := qe.Statistics; s != nil {
		status.Stats = domain.ExecutionStats{
			DataScannedBytes:      aws.ToInt64(s.DataScannedInBytes),
			EngineExecutionMillis: aws.ToInt64(s.EngineExecutionTimeInMillis),
			TotalExecutionMillis:  aws.ToInt64(s.TotalExecutionTimeInMillis),
		}
	}
	return status, nil
}

// GetResultLocation returns the S3 object Athena wrote the result set to.
func (c *Client) GetResultLocation(ctx context.Context, h domain.ExecutionHandle) (domain.ResultLocation, error) {
	qe, err := c.describe(ctx, h)
	if err != nil {
		return domain.ResultLocation{}, err
	}
	if qe.ResultConfiguration == nil || aws.ToString(qe.ResultConfiguration.OutputLocation) == "" {
		return domain.ResultLocation{}, fmt.Errorf("execution %s has no output location", h)
	}
	return domain.ParseS3URI(aws.ToString(qe.ResultConfiguration.OutputLocation))
}

// Read opens the result object. The size is -1 when S3 does not report it.
func (c *Client) Read(ctx context.Context, loc domain.ResultLocation) (io.ReadCloser, int64, error) {
	out, err := c.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, 0, classify(err)
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// Cancel stops a running execution.
func (c *Client) Cancel(ctx context.Context, h domain.ExecutionHandle) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.queries.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(string(h)),
	})
	return classify(err)
}

func (c *Client) describe(ctx context.Context, h domain.ExecutionHandle) (*types.QueryExecution, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.queries.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(string(h)),
	})
	if err != nil {
		return nil, classify(err)
	}
	if out.QueryExecution == nil {
		return nil, fmt.Errorf("athena returned no execution for %s", h)
	}
	c.logger.Debug("athena execution described", "execution_id", h)
	return out.QueryExecution, nil
}
