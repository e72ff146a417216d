// Package dynamo is a backing-store adapter that scans DynamoDB tables with
// Limit and ExclusiveStartKey. Items are returned as JSON documents and the
// cursor is the encoded LastEvaluatedKey.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/scancache/pkg/scan"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	dynamoScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancache_dynamo_scan_requests_total",
		Help: "DynamoDB Scan requests by table and result",
	}, []string{"table", "result"}) // "ok", "throttled", "error"

	dynamoConsumedCapacity = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scancache_dynamo_consumed_capacity_units_total",
		Help: "Read capacity consumed by scans",
	}, []string{"table"})
)

// ScanAPI is the part of the DynamoDB client the source needs.
type ScanAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Config holds DynamoDB source settings.
type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// Tables maps resource names to table names. Unmapped resources use
	// TablePrefix + resource.
	Tables      map[string]string
	TablePrefix string

	// ConsistentRead requests strongly consistent scans
	ConsistentRead bool

	// OperationTimeout bounds one Scan call when the context has no deadline
	OperationTimeout time.Duration
}

// NewClient builds a DynamoDB client from cfg, honouring a custom endpoint
// and static credentials when set.
func NewClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required")
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return dynamodb.NewFromConfig(awsCfg, opts...), nil
}

// Source scans DynamoDB tables. It implements scan.Source.
type Source struct {
	api    ScanAPI
	config Config
	logger zerolog.Logger
}

var _ scan.Source = (*Source)(nil)

// New creates a DynamoDB source on api.
func New(api ScanAPI, cfg Config, logger zerolog.Logger) *Source {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	return &Source{api: api, config: cfg, logger: logger}
}

// Table returns the table scanned for resource.
func (s *Source) Table(resource string) string {
	if t, ok := s.config.Tables[resource]; ok {
		return t
	}
	return s.config.TablePrefix + resource
}

// ScanPage runs one Scan of at most limit items starting after cursor.
func (s *Source) ScanPage(ctx context.Context, resource, cursor string, limit int) (scan.Page, error) {
	table := s.Table(resource)

	startKey, err := DecodeKey(cursor)
	if err != nil {
		return scan.Page{}, err
	}

	input := &dynamodb.ScanInput{
		TableName:              aws.String(table),
		Limit:                  aws.Int32(int32(limit)),
		ExclusiveStartKey:      startKey,
		ConsistentRead:         aws.Bool(s.config.ConsistentRead),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	}

	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	out, err := s.api.Scan(opCtx, input)
	if err != nil {
		if IsThrottlingError(err) {
			dynamoScansTotal.WithLabelValues(table, "throttled").Inc()
			s.logger.Warn().Str("table", table).Msg("DynamoDB scan throttled")
		} else {
			dynamoScansTotal.WithLabelValues(table, "error").Inc()
		}
		return scan.Page{}, fmt.Errorf("scan %s: %w", table, err)
	}
	dynamoScansTotal.WithLabelValues(table, "ok").Inc()
	if out.ConsumedCapacity != nil && out.ConsumedCapacity.CapacityUnits != nil {
		dynamoConsumedCapacity.WithLabelValues(table).Add(*out.ConsumedCapacity.CapacityUnits)
	}

	items := make([]json.RawMessage, 0, len(out.Items))
	for _, item := range out.Items {
		doc, err := ItemToJSON(item)
		if err != nil {
			return scan.Page{}, fmt.Errorf("convert item from %s: %w", table, err)
		}
		items = append(items, doc)
	}

	next, err := EncodeKey(out.LastEvaluatedKey)
	if err != nil {
		return scan.Page{}, err
	}

	s.logger.Debug().
		Str("table", table).
		Int("items", len(items)).
		Bool("more", next != "").
		Msg("DynamoDB page scanned")
	return scan.Page{Items: items, NextCursor: next}, nil
}

func (s *Source) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

// IsThrottlingError reports whether err is a DynamoDB throughput rejection.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	var pte *types.ProvisionedThroughputExceededException
	if errors.As(err, &pte) {
		return true
	}
	var rle *types.RequestLimitExceeded
	return errors.As(err, &rle)
}
