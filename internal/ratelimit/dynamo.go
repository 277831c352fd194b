package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
)

// DynamoDB key layout: one item per identity.
const (
	pkPrefix = "RATE#"
	skWindow = "WINDOW"
)

// UpdateItemAPI is the subset of the DynamoDB client used by DynamoStore.
type UpdateItemAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// windowItem is the attribute layout of a window record.
type windowItem struct {
	CallCount   int   `dynamodbav:"callCount"`
	WindowStart int64 `dynamodbav:"windowStart"`
	ExpiresAt   int64 `dynamodbav:"expiresAt"`
}

// DynamoStore keeps windows in a DynamoDB table with a PK/SK key schema and
// an expiresAt TTL attribute. Atomicity comes from conditional updates.
type DynamoStore struct {
	client    UpdateItemAPI
	tableName string
	now       func() time.Time
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client UpdateItemAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func windowKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + key},
		"SK": &types.AttributeValueMemberS{Value: skWindow},
	}
}

func numberValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// Allow first tries to start a fresh window (item missing or expired). When
// that condition fails the window is live, so it increments under the
// condition that the count is still below the limit.
func (s *DynamoStore) Allow(ctx context.Context, key string, limit int, length time.Duration) (Decision, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.DynamoAllow")
	span.SetAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.limit", limit),
	)
	defer span.End()

	if limit <= 0 {
		return Decision{}, nil
	}

	now := s.now()
	expiredBefore := now.Add(-length).UnixMilli()
	ttl := now.Add(2 * length).Unix()

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 windowKey(key),
		UpdateExpression:    aws.String("SET callCount = :one, windowStart = :now, expiresAt = :ttl"),
		ConditionExpression: aws.String("attribute_not_exists(PK) OR windowStart <= :expiredBefore"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":           numberValue(1),
			":now":           numberValue(now.UnixMilli()),
			":ttl":           numberValue(ttl),
			":expiredBefore": numberValue(expiredBefore),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err == nil {
		return s.decision(out, length)
	}
	if !isConditionFailed(err) {
		span.RecordError(err)
		return Decision{}, fmt.Errorf("UpdateItem reset %s: %w", key, err)
	}

	out, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 windowKey(key),
		UpdateExpression:    aws.String("ADD callCount :one"),
		ConditionExpression: aws.String("callCount < :max AND windowStart > :expiredBefore"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":           numberValue(1),
			":max":           numberValue(int64(limit)),
			":expiredBefore": numberValue(expiredBefore),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err == nil {
		return s.decision(out, length)
	}
	if isConditionFailed(err) {
		// Either the limit was reached or the window expired between the two
		// calls; both are treated as a denial for this call.
		span.SetAttributes(attribute.Bool("ratelimit.allowed", false))
		return Decision{Count: limit}, nil
	}
	span.RecordError(err)
	return Decision{}, fmt.Errorf("UpdateItem increment %s: %w", key, err)
}

func (s *DynamoStore) decision(out *dynamodb.UpdateItemOutput, length time.Duration) (Decision, error) {
	var item windowItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return Decision{}, fmt.Errorf("unmarshal window: %w", err)
	}
	return Decision{
		Allowed: true,
		Count:   item.CallCount,
		ResetAt: time.UnixMilli(item.WindowStart).Add(length),
	}, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
