package repository

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
	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
)

// DynamoAPI is the subset of the DynamoDB client used by the token store.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ DynamoAPI = (*dynamodb.Client)(nil)

// ErrTokenCollision is returned when Put finds an item under the same key.
var ErrTokenCollision = errors.New("verification token already exists")

// tokenItem is the DynamoDB shape of a verification token. Table key: id (S).
// expires_at is meant to be the table TTL attribute.
type tokenItem struct {
	ID        string    `dynamodbav:"id"`
	Purpose   string    `dynamodbav:"purpose"`
	AccountID string    `dynamodbav:"account_id"`
	Action    string    `dynamodbav:"action,omitempty"`
	IssuedAt  time.Time `dynamodbav:"issued_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"`
}

// DynamoTokenStore keeps verification tokens in a DynamoDB table. It cannot
// join SQL transactions; the token manager compensates for that.
type DynamoTokenStore struct {
	client    DynamoAPI
	tableName string
}

var _ accounts.TokenStore = (*DynamoTokenStore)(nil)

func NewDynamoTokenStore(client DynamoAPI, tableName string) *DynamoTokenStore {
	return &DynamoTokenStore{client: client, tableName: tableName}
}

func (s *DynamoTokenStore) Put(ctx context.Context, token *accounts.VerificationToken) error {
	item, err := attributevalue.MarshalMap(toItem(token))
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrTokenCollision
		}
		return err
	}
	return nil
}

func (s *DynamoTokenStore) Get(ctx context.Context, id string) (*accounts.VerificationToken, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            strKey("id", id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, accounts.ErrTokenNotFound
	}
	return unmarshalToken(out.Item)
}

// Delete removes id. DynamoDB returns the old item to exactly one of any
// number of concurrent deletes, which is what reports removal.
func (s *DynamoTokenStore) Delete(ctx context.Context, id string) (bool, error) {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.tableName),
		Key:          strKey("id", id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, err
	}
	return len(out.Attributes) > 0, nil
}

// PurgeExpired deletes tokens the table TTL has not reaped yet.
func (s *DynamoTokenStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.tableName),
			FilterExpression:     aws.String("expires_at <= :now"),
			ProjectionExpression: aws.String("id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return removed, err
		}

		for _, item := range out.Items {
			idAttr, ok := item["id"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			ok, err := s.Delete(ctx, idAttr.Value)
			if err != nil {
				return removed, err
			}
			if ok {
				removed++
			}
		}

		if len(out.LastEvaluatedKey) == 0 {
			return removed, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func toItem(t *accounts.VerificationToken) tokenItem {
	return tokenItem{
		ID:        t.ID,
		Purpose:   string(t.Purpose),
		AccountID: t.AccountID.String(),
		Action:    string(t.Payload.Action),
		IssuedAt:  t.IssuedAt.UTC(),
		ExpiresAt: t.ExpiresAt,
	}
}

func unmarshalToken(av map[string]types.AttributeValue) (*accounts.VerificationToken, error) {
	var item tokenItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}

	accountID, err := uuid.Parse(item.AccountID)
	if err != nil {
		return nil, fmt.Errorf("token account id: %w", err)
	}

	return &accounts.VerificationToken{
		ID:        item.ID,
		Purpose:   accounts.TokenPurpose(item.Purpose),
		AccountID: accountID,
		Payload: accounts.TokenPayload{
			AccountID: accountID,
			Action:    accounts.TokenAction(item.Action),
		},
		IssuedAt:  item.IssuedAt,
		ExpiresAt: item.ExpiresAt,
	}, nil
}
