package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the slice of the DynamoDB client the remote uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoRemote stores state in a single DynamoDB table. Users and
// briefings are individual items keyed under their owner; the usage
// ledger and the activity map are single meta documents.
type DynamoRemote struct {
	client DynamoAPI
	table  string
}

// NewDynamoRemote creates a remote backed by the given table.
func NewDynamoRemote(client DynamoAPI, table string) *DynamoRemote {
	return &DynamoRemote{client: client, table: table}
}

const (
	itemTypeUser     = "user"
	itemTypeBriefing = "briefing"
	itemTypeUsage    = "usage"
	itemTypeActivity = "activity"
)

func userKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "USER#" + id},
		"SK": &types.AttributeValueMemberS{Value: "PROFILE"},
	}
}

func briefingKey(key BriefingKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "USER#" + key.UserID},
		"SK": &types.AttributeValueMemberS{Value: "BRIEFING#" + key.ID},
	}
}

func metaKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "META#" + name},
		"SK": &types.AttributeValueMemberS{Value: "DOC"},
	}
}

// Load scans the table and rebuilds the full state. found is false when
// the table holds no items at all.
func (r *DynamoRemote) Load(ctx context.Context) (*State, bool, error) {
	state := &State{}
	found := false

	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(r.table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, false, fmt.Errorf("scan table %s: %w", r.table, err)
		}
		for _, item := range out.Items {
			found = true
			if err := r.applyItem(state, item); err != nil {
				return nil, false, err
			}
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return state, found, nil
}

func (r *DynamoRemote) applyItem(state *State, item map[string]types.AttributeValue) error {
	typeAttr, ok := item["Type"].(*types.AttributeValueMemberS)
	if !ok {
		return nil
	}
	switch typeAttr.Value {
	case itemTypeUser:
		var u User
		if err := attributevalue.UnmarshalMap(item, &u); err != nil {
			return fmt.Errorf("decode user item: %w", err)
		}
		state.Users = append(state.Users, &u)
	case itemTypeBriefing:
		var b Briefing
		if err := attributevalue.UnmarshalMap(item, &b); err != nil {
			return fmt.Errorf("decode briefing item: %w", err)
		}
		state.Briefings = append(state.Briefings, &b)
	case itemTypeUsage:
		var doc struct {
			Data *Usage `dynamodbav:"Data"`
		}
		if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
			return fmt.Errorf("decode usage doc: %w", err)
		}
		state.Usage = doc.Data
	case itemTypeActivity:
		var doc struct {
			Data *Activity `dynamodbav:"Data"`
		}
		if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
			return fmt.Errorf("decode activity doc: %w", err)
		}
		state.Activity = doc.Data
	}
	return nil
}

func (r *DynamoRemote) putRecord(ctx context.Context, record any, key map[string]types.AttributeValue, itemType string) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("encode %s item: %w", itemType, err)
	}
	for k, v := range key {
		item[k] = v
	}
	item["Type"] = &types.AttributeValueMemberS{Value: itemType}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put %s item: %w", itemType, err)
	}
	return nil
}

func (r *DynamoRemote) deleteKey(ctx context.Context, key map[string]types.AttributeValue) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key:       key,
	})
	return err
}

// SyncUsers writes every user item and deletes the removed ones.
func (r *DynamoRemote) SyncUsers(ctx context.Context, users []*User, removedIDs []string) error {
	for _, u := range users {
		if err := r.putRecord(ctx, u, userKey(u.ID), itemTypeUser); err != nil {
			return err
		}
	}
	for _, id := range removedIDs {
		if err := r.deleteKey(ctx, userKey(id)); err != nil {
			return fmt.Errorf("delete user item: %w", err)
		}
	}
	return nil
}

// SyncBriefings writes every briefing item and deletes the removed ones.
func (r *DynamoRemote) SyncBriefings(ctx context.Context, briefings []*Briefing, removed []BriefingKey) error {
	for _, b := range briefings {
		key := briefingKey(BriefingKey{UserID: b.UserID, ID: b.ID})
		if err := r.putRecord(ctx, b, key, itemTypeBriefing); err != nil {
			return err
		}
	}
	for _, key := range removed {
		if err := r.deleteKey(ctx, briefingKey(key)); err != nil {
			return fmt.Errorf("delete briefing item: %w", err)
		}
	}
	return nil
}

type metaDoc[T any] struct {
	Data T `dynamodbav:"Data"`
}

// SyncUsage writes the usage ledger as one meta document.
func (r *DynamoRemote) SyncUsage(ctx context.Context, usage *Usage) error {
	return r.putRecord(ctx, metaDoc[*Usage]{Data: usage}, metaKey("usage"), itemTypeUsage)
}

// SyncActivity writes the activity map as one meta document.
func (r *DynamoRemote) SyncActivity(ctx context.Context, activity *Activity) error {
	return r.putRecord(ctx, metaDoc[*Activity]{Data: activity}, metaKey("activity"), itemTypeActivity)
}
