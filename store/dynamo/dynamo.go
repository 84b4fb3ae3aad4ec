package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/inkdeck/inkdeck/store"
)

type DynamoPageStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoPageStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoPageStore, error) {
	client, err := newDynamoDBClient(context.Background(), devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoPageStore{client: client, tableName: tableName}, nil
}

func (pageStore *DynamoPageStore) SavePage(ctx context.Context, pageId string, content []byte) error {
	return putItem(pageStore, ctx, dynamoPage{
		PK:        pagePK(pageId),
		SK:        skContent,
		Content:   content,
		UpdatedAt: time.Now().UnixMilli(),
	})
}

func (pageStore *DynamoPageStore) LoadPage(ctx context.Context, pageId string) ([]byte, error) {
	dp, err := getItem[dynamoPage](pageStore, ctx, pagePK(pageId), skContent, false)
	if err != nil {
		return nil, err
	}
	return dp.Content, nil
}

// SaveThumbnail persists a page thumbnail. Thumbnails for pages that
// were never saved are rejected so orphan records cannot accumulate.
func (pageStore *DynamoPageStore) SaveThumbnail(ctx context.Context, pageId string, thumbnail []byte) error {
	exists, err := itemExists(pageStore, ctx, pagePK(pageId), skContent)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrConditionFailed
	}

	return putItem(pageStore, ctx, dynamoThumbnail{
		PK:        pagePK(pageId),
		SK:        skThumbnail,
		Thumbnail: thumbnail,
		UpdatedAt: time.Now().UnixMilli(),
	})
}
