package dynamo

// Single-table layout: one CONTENT item and one THUMBNAIL item per page,
// both under the PAGE#<pageId> partition.
type dynamoPage struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Content   []byte `dynamodbav:"Content"`
	UpdatedAt int64  `dynamodbav:"UpdatedAt"`
}

type dynamoThumbnail struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Thumbnail []byte `dynamodbav:"Thumbnail"`
	UpdatedAt int64  `dynamodbav:"UpdatedAt"`
}

const (
	skContent   = "CONTENT"
	skThumbnail = "THUMBNAIL"
)

func pagePK(pageId string) string {
	return "PAGE#" + pageId
}
