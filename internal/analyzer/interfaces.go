package analyzer

import "github.com/anime-shed/image-describer-go/pkg/models"

// ResponseNormalizer validates a decoded analysis document and builds a record from it
type ResponseNormalizer interface {
	Normalize(source string, doc map[string]interface{}) (models.ResultRecord, error)
}

// TagFilter post-processes the tags of a successful record
type TagFilter interface {
	Apply(rec models.ResultRecord) models.ResultRecord
}
