package analyzer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "github.com/anime-shed/image-describer-go/internal/errors"
	"github.com/anime-shed/image-describer-go/internal/logger"
	"github.com/anime-shed/image-describer-go/pkg/models"
)

// Normalizer implements ResponseNormalizer for Image Analysis 4.0 documents.
// It also accepts a top-level "tags" array, which takes precedence over tagsResult.
type Normalizer struct {
	topK int
	log  *logrus.Entry
}

// NewNormalizer creates a normalizer keeping at most opts.TopK tags
func NewNormalizer(opts AnalysisOptions, log *logrus.Entry) *Normalizer {
	topK := opts.TopK
	if topK < 1 {
		topK = DefaultTopK
	}
	if log == nil {
		log = logrus.NewEntry(logger.Logger)
	}
	return &Normalizer{topK: topK, log: log}
}

// Normalize validates doc and returns a successful ResultRecord for source
func (n *Normalizer) Normalize(source string, doc map[string]interface{}) (models.ResultRecord, error) {
	if doc == nil {
		return models.ResultRecord{}, apperrors.NewMalformedResponseError("empty response document", nil)
	}

	caption, ok := doc["captionResult"].(map[string]interface{})
	if !ok {
		return models.ResultRecord{}, apperrors.NewMalformedResponseError("captionResult missing or not an object", nil)
	}
	text, ok := caption["text"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return models.ResultRecord{}, apperrors.NewMalformedResponseError("captionResult.text missing or empty", nil)
	}
	captionConf, err := finite(caption["confidence"], "captionResult.confidence")
	if err != nil {
		return models.ResultRecord{}, err
	}

	rawTags, err := tagValues(doc)
	if err != nil {
		return models.ResultRecord{}, err
	}

	tags := make([]models.Tag, 0, len(rawTags))
	for i, v := range rawTags {
		entry, ok := v.(map[string]interface{})
		if !ok {
			return models.ResultRecord{}, apperrors.NewMalformedResponseError(fmt.Sprintf("tag %d is not an object", i), nil)
		}
		name, ok := entry["name"].(string)
		if !ok || strings.TrimSpace(name) == "" {
			return models.ResultRecord{}, apperrors.NewMalformedResponseError(fmt.Sprintf("tag %d has no name", i), nil)
		}
		conf, err := finite(entry["confidence"], fmt.Sprintf("tag %q confidence", name))
		if err != nil {
			return models.ResultRecord{}, err
		}
		tags = append(tags, models.Tag{Name: name, Confidence: n.clamp(source, "tag "+name, conf)})
	}

	sort.SliceStable(tags, func(i, j int) bool {
		return tags[i].Confidence > tags[j].Confidence
	})
	if len(tags) > n.topK {
		tags = tags[:n.topK]
	}

	return models.ResultRecord{
		Source:            source,
		Caption:           text,
		CaptionConfidence: n.clamp(source, "caption", captionConf),
		Tags:              tags,
	}, nil
}

// tagValues picks the tag array from either supported shape
func tagValues(doc map[string]interface{}) ([]interface{}, error) {
	if v, present := doc["tags"]; present {
		arr, ok := v.([]interface{})
		if !ok {
			return nil, apperrors.NewMalformedResponseError("tags is not an array", nil)
		}
		return arr, nil
	}

	result, ok := doc["tagsResult"].(map[string]interface{})
	if !ok {
		return nil, apperrors.NewMalformedResponseError("tags missing", nil)
	}
	arr, ok := result["values"].([]interface{})
	if !ok {
		return nil, apperrors.NewMalformedResponseError("tagsResult.values missing or not an array", nil)
	}
	return arr, nil
}

func finite(v interface{}, field string) (float64, error) {
	f, ok := v.(float64)
	if !ok {
		return 0, apperrors.NewMalformedResponseError(field+" missing or not a number", nil)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, apperrors.NewMalformedResponseError(field+" is not finite", nil)
	}
	return f, nil
}

func (n *Normalizer) clamp(source, field string, v float64) float64 {
	c := math.Min(1, math.Max(0, v))
	if c != v {
		n.log.WithFields(logrus.Fields{
			"source":  source,
			"field":   field,
			"value":   v,
			"clamped": c,
		}).Warn("Confidence out of range, clamped")
	}
	return c
}
