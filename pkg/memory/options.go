package memory

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Default Stage 1 candidate caps and the upper bound accepted for topK.
const (
	DefaultSourceTopK = 50
	MaxTopK           = 1000
)

var optionsValidator = validator.New()

// RetrieveOptions tunes a single Retrieve call.
type RetrieveOptions struct {
	// ExpandQuery enables query expansion for keyword search.
	ExpandQuery bool `json:"expand_query"`

	// UseReranker enables the external scorer. When false or when the
	// scorer is unavailable, candidates are ordered by fused score.
	UseReranker bool `json:"use_reranker"`

	// Per-source Stage 1 candidate caps. Zero selects DefaultSourceTopK.
	BM25TopK   int `json:"bm25_top_k" validate:"gte=0,lte=1000"`
	VectorTopK int `json:"vector_top_k" validate:"gte=0,lte=1000"`
	GraphTopK  int `json:"graph_top_k" validate:"gte=0,lte=1000"`

	// SourceWeights multiplies each source's fusion contribution.
	SourceWeights map[string]float64 `json:"source_weights,omitempty" validate:"omitempty,dive,keys,oneof=keyword vector graph,endkeys,gte=0,lte=100"`
}

// DefaultRetrieveOptions returns options with the reranker enabled and
// default candidate caps.
func DefaultRetrieveOptions() RetrieveOptions {
	return RetrieveOptions{
		UseReranker: true,
		BM25TopK:    DefaultSourceTopK,
		VectorTopK:  DefaultSourceTopK,
		GraphTopK:   DefaultSourceTopK,
	}
}

// OptionsError describes rejected retrieve options.
type OptionsError struct {
	Field  string
	Reason string
}

func (e *OptionsError) Error() string {
	return fmt.Sprintf("memory: invalid retrieve option %s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidOptions so callers can use errors.Is.
func (e *OptionsError) Unwrap() error {
	return ErrInvalidOptions
}

// Validate rejects malformed options before any work begins.
func (o RetrieveOptions) Validate() error {
	if err := optionsValidator.Struct(o); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &OptionsError{Field: fe.Namespace(), Reason: formatOptionError(fe)}
		}
		return &OptionsError{Field: "options", Reason: err.Error()}
	}
	return nil
}

func (o RetrieveOptions) withDefaults() RetrieveOptions {
	if o.BM25TopK == 0 {
		o.BM25TopK = DefaultSourceTopK
	}
	if o.VectorTopK == 0 {
		o.VectorTopK = DefaultSourceTopK
	}
	if o.GraphTopK == 0 {
		o.GraphTopK = DefaultSourceTopK
	}
	return o
}

func validateTopK(topK int) error {
	if topK <= 0 || topK > MaxTopK {
		return &OptionsError{Field: "top_k", Reason: fmt.Sprintf("must be within [1, %d], got %d", MaxTopK, topK)}
	}
	return nil
}

func formatOptionError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
