package telemetry

import (
	"fmt"
	"maps"

	"go.opentelemetry.io/otel/attribute"
)

type SpanAttributes struct {
	ActionCategory string

	Project      optional[string]   // fuzzrig.project
	Target       optional[string]   // fuzzrig.target
	Sanitizers   optional[[]string] // fuzzrig.sanitizers
	Profile      optional[string]   // fuzzrig.build.profile
	Outcome      optional[string]   // fuzzrig.run.outcome
	ArtifactPath optional[string]   // fuzzrig.artifact.path
	corpusSize   optional[int]      // fuzz.corpus.size

	extraAttributes map[string]any
}

func NewSpanAttributes(actionCategory ActionCategory) *SpanAttributes {
	return &SpanAttributes{
		ActionCategory:  actionCategory.String(),
		extraAttributes: make(map[string]any),
	}
}

// returns an empty SpanAttributes instance with no action category.
func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{
		extraAttributes: make(map[string]any),
	}
}

// Merge updates the current SpanAttributes with values from another SpanAttributes.
// Values are only updated if they are set in the other SpanAttributes and not set in the current one.
// The ActionCategory is always updated when the other one carries it.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}

	if other.ActionCategory != "" {
		o.ActionCategory = other.ActionCategory
	}

	mergeOptional(&o.Project, &other.Project)
	mergeOptional(&o.Target, &other.Target)
	mergeOptional(&o.Sanitizers, &other.Sanitizers)
	mergeOptional(&o.Profile, &other.Profile)
	mergeOptional(&o.Outcome, &other.Outcome)
	mergeOptional(&o.ArtifactPath, &other.ArtifactPath)
	mergeOptional(&o.corpusSize, &other.corpusSize)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithProject(val string) *SpanAttributes {
	o.Project.Set(val)
	return o
}

func (o *SpanAttributes) WithTarget(val string) *SpanAttributes {
	o.Target.Set(val)
	return o
}

func (o *SpanAttributes) WithSanitizers(val []string) *SpanAttributes {
	o.Sanitizers.Set(val)
	return o
}

func (o *SpanAttributes) WithProfile(val string) *SpanAttributes {
	o.Profile.Set(val)
	return o
}

func (o *SpanAttributes) WithOutcome(val string) *SpanAttributes {
	o.Outcome.Set(val)
	return o
}

func (o *SpanAttributes) WithArtifactPath(val string) *SpanAttributes {
	o.ArtifactPath.Set(val)
	return o
}

func (o *SpanAttributes) WithCorpusSize(val int) *SpanAttributes {
	o.corpusSize.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttribute(key string, val any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	o.extraAttributes[key] = val
	return o
}

func (o *SpanAttributes) WithExtraAttributes(attrs map[string]any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	maps.Copy(o.extraAttributes, attrs)
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	attrs = append(attrs, attribute.String("fuzzrig.action.category", o.ActionCategory))
	if o.Project.set {
		attrs = append(attrs, attribute.String("fuzzrig.project", o.Project.val))
	}
	if o.Target.set {
		attrs = append(attrs, attribute.String("fuzzrig.target", o.Target.val))
	}
	if o.Sanitizers.set {
		attrs = append(attrs, attribute.StringSlice("fuzzrig.sanitizers", o.Sanitizers.val))
	}
	if o.Profile.set {
		attrs = append(attrs, attribute.String("fuzzrig.build.profile", o.Profile.val))
	}
	if o.Outcome.set {
		attrs = append(attrs, attribute.String("fuzzrig.run.outcome", o.Outcome.val))
	}
	if o.ArtifactPath.set {
		attrs = append(attrs, attribute.String("fuzzrig.artifact.path", o.ArtifactPath.val))
	}
	if o.corpusSize.set {
		attrs = append(attrs, attribute.Int("fuzz.corpus.size", o.corpusSize.val))
	}

	for k, v := range o.extraAttributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	return attrs
}

type EventAttributes []attribute.KeyValue

func NewEventAttributes(attributes map[string]string) EventAttributes {
	attrs := make(EventAttributes, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
