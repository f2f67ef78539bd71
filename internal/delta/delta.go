package delta

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/mailchimp/Firebase/internal/config"
	"github.com/mailchimp/Firebase/internal/selector"
)

// TagStatus is the remote state a tag is moved to.
type TagStatus string

const (
	TagActive   TagStatus = "active"
	TagInactive TagStatus = "inactive"
)

// TagChange activates or deactivates one tag. Name is the document value
// itself, which need not be a string.
type TagChange struct {
	Name   any       `json:"name"`
	Status TagStatus `json:"status"`
}

// StatusChange moves a member to a new subscription status.
type StatusChange struct {
	Status      string `json:"status"`
	StatusIfNew string `json:"status_if_new"`
}

// ComputeTagDelta returns deactivations for tag values that disappeared
// followed by activations for values that appeared. Values are compared
// structurally.
func ComputeTagDelta(cfg *config.TagConfig, prev, next map[string]any) []TagChange {
	var prevVals, nextVals []any
	for _, s := range cfg.Tags {
		prevVals = append(prevVals, values(s, prev)...)
		nextVals = append(nextVals, values(s, next)...)
	}

	var changes []TagChange
	for _, v := range difference(prevVals, nextVals) {
		changes = append(changes, TagChange{Name: v, Status: TagInactive})
	}
	for _, v := range difference(nextVals, prevVals) {
		changes = append(changes, TagChange{Name: v, Status: TagActive})
	}
	return changes
}

// ComputeEventDelta returns, per configured path in order, the values
// present in next but not in prev. This is a list difference: a value
// repeated in next fires once per repetition unless prev holds it at all.
func ComputeEventDelta(cfg *config.EventsConfig, prev, next map[string]any) []string {
	var events []string
	for _, s := range cfg.Events {
		for _, v := range difference(values(s, next), values(s, prev)) {
			events = append(events, eventName(v))
		}
	}
	return events
}

// ComputeFieldDelta returns the merge-field payload and an optional status
// change. Dotted targets nest ("ADDRESS.city" sets merge_fields.ADDRESS.city).
//
// A failed conversion abandons the whole payload and returns a
// *ConversionError.
func ComputeFieldDelta(cfg *config.MergeFieldsConfig, prev, next map[string]any) (map[string]any, *StatusChange, error) {
	fields := map[string]any{}
	for _, m := range cfg.Fields {
		prevVal := m.Source.ResolveOr(prev, "")
		nextVal := m.Source.ResolveOr(next, "")
		if m.Policy != config.PolicyAlways && equal(prevVal, nextVal) {
			continue
		}

		v, err := convert(m, nextVal)
		if err != nil {
			return nil, nil, err
		}
		if err := selector.Set(fields, m.Target, v); err != nil {
			return nil, nil, fmt.Errorf("set merge field %s: %w", m.Target, err)
		}
	}
	if len(fields) == 0 {
		fields = nil
	}

	var status *StatusChange
	if cfg.Status != nil {
		prevStatus := statusValue(cfg.Status, cfg.Status.Source.ResolveOr(prev, ""))
		nextStatus := statusValue(cfg.Status, cfg.Status.Source.ResolveOr(next, ""))
		if prevStatus != nextStatus {
			status = &StatusChange{Status: nextStatus, StatusIfNew: nextStatus}
		}
	}
	return fields, status, nil
}

// ConversionError reports a merge-field value that could not be converted.
type ConversionError struct {
	Field      string
	Conversion config.Conversion
	Value      any
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	return fmt.Sprintf("merge field %s: cannot apply %s to %T value %v", e.Field, e.Conversion, e.Value, e.Value)
}

func convert(m config.FieldMapping, v any) (any, error) {
	fail := &ConversionError{Field: m.Target, Conversion: m.Conversion, Value: v}
	switch m.Conversion {
	case config.ConversionTimestampToDate:
		ts, ok := v.(time.Time)
		if !ok || ts.IsZero() {
			return nil, fail
		}
		return ts.UTC().Format("2006-01-02"), nil

	case config.ConversionStringToNumber:
		switch x := v.(type) {
		case float64, float32, int, int32, int64:
			return x, nil
		case json.Number:
			f, err := x.Float64()
			if err != nil {
				return nil, fail
			}
			return f, nil
		case string:
			f, err := parseNumber(x)
			if err != nil {
				return nil, fail
			}
			return f, nil
		default:
			return nil, fail
		}
	}
	return v, nil
}

// statusValue maps a raw document value to a remote status string.
func statusValue(sf *config.StatusField, v any) string {
	if sf.Format == config.StatusFormatBoolean {
		if truthy(v) {
			return "subscribed"
		}
		return "unsubscribed"
	}
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// values resolves s against doc and flattens the result. Array elements
// are kept as is; a scalar counts only when truthy.
func values(s *selector.Selector, doc map[string]any) []any {
	var out []any
	switch v := s.Resolve(doc).(type) {
	case nil:
	case []any:
		out = append(out, v...)
	default:
		if truthy(v) {
			out = append(out, v)
		}
	}
	return out
}

// difference returns the elements of a not structurally equal to any
// element of b, in a's order. Duplicates in a are kept.
func difference(a, b []any) []any {
	var out []any
	for _, x := range a {
		if !contains(b, x) {
			out = append(out, x)
		}
	}
	return out
}

func contains(list []any, v any) bool {
	for _, e := range list {
		if equal(e, v) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// truthy follows the usual dynamic-language notion: nil, false, "", 0 and
// NaN are false; everything else is true.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case float32:
		return x != 0 && !math.IsNaN(float64(x))
	case int:
		return x != 0
	case int64:
		return x != 0
	case int32:
		return x != 0
	default:
		return true
	}
}

func eventName(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
