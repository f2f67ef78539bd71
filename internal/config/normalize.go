package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"cuelang.org/go/cue"

	"github.com/mailchimp/Firebase/internal/selector"
)

// DisabledWatchPath is the watch-path sentinel an operator sets to switch a
// feature off.
const DisabledWatchPath = "N/A"

// DefaultContactStatus is used when MAILCHIMP_CONTACT_STATUS is unset.
const DefaultContactStatus = "subscribed"

// Diagnostic codes (E200-E299)
const (
	ErrWatchPathMissing    = "E201" // feature configured without a watch path
	ErrWatchPathDisabled   = "E202" // watch path is the N/A sentinel
	ErrInvalidJSON         = "E203" // setting is not valid JSON
	ErrEmptySetting        = "E204" // setting parsed to an empty value
	ErrSchemaViolation     = "E205" // setting does not match its definition
	ErrInvalidSelector     = "E206" // a path expression failed to compile
	ErrInvalidRetryAttempt = "E207" // retry attempts is not a non-negative integer
)

// Diagnostic is a non-fatal configuration problem. The feature named by Key
// is excluded; everything else proceeds.
type Diagnostic struct {
	Key     string   `json:"key"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

// Error implements the error interface.
func (d Diagnostic) Error() string {
	if len(d.Errors) == 0 {
		return fmt.Sprintf("[%s] %s: %s", d.Code, d.Key, d.Message)
	}
	return fmt.Sprintf("[%s] %s: %s: %s", d.Code, d.Key, d.Message, strings.Join(d.Errors, "; "))
}

// Normalize interprets the raw settings. Each feature is checked in
// isolation: a bad feature yields a Diagnostic and a nil pointer in the
// returned Config, never an error for the whole configuration.
func Normalize(raw Raw, logger *slog.Logger) (*Config, []Diagnostic) {
	if logger == nil {
		logger = slog.Default()
	}
	n := &normalizer{logger: logger.With("component", "config")}

	v, err := NewValidator()
	if err != nil {
		// The schema is embedded; failing to compile it is a build defect.
		panic(err)
	}
	n.validator = v

	cfg := &Config{
		Location:      raw.Location,
		APIKey:        raw.APIKey,
		AudienceID:    raw.AudienceID,
		ContactStatus: raw.ContactStatus,
		DatabasePath:  raw.DatabasePath,
		ListenAddr:    raw.ListenAddr,
	}
	if cfg.ContactStatus == "" {
		cfg.ContactStatus = DefaultContactStatus
	}
	cfg.RetryAttempts = n.retryAttempts(raw.RetryAttempts)

	cfg.MemberTags = n.memberTags(raw.MemberTags, raw.MemberTagsWatchPath)
	cfg.MergeFields = n.mergeFields(raw.MergeFields, raw.MergeFieldsWatchPath)
	cfg.MemberEvents = n.memberEvents(raw.MemberEvents, raw.MemberEventsWatchPath)
	cfg.Backfill = n.backfill(raw.BackfillConfig)

	return cfg, n.diags
}

type normalizer struct {
	logger    *slog.Logger
	validator *Validator
	diags     []Diagnostic
}

func (n *normalizer) report(d Diagnostic) {
	n.diags = append(n.diags, d)
	attrs := []any{"key", d.Key, "code", d.Code}
	if len(d.Errors) > 0 {
		attrs = append(attrs, "errors", d.Errors)
	}
	if d.Code == ErrWatchPathDisabled {
		n.logger.Info(d.Message, attrs...)
		return
	}
	n.logger.Warn(d.Message, attrs...)
}

func (n *normalizer) retryAttempts(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	r, err := strconv.Atoi(s)
	if err != nil || r < 0 {
		n.report(Diagnostic{
			Key:     KeyRetryAttempts,
			Code:    ErrInvalidRetryAttempt,
			Message: fmt.Sprintf("retry attempts %q is not a non-negative integer, using 0", s),
		})
		return 0
	}
	return r
}

// load runs the checks shared by every JSON-encoded feature setting and
// returns the setting unified with its definition. ok is false when the
// feature must be excluded.
func (n *normalizer) load(key, setting, watchKey, watchPath, definition string) (cue.Value, bool) {
	if strings.TrimSpace(setting) == "" {
		n.logger.Debug("feature not configured", "key", key)
		return cue.Value{}, false
	}

	var parsed any
	if err := json.Unmarshal([]byte(setting), &parsed); err != nil {
		n.report(Diagnostic{Key: key, Code: ErrInvalidJSON, Message: "setting is not valid JSON", Errors: []string{err.Error()}})
		return cue.Value{}, false
	}
	if isEmptySetting(parsed) {
		n.report(Diagnostic{Key: key, Code: ErrEmptySetting, Message: "setting is empty"})
		return cue.Value{}, false
	}

	if watchKey != "" {
		switch strings.TrimSpace(watchPath) {
		case "":
			n.report(Diagnostic{Key: watchKey, Code: ErrWatchPathMissing, Message: "watch path is required"})
			return cue.Value{}, false
		case DisabledWatchPath:
			n.report(Diagnostic{Key: watchKey, Code: ErrWatchPathDisabled, Message: "feature disabled by watch path"})
			return cue.Value{}, false
		}
	}

	res := n.validator.Validate(definition, []byte(setting))
	if !res.Valid {
		n.report(Diagnostic{Key: key, Code: ErrSchemaViolation, Message: "setting does not match schema", Errors: res.Errors})
		return cue.Value{}, false
	}
	return res.Value, true
}

func isEmptySetting(v any) bool {
	switch x := v.(type) {
	case map[string]any:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case string:
		return x == ""
	default:
		return true
	}
}

func (n *normalizer) memberTags(setting, watchPath string) *TagConfig {
	v, ok := n.load(KeyMemberTags, setting, KeyMemberTagsWatchPath, watchPath, defTagConfig)
	if !ok {
		return nil
	}
	tags, err := selectorList(v.LookupPath(cue.ParsePath("memberTags")))
	if err != nil {
		n.report(Diagnostic{Key: KeyMemberTags, Code: ErrInvalidSelector, Message: "invalid tag path", Errors: []string{err.Error()}})
		return nil
	}
	email, _ := v.LookupPath(cue.ParsePath("subscriberEmail")).String()
	return &TagConfig{
		WatchPath:       strings.TrimSpace(watchPath),
		Tags:            tags,
		SubscriberEmail: email,
	}
}

func (n *normalizer) memberEvents(setting, watchPath string) *EventsConfig {
	v, ok := n.load(KeyMemberEvents, setting, KeyMemberEventsWatchPath, watchPath, defEventsConfig)
	if !ok {
		return nil
	}
	events, err := selectorList(v.LookupPath(cue.ParsePath("memberEvents")))
	if err != nil {
		n.report(Diagnostic{Key: KeyMemberEvents, Code: ErrInvalidSelector, Message: "invalid event path", Errors: []string{err.Error()}})
		return nil
	}
	email, _ := v.LookupPath(cue.ParsePath("subscriberEmail")).String()
	return &EventsConfig{
		WatchPath:       strings.TrimSpace(watchPath),
		Events:          events,
		SubscriberEmail: email,
	}
}

// extendedField is the object spelling of a merge-field mapping.
type extendedField struct {
	MailchimpFieldName string `json:"mailchimpFieldName"`
	TypeConversion     string `json:"typeConversion"`
	When               string `json:"when"`
}

func (n *normalizer) mergeFields(setting, watchPath string) *MergeFieldsConfig {
	v, ok := n.load(KeyMergeFields, setting, KeyMergeFieldsWatchPath, watchPath, defMergeFields)
	if !ok {
		return nil
	}
	fail := func(err error) *MergeFieldsConfig {
		n.report(Diagnostic{Key: KeyMergeFields, Code: ErrInvalidSelector, Message: "invalid merge field mapping", Errors: []string{err.Error()}})
		return nil
	}

	iter, err := v.LookupPath(cue.ParsePath("mergeFields")).Fields()
	if err != nil {
		return fail(err)
	}

	var fields []FieldMapping
	for iter.Next() {
		path := iter.Selector().Unquoted()
		src, err := selector.Compile(path)
		if err != nil {
			return fail(err)
		}

		mapping := FieldMapping{Source: src}
		val := iter.Value()
		if val.Kind() == cue.StringKind {
			mapping.Target, _ = val.String()
		} else {
			var ext extendedField
			if err := val.Decode(&ext); err != nil {
				return fail(fmt.Errorf("field %q: %w", path, err))
			}
			mapping.Target = ext.MailchimpFieldName
			mapping.Conversion = parseConversion(ext.TypeConversion)
			if ext.When == "always" {
				mapping.Policy = PolicyAlways
			}
		}
		fields = append(fields, mapping)
	}

	cfg := &MergeFieldsConfig{
		WatchPath: strings.TrimSpace(watchPath),
		Fields:    fields,
	}
	cfg.SubscriberEmail, _ = v.LookupPath(cue.ParsePath("subscriberEmail")).String()

	if sf := v.LookupPath(cue.ParsePath("statusField")); sf.Exists() {
		docPath, _ := sf.LookupPath(cue.ParsePath("documentPath")).String()
		src, err := selector.Compile(docPath)
		if err != nil {
			return fail(err)
		}
		status := &StatusField{Source: src}
		if format, _ := sf.LookupPath(cue.ParsePath("statusFormat")).String(); format == "boolean" {
			status.Format = StatusFormatBoolean
		}
		cfg.Status = status
	}
	return cfg
}

func parseConversion(s string) Conversion {
	switch s {
	case "timestampToDate":
		return ConversionTimestampToDate
	case "stringToNumber":
		return ConversionStringToNumber
	default:
		return ConversionNone
	}
}

func (n *normalizer) backfill(setting string) *BackfillConfig {
	v, ok := n.load(KeyBackfillConfig, setting, "", "", defBackfillConfig)
	if !ok {
		return nil
	}
	cfg := &BackfillConfig{}
	for _, s := range stringList(v.LookupPath(cue.ParsePath("sources"))) {
		cfg.Sources = append(cfg.Sources, Source(s))
	}
	for _, e := range stringList(v.LookupPath(cue.ParsePath("events"))) {
		cfg.Events = append(cfg.Events, Trigger(e))
	}
	return cfg
}

// selectorList compiles a list whose elements are either plain expressions
// or {documentPath, valueSelector} objects.
func selectorList(v cue.Value) ([]*selector.Selector, error) {
	iter, err := v.List()
	if err != nil {
		return nil, err
	}
	var out []*selector.Selector
	for iter.Next() {
		elem := iter.Value()
		var (
			s   *selector.Selector
			err error
		)
		if elem.Kind() == cue.StringKind {
			expr, _ := elem.String()
			s, err = selector.Compile(expr)
		} else {
			docPath, _ := elem.LookupPath(cue.ParsePath("documentPath")).String()
			valueSel, _ := elem.LookupPath(cue.ParsePath("valueSelector")).String()
			s, err = selector.CompileStructured(docPath, valueSel)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func stringList(v cue.Value) []string {
	if !v.Exists() {
		return nil
	}
	iter, err := v.List()
	if err != nil {
		return nil
	}
	var out []string
	for iter.Next() {
		if s, err := iter.Value().String(); err == nil {
			out = append(out, s)
		}
	}
	return out
}
