package config

import (
	"github.com/mailchimp/Firebase/internal/selector"
)

// Feature names a configurable sync feature. The values double as the
// backfill source names.
type Feature string

const (
	FeatureMemberTags   Feature = "MEMBER_TAGS"
	FeatureMergeFields  Feature = "MERGE_FIELDS"
	FeatureMemberEvents Feature = "MEMBER_EVENTS"
)

// Source is a backfill source.
type Source string

const (
	SourceAuth         Source = "AUTH"
	SourceMergeFields  Source = Source(FeatureMergeFields)
	SourceMemberTags   Source = Source(FeatureMemberTags)
	SourceMemberEvents Source = Source(FeatureMemberEvents)
)

// Trigger is an extension lifecycle event that may start a backfill.
type Trigger string

const (
	TriggerInstall   Trigger = "INSTALL"
	TriggerUpdate    Trigger = "UPDATE"
	TriggerConfigure Trigger = "CONFIGURE"
)

// Policy controls when a merge field is sent.
type Policy int

const (
	// PolicyChangedOnly sends the field only when its value changed.
	PolicyChangedOnly Policy = iota
	// PolicyAlways sends the field on every write.
	PolicyAlways
)

func (p Policy) String() string {
	if p == PolicyAlways {
		return "always"
	}
	return "changed"
}

// Conversion is a typed transformation applied to a merge field value.
type Conversion int

const (
	ConversionNone Conversion = iota
	ConversionTimestampToDate
	ConversionStringToNumber
)

func (c Conversion) String() string {
	switch c {
	case ConversionTimestampToDate:
		return "timestampToDate"
	case ConversionStringToNumber:
		return "stringToNumber"
	default:
		return "none"
	}
}

// StatusFormat says how the status source value is interpreted.
type StatusFormat int

const (
	// StatusFormatString passes the document value through as the status.
	StatusFormatString StatusFormat = iota
	// StatusFormatBoolean maps truthy to "subscribed", falsy to "unsubscribed".
	StatusFormatBoolean
)

// FieldMapping is the canonical form of one merge-field mapping. Both the
// plain ("PHONE") and extended ({mailchimpFieldName, ...}) spellings
// normalize to this shape.
type FieldMapping struct {
	Source     *selector.Selector
	Target     string
	Policy     Policy
	Conversion Conversion
}

// StatusField drives remote subscription-status transitions.
type StatusField struct {
	Source *selector.Selector
	Format StatusFormat
}

// TagConfig is the normalized member-tags feature.
type TagConfig struct {
	WatchPath       string
	Tags            []*selector.Selector
	SubscriberEmail string
}

// MergeFieldsConfig is the normalized merge-fields feature. Fields keep
// their declaration order.
type MergeFieldsConfig struct {
	WatchPath       string
	Fields          []FieldMapping
	Status          *StatusField
	SubscriberEmail string
}

// EventsConfig is the normalized member-events feature.
type EventsConfig struct {
	WatchPath       string
	Events          []*selector.Selector
	SubscriberEmail string
}

// BackfillConfig lists what a backfill covers and which lifecycle events
// start one.
type BackfillConfig struct {
	Sources []Source
	Events  []Trigger
}

// HasTrigger reports whether t is configured to start a backfill.
func (b *BackfillConfig) HasTrigger(t Trigger) bool {
	if b == nil {
		return false
	}
	for _, e := range b.Events {
		if e == t {
			return true
		}
	}
	return false
}

// HasSource reports whether s is a configured backfill source.
func (b *BackfillConfig) HasSource(s Source) bool {
	if b == nil {
		return false
	}
	for _, src := range b.Sources {
		if src == s {
			return true
		}
	}
	return false
}

// Config is the normalized, immutable configuration. A feature pointer is
// nil when that feature was excluded during normalization.
//
// A Config is shared read-only across concurrent handlers; replace it
// wholesale rather than mutating it.
type Config struct {
	Location      string
	APIKey        string
	AudienceID    string
	ContactStatus string
	RetryAttempts int

	MemberTags   *TagConfig
	MergeFields  *MergeFieldsConfig
	MemberEvents *EventsConfig
	Backfill     *BackfillConfig

	DatabasePath string
	ListenAddr   string
}

// WatchPath returns the watch path of a configured feature, or "".
func (c *Config) WatchPath(f Feature) string {
	switch f {
	case FeatureMemberTags:
		if c.MemberTags != nil {
			return c.MemberTags.WatchPath
		}
	case FeatureMergeFields:
		if c.MergeFields != nil {
			return c.MergeFields.WatchPath
		}
	case FeatureMemberEvents:
		if c.MemberEvents != nil {
			return c.MemberEvents.WatchPath
		}
	}
	return ""
}
