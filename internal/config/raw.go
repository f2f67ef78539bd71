package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Parameter names. These are both the YAML keys and the environment
// variable names.
const (
	KeyLocation              = "LOCATION"
	KeyAPIKey                = "MAILCHIMP_API_KEY"
	KeyAudienceID            = "MAILCHIMP_AUDIENCE_ID"
	KeyContactStatus         = "MAILCHIMP_CONTACT_STATUS"
	KeyMemberTags            = "MAILCHIMP_MEMBER_TAGS"
	KeyMemberTagsWatchPath   = "MAILCHIMP_MEMBER_TAGS_WATCH_PATH"
	KeyMergeFields           = "MAILCHIMP_MERGE_FIELDS"
	KeyMergeFieldsWatchPath  = "MAILCHIMP_MERGE_FIELDS_WATCH_PATH"
	KeyMemberEvents          = "MAILCHIMP_MEMBER_EVENTS"
	KeyMemberEventsWatchPath = "MAILCHIMP_MEMBER_EVENTS_WATCH_PATH"
	KeyRetryAttempts         = "MAILCHIMP_RETRY_ATTEMPTS"
	KeyBackfillConfig        = "BACKFILL_CONFIG"
	KeyDatabasePath          = "DATABASE_PATH"
	KeyListenAddr            = "LISTEN_ADDR"
)

// jsonKeys hold JSON-encoded settings. A YAML file may spell them as nested
// YAML instead of a JSON string.
var jsonKeys = map[string]bool{
	KeyMemberTags:     true,
	KeyMergeFields:    true,
	KeyMemberEvents:   true,
	KeyBackfillConfig: true,
}

// KnownKeys lists every recognized parameter, in documentation order.
var KnownKeys = []string{
	KeyLocation,
	KeyAPIKey,
	KeyAudienceID,
	KeyContactStatus,
	KeyMemberTags,
	KeyMemberTagsWatchPath,
	KeyMergeFields,
	KeyMergeFieldsWatchPath,
	KeyMemberEvents,
	KeyMemberEventsWatchPath,
	KeyRetryAttempts,
	KeyBackfillConfig,
	KeyDatabasePath,
	KeyListenAddr,
}

// Raw is the unparsed configuration surface: every value is the string the
// operator supplied.
type Raw struct {
	Location      string `mapstructure:"LOCATION"`
	APIKey        string `mapstructure:"MAILCHIMP_API_KEY"`
	AudienceID    string `mapstructure:"MAILCHIMP_AUDIENCE_ID"`
	ContactStatus string `mapstructure:"MAILCHIMP_CONTACT_STATUS"`

	MemberTags            string `mapstructure:"MAILCHIMP_MEMBER_TAGS"`
	MemberTagsWatchPath   string `mapstructure:"MAILCHIMP_MEMBER_TAGS_WATCH_PATH"`
	MergeFields           string `mapstructure:"MAILCHIMP_MERGE_FIELDS"`
	MergeFieldsWatchPath  string `mapstructure:"MAILCHIMP_MERGE_FIELDS_WATCH_PATH"`
	MemberEvents          string `mapstructure:"MAILCHIMP_MEMBER_EVENTS"`
	MemberEventsWatchPath string `mapstructure:"MAILCHIMP_MEMBER_EVENTS_WATCH_PATH"`

	RetryAttempts  string `mapstructure:"MAILCHIMP_RETRY_ATTEMPTS"`
	BackfillConfig string `mapstructure:"BACKFILL_CONFIG"`

	DatabasePath string `mapstructure:"DATABASE_PATH"`
	ListenAddr   string `mapstructure:"LISTEN_ADDR"`
}

// LoadRaw reads the optional YAML file at path, overlays environment
// variables with the same names, and decodes the result into Raw.
// An empty path loads from the environment only.
func LoadRaw(path string) (Raw, error) {
	values := map[string]any{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Raw{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &values); err != nil {
			return Raw{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	for _, key := range KnownKeys {
		if v, ok := os.LookupEnv(key); ok {
			values[key] = v
		}
	}

	return DecodeRaw(values)
}

// DecodeRaw converts a loosely typed parameter map into Raw. Numbers and
// booleans are stringified; structured values of JSON-encoded keys are
// re-encoded as JSON.
func DecodeRaw(values map[string]any) (Raw, error) {
	normalized := make(map[string]any, len(values))
	for k, v := range values {
		if jsonKeys[k] {
			if _, isString := v.(string); !isString && v != nil {
				encoded, err := json.Marshal(v)
				if err != nil {
					return Raw{}, fmt.Errorf("encode %s: %w", k, err)
				}
				v = string(encoded)
			}
		}
		normalized[k] = v
	}

	var raw Raw
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &raw,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Raw{}, fmt.Errorf("config decoder: %w", err)
	}
	if err := dec.Decode(normalized); err != nil {
		return Raw{}, fmt.Errorf("decode config: %w", err)
	}
	return raw, nil
}
