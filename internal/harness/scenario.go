package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mailchimp/Firebase/internal/audience"
	"github.com/mailchimp/Firebase/internal/config"
)

// Scenario defines a conformance test scenario.
// A scenario configures the engine, seeds the store, drives a flow of
// trigger events and asserts on the audience calls they produced.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config holds extension parameters keyed by their environment names.
	// Structured values of JSON parameters may be written inline.
	Config map[string]any `yaml:"config"`

	// Setup seeds accounts and documents without firing any trigger.
	Setup Setup `yaml:"setup,omitempty"`

	// Failures scripts audience errors before the flow starts.
	Failures []Failure `yaml:"failures,omitempty"`

	// Flow contains the trigger events, applied in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and processing state.
	// Supported types: call_contains, call_order, call_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// Setup is pre-existing data. Backfill scenarios page through it.
type Setup struct {
	Users     []UserStep     `yaml:"users,omitempty"`
	Documents []DocumentStep `yaml:"documents,omitempty"`
}

// UserStep describes an account.
type UserStep struct {
	UID   string `yaml:"uid"`
	Email string `yaml:"email,omitempty"`
}

// DocumentStep describes a document write. Data is ignored for deletes.
type DocumentStep struct {
	Path string         `yaml:"path"`
	Data map[string]any `yaml:"data,omitempty"`
}

// BackfillStep fires a lifecycle event.
type BackfillStep struct {
	Event string `yaml:"event"`
}

// Failure makes audience calls fail with a Mailchimp problem response.
type Failure struct {
	// Op is the audience operation, e.g. "update_member_tags".
	Op string `yaml:"op"`

	// Email limits the failure to one subscriber. Empty matches everyone.
	Email string `yaml:"email,omitempty"`

	// Status and Title form the returned APIError.
	Status int    `yaml:"status"`
	Title  string `yaml:"title,omitempty"`

	// Times is how many matching calls fail. Zero fails every call.
	Times int `yaml:"times,omitempty"`
}

// FlowStep is one trigger event. Exactly one action field is set.
type FlowStep struct {
	CreateUser     *UserStep      `yaml:"create_user,omitempty"`
	DeleteUser     *UserStep      `yaml:"delete_user,omitempty"`
	WriteDocument  *DocumentStep  `yaml:"write_document,omitempty"`
	DeleteDocument *DocumentStep  `yaml:"delete_document,omitempty"`
	Backfill       *BackfillStep  `yaml:"backfill,omitempty"`
	Reconfigure    map[string]any `yaml:"reconfigure,omitempty"`

	// Expect checks what this step alone produced.
	// If nil, no validation is performed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected step behavior.
type ExpectClause struct {
	// Calls is the number of audience calls the step made, failed ones
	// included.
	Calls *int `yaml:"calls,omitempty"`

	// Diagnostics lists the config diagnostic codes a reconfigure step
	// produced, in order.
	Diagnostics []string `yaml:"diagnostics,omitempty"`
}

// Action names the step's action for messages.
func (s FlowStep) Action() string {
	switch {
	case s.CreateUser != nil:
		return "create_user"
	case s.DeleteUser != nil:
		return "delete_user"
	case s.WriteDocument != nil:
		return "write_document"
	case s.DeleteDocument != nil:
		return "delete_document"
	case s.Backfill != nil:
		return "backfill"
	case s.Reconfigure != nil:
		return "reconfigure"
	}
	return ""
}

func (s FlowStep) actionCount() int {
	n := 0
	for _, set := range []bool{
		s.CreateUser != nil,
		s.DeleteUser != nil,
		s.WriteDocument != nil,
		s.DeleteDocument != nil,
		s.Backfill != nil,
		s.Reconfigure != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Assertion validates the trace or the final processing state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "call_contains": an audience call with op, email and body exists
	// - "call_order": ops first appear in the given order
	// - "call_count": op (optionally for one email) was called exactly N times
	// - "final_state": the last processing state matches
	Type string `yaml:"type"`

	// Op is the audience operation (call_contains, call_count).
	Op string `yaml:"op,omitempty"`

	// Email selects calls for one subscriber by hashing it.
	Email string `yaml:"email,omitempty"`

	// Body is matched against the call body. Maps match as subsets; every
	// other value must be equal.
	Body any `yaml:"body,omitempty"`

	// Count is the expected number of occurrences (call_count).
	Count int `yaml:"count,omitempty"`

	// Ops is the expected op order (call_order).
	Ops []string `yaml:"ops,omitempty"`

	// State and Message describe the last processing state (final_state).
	// An empty Message is not checked.
	State   string `yaml:"state,omitempty"`
	Message string `yaml:"message,omitempty"`
}

// Assertion type constants.
const (
	AssertCallContains = "call_contains"
	AssertCallOrder    = "call_order"
	AssertCallCount    = "call_count"
	AssertFinalState   = "final_state"
)

var knownOps = map[string]bool{
	audience.OpAddMember:         true,
	audience.OpDeleteMember:      true,
	audience.OpUpdateMemberTags:  true,
	audience.OpSetMember:         true,
	audience.OpCreateMemberEvent: true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Config) == 0 {
		return fmt.Errorf("config is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, u := range s.Setup.Users {
		if u.UID == "" {
			return fmt.Errorf("setup.users[%d]: uid is required", i)
		}
	}
	for i, d := range s.Setup.Documents {
		if d.Path == "" {
			return fmt.Errorf("setup.documents[%d]: path is required", i)
		}
	}

	for i, f := range s.Failures {
		if !knownOps[f.Op] {
			return fmt.Errorf("failures[%d]: unknown op %q", i, f.Op)
		}
		if f.Status == 0 {
			return fmt.Errorf("failures[%d]: status is required", i)
		}
		if f.Times < 0 {
			return fmt.Errorf("failures[%d]: times must be non-negative", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step FlowStep) error {
	if n := step.actionCount(); n != 1 {
		return fmt.Errorf("flow[%d]: exactly one action is required, got %d", i, n)
	}
	switch {
	case step.CreateUser != nil && step.CreateUser.UID == "",
		step.DeleteUser != nil && step.DeleteUser.UID == "":
		return fmt.Errorf("flow[%d]: uid is required", i)
	case step.WriteDocument != nil && step.WriteDocument.Path == "",
		step.DeleteDocument != nil && step.DeleteDocument.Path == "":
		return fmt.Errorf("flow[%d]: path is required", i)
	case step.Backfill != nil:
		switch config.Trigger(step.Backfill.Event) {
		case config.TriggerInstall, config.TriggerUpdate, config.TriggerConfigure:
		default:
			return fmt.Errorf("flow[%d]: unknown backfill event %q", i, step.Backfill.Event)
		}
	}
	if step.Expect != nil && step.Expect.Calls != nil && *step.Expect.Calls < 0 {
		return fmt.Errorf("flow[%d].expect: calls must be non-negative", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCallContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for call_contains", index)
		}
	case AssertCallOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for call_order", index)
		}
	case AssertCallCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for call_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertFinalState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
