// Package harness provides conformance testing for the sync engine.
//
// A scenario configures the engine, seeds the store, fires trigger events
// and asserts on the audience calls that came out. The real engine,
// backfill orchestrator and task worker run against an in-memory store;
// only the audience is replaced, by a recording client whose failures the
// scenario scripts.
//
// # Scenario Format
//
//	name: tag_delta
//	description: "Tags that left and joined the document are synced"
//	config:
//	  MAILCHIMP_API_KEY: secret-us1
//	  MAILCHIMP_AUDIENCE_ID: list1
//	  MAILCHIMP_MEMBER_TAGS: {memberTags: [tags], subscriberEmail: email}
//	  MAILCHIMP_MEMBER_TAGS_WATCH_PATH: "users/{uid}"
//	setup:
//	  users: [{uid: u1, email: a@x.com}]
//	  documents: [{path: users/u1, data: {email: a@x.com}}]
//	failures:
//	  - {op: update_member_tags, status: 404, times: 1}
//	flow:
//	  - write_document: {path: users/u1, data: {email: a@x.com, tags: [t1]}}
//	    expect: {calls: 2}
//	  - backfill: {event: INSTALL}
//	  - reconfigure: {MAILCHIMP_MEMBER_TAGS_WATCH_PATH: "N/A"}
//	    expect: {diagnostics: [E202]}
//	assertions:
//	  - type: call_contains
//	    op: update_member_tags
//	    email: a@x.com
//	    body: [{name: t1, status: active}]
//	  - type: final_state
//	    state: PROCESSING_COMPLETE
//
// Flow actions are create_user, delete_user, write_document,
// delete_document, backfill and reconfigure. A reconfigure step replaces
// the whole configuration.
//
// # Assertion Types
//
//   - call_contains: a call with the op, subscriber and body exists
//   - call_order: ops first appear in the given order
//   - call_count: an op was called exactly N times
//   - final_state: the last processing state and message
//
// # Deterministic Testing
//
// Calls made concurrently within one step (member events) are sorted by
// subscriber and name, and backfill pages are processed sequentially, so
// the trace of a scenario is stable and can be compared against a golden
// file with RunWithGolden.
package harness
