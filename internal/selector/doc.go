// Package selector resolves values out of document snapshots.
//
// Two path dialects are supported:
//
//   - Query selectors (Selector) are JMESPath expressions compiled once at
//     configuration time. They cover plain dotted lookups ("profile.name"),
//     indexed lookups ("tags[0]") and list projections with filters
//     ("roles[?active].name"). A structured selector pairs a documentPath
//     expression with an optional valueSelector applied to every element the
//     documentPath yields.
//
//   - Plain paths (Get, Set) use the dot/bracket syntax of the subscriber
//     email setting and of nested merge-field targets ("ADDRESS.addr1",
//     "contacts[0].email", `meta["first.name"]`).
//
// Missing intermediate segments never raise: they resolve to nil.
package selector
