// Package delta computes the changes one document transition implies for a
// subscriber: tag activations, merge-field values, a subscription status
// change, and member events.
//
// Every function here is pure. A nil previous document means the document
// was created; a nil next document is treated as empty.
package delta
