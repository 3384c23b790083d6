// Package audit records authorization-relevant changes in an append-only,
// hash-chained log.
//
// Every role, assignment and permission mutation produces exactly one Event.
// Mutations write their event inside the same storage transaction as the data
// change, so a change is never acknowledged without its audit record. Events
// outside a mutation, such as denied credentials, go through Logger and may
// be batched by AsyncWriter.
//
// Each event carries the hash of the previous event of the same tenant.
// VerifyChain recomputes the chain and reports the first break.
package audit
