// Package models defines the core domain types for the pledge engine.
//
// # Entities
//
//   - Trigger: a contingent real-world event gating pledge execution
//   - Pledge: a supporter's conditional commitment tied to a Trigger
//   - Execution: the immutable record of one attempt to charge a Pledge
//   - Contribution: one recipient's share of an executed Pledge
//   - Profile: reusable contributor/billing identity referenced by Pledges
//   - Notification: a record of a state transition shown to the supporter
//
// # Ownership
//
// A Trigger owns the resolution decision. A Pledge belongs to its Trigger for
// lifecycle purposes but is independently cancellable while Open. An Execution
// and its Contributions exist only because of their Pledge and are never
// mutated after creation: corrections happen via new records so the financial
// trail stays auditable.
//
// # Money
//
// All amounts are integer minor currency units (cents). Floating point is
// never used for money.
package models
