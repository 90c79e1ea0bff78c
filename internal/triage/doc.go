// Package triage provides the business boundary for WARDWATCH's clinical urgency
// triage. It defines the Service (per-subject serialization, lifecycle, notify
// dispatch), the Register (open-case priority queue), the Combiner (composite
// subject risk), the Sweeper and Stats collectors, the Store interface, and the
// domain models.
package triage
