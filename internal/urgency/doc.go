// Package urgency turns domain-native detector output into one canonical
// Assessment on a 0-10 scale and maps that score onto an escalation Tier with
// a response-time window.
package urgency
