// Package dispatch executes alert actions: notification and webhook delivery
// through rate-limited channels, external command invocation, automation
// strategies keyed by rule, and escalation through policy levels. Failed
// actions retry independently with a fixed delay through a cancellable
// scheduler; one action's exhaustion never blocks its siblings.
package dispatch
