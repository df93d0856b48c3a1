// Package activity implements the task-instance side of the engine: the plan
// expander that materializes schedule occurrences into persisted instances,
// the derived lifecycle status, and the controller that applies
// client-submitted transitions.
package activity
