// Package sched holds the schedule-plan domain model and the occurrence
// evaluator that turns a timing rule into a lazy sequence of firing instants.
package sched
