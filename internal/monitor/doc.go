// Package monitor expires registered entities that stop heartbeating.
package monitor
