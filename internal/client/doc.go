// Package client is the library side of the controller's client endpoint:
// system-state queries and targeted entity updates.
package client
