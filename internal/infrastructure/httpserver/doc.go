// Package httpserver carries the HTTP plumbing shared by the controller's
// two inbound endpoints: server construction with common timeouts, and the
// request-id, logging, recovery, and body-limit middleware.
package httpserver
