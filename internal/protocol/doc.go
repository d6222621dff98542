// Package protocol implements the homectl wire format.
//
// Every message, on every channel, is an Envelope: an opaque string header
// map (carrying cross-process trace context) plus exactly one type-tagged
// payload. The payload set is closed; Decode rejects anything outside it.
//
// The same envelope travels over all four carriers (discovery HTTP,
// entity-data MQTT, client API HTTP, back-channel websocket), so codec
// behaviour is identical everywhere: a message that fails to decode is a
// protocol error and the carrier drops it without partial processing.
package protocol
