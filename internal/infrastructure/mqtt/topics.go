package mqtt

import (
	"fmt"
	"strings"

	"github.com/wipmate/homectl/internal/protocol"
)

// Topic prefixes for the homectl namespace.
const (
	// TopicPrefix is the base for all homectl topics.
	TopicPrefix = "homectl"

	// TopicPrefixData is the base for the entity-data channel.
	TopicPrefixData = "homectl/data"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "homectl/system"
)

// Topics provides builders for homectl MQTT topics.
// Using these helpers keeps topic naming consistent across processes.
//
//	topics := mqtt.Topics{}
//	topic := topics.EntityData(protocol.EntityTypeSensor, "kitchen-temp")
//	// Returns: "homectl/data/sensor/kitchen-temp"
type Topics struct{}

// EntityData returns the publish topic for one entity's telemetry.
//
// Example: homectl/data/sensor/kitchen-temp
func (Topics) EntityData(typ protocol.EntityType, name string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixData, typ, name)
}

// AllEntityData returns the wildcard subscription covering the whole
// entity-data channel.
//
// Example: homectl/data/#
func (Topics) AllEntityData() string {
	return TopicPrefixData + "/#"
}

// SystemStatus returns the topic carrying a process's online/offline status.
//
// Example: homectl/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ParseEntityData extracts the entity type and name from an entity-data
// topic. Returns ErrInvalidTopic for anything outside the channel's shape.
func (Topics) ParseEntityData(topic string) (protocol.EntityType, string, error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixData+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not an entity-data topic", ErrInvalidTopic, topic)
	}

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] == "" || strings.Contains(parts[1], "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	typ := protocol.EntityType(parts[0])
	if !typ.Valid() {
		return "", "", fmt.Errorf("%w: unknown entity type in %q", ErrInvalidTopic, topic)
	}

	return typ, parts[1], nil
}
