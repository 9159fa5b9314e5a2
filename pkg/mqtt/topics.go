// Package mqtt defines topic conventions for the Seestar bridge.
package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout: seestar/bridge/{action}/{resource}. Commands arrive on cmd
// topics, each answered on the matching resp topic; health and event topics
// are publish-only.
const (
	// TopicPrefix is the root prefix for all bridge topics
	TopicPrefix = "seestar"

	// ComponentBridge is the single component segment for this service
	ComponentBridge = "bridge"

	// Actions
	ActionCommand  = "cmd"
	ActionResponse = "resp"
	ActionEvent    = "event"
	ActionStatus   = "status"
	ActionHealth   = "health"
)

// Operations addressable over the command topics.
const (
	OpConnect       = "connect"
	OpDisconnect    = "disconnect"
	OpGoto          = "goto"
	OpResolve       = "resolve"
	OpPark          = "park"
	OpUnpark        = "unpark"
	OpImagingStart  = "imaging/start"
	OpImagingStop   = "imaging/stop"
	OpSolar         = "solar"
	OpStatus        = "status"
	OpEmergencyStop = "emergency-stop"
	OpCalibrate     = "calibrate"
)

// Operations lists every command operation in subscription order.
var Operations = []string{
	OpConnect, OpDisconnect, OpGoto, OpResolve, OpPark, OpUnpark,
	OpImagingStart, OpImagingStop, OpSolar, OpStatus, OpEmergencyStop,
	OpCalibrate,
}

func bridgeTopic(action, resource string) string {
	parts := []string{TopicPrefix, ComponentBridge, action}
	if resource != "" {
		parts = append(parts, resource)
	}
	return strings.Join(parts, "/")
}

// CommandTopic returns the command topic for an operation.
func CommandTopic(op string) string {
	return bridgeTopic(ActionCommand, op)
}

// ResponseTopic returns the response topic for an operation.
func ResponseTopic(op string) string {
	return bridgeTopic(ActionResponse, op)
}

// EventTopic returns the publish-only topic for a bridge event kind.
func EventTopic(kind string) string {
	return bridgeTopic(ActionEvent, kind)
}

// HealthTopic returns the periodic health status topic.
func HealthTopic() string {
	return bridgeTopic(ActionHealth, "status")
}

// StatusTopic returns the telescope status snapshot topic.
func StatusTopic() string {
	return bridgeTopic(ActionStatus, "")
}

// OperationFromTopic extracts the operation from a command topic, for
// example "seestar/bridge/cmd/imaging/start" yields "imaging/start".
func OperationFromTopic(topic string) (string, error) {
	prefix := TopicPrefix + "/" + ComponentBridge + "/" + ActionCommand + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", fmt.Errorf("not a bridge command topic: %s", topic)
	}
	op := strings.TrimPrefix(topic, prefix)
	if op == "" {
		return "", fmt.Errorf("command topic missing operation: %s", topic)
	}
	return op, nil
}

// ValidateTopic checks whether a topic belongs to the bridge's topic space.
func ValidateTopic(topic string) bool {
	parts := strings.Split(topic, "/")
	return len(parts) >= 3 && parts[0] == TopicPrefix && parts[1] == ComponentBridge
}
