package broker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MQTT 3.1.1 structural limits (§2.2.3, §3).
const (
	// MaxTopicLength is the maximum length of a topic name or filter: the
	// length prefix is a 16-bit count.
	MaxTopicLength = 65535

	// MaxPayloadSize is the maximum PUBLISH payload: the largest value the
	// variable-byte Remaining Length field can encode. The variable header
	// is not subtracted.
	MaxPayloadSize = 268435455
)

// matchTopic reports whether topic (a concrete, wildcard-free topic name)
// matches filter (a subscription filter that may contain '+' and a
// terminal '#').
//
// MQTT-4.7.2-1: a filter starting with a wildcard character never matches a
// topic name starting with '$'.
func matchTopic(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, fLevel := range filterLevels {
		// '#' swallows this level and everything after it, including a
		// topic shorter than the filter (sport/# matches "sport").
		if fLevel == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if fLevel != "+" && fLevel != topicLevels[i] {
			return false
		}
	}

	// No trailing '#' consumed the rest: level counts must match exactly.
	return len(filterLevels) == len(topicLevels)
}

// validateTopicName validates a concrete topic name as used in PUBLISH.
// Topic names MUST NOT contain wildcards (MQTT 3.1.1 §4.7.1).
func validateTopicName(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	if len(topic) > MaxTopicLength {
		return fmt.Errorf("topic name length %d exceeds maximum %d", len(topic), MaxTopicLength)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("topic name must not contain wildcards")
	}
	if strings.Contains(topic, "\x00") {
		return fmt.Errorf("topic name contains null byte")
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("topic name is not valid UTF-8")
	}
	return nil
}

// validateTopicFilter validates a subscription filter as used in SUBSCRIBE
// and UNSUBSCRIBE. Filters may contain '+' (single level) and a terminal '#'
// (multi-level), each occupying an entire level on its own.
func validateTopicFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("topic filter cannot be empty")
	}
	if len(filter) > MaxTopicLength {
		return fmt.Errorf("topic filter length %d exceeds maximum %d", len(filter), MaxTopicLength)
	}
	if strings.Contains(filter, "\x00") {
		return fmt.Errorf("topic filter contains null byte")
	}
	if !utf8.ValidString(filter) {
		return fmt.Errorf("topic filter is not valid UTF-8")
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("single-level wildcard '+' must occupy an entire topic level")
		}
		if strings.Contains(level, "#") {
			if level != "#" {
				return fmt.Errorf("multi-level wildcard '#' must occupy an entire topic level")
			}
			if i != len(levels)-1 {
				return fmt.Errorf("multi-level wildcard '#' must be the last level")
			}
		}
	}
	return nil
}

// validatePayload checks a PUBLISH payload against the protocol maximum.
func validatePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize)
	}
	return nil
}
