package mqtt

import (
	"fmt"
	"strings"
)

// Topic constants.
const (
	// topicLevelSeparator separates topic levels.
	topicLevelSeparator = "/"

	// singleLevelWildcard matches exactly one topic level.
	singleLevelWildcard = "+"

	// multiLevelWildcard matches any number of trailing levels.
	multiLevelWildcard = "#"

	// maxTopicLength is the largest topic encodable in an MQTT string.
	maxTopicLength = 65535
)

// validateTopicName checks a PUBLISH topic: non-empty, no wildcards.
func validateTopicName(topic string, maxLength int) error {
	if topic == "" {
		return fmt.Errorf("%w: topic name cannot be empty", ErrBadParameter)
	}
	if len(topic) > maxLength {
		return fmt.Errorf("%w: topic name length %d exceeds %d", ErrBadParameter, len(topic), maxLength)
	}
	if strings.ContainsAny(topic, singleLevelWildcard+multiLevelWildcard) {
		return fmt.Errorf("%w: topic name %q contains a wildcard", ErrBadParameter, topic)
	}
	return nil
}

// validateTopicFilter checks SUBSCRIBE/UNSUBSCRIBE filter syntax.
//
// Rules:
//   - "+" must occupy a whole level
//   - "#" must occupy a whole level and be the last one
func validateTopicFilter(filter string, maxLength int) error {
	if filter == "" {
		return fmt.Errorf("%w: topic filter cannot be empty", ErrBadParameter)
	}
	if len(filter) > maxLength {
		return fmt.Errorf("%w: topic filter length %d exceeds %d", ErrBadParameter, len(filter), maxLength)
	}

	levels := strings.Split(filter, topicLevelSeparator)
	for i, level := range levels {
		if strings.Contains(level, multiLevelWildcard) {
			if level != multiLevelWildcard || i != len(levels)-1 {
				return fmt.Errorf("%w: topic filter %q has a misplaced %q", ErrBadParameter, filter, multiLevelWildcard)
			}
		}
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return fmt.Errorf("%w: topic filter %q has a misplaced %q", ErrBadParameter, filter, singleLevelWildcard)
		}
	}
	return nil
}

// topicMatches reports whether topic is matched by filter.
//
// Topics starting with "$" are not matched by a filter whose first level
// is a wildcard.
func topicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if strings.HasPrefix(topic, "$") &&
		(strings.HasPrefix(filter, singleLevelWildcard) || strings.HasPrefix(filter, multiLevelWildcard)) {
		return false
	}

	filterLevels := strings.Split(filter, topicLevelSeparator)
	topicLevels := strings.Split(topic, topicLevelSeparator)

	for i, f := range filterLevels {
		if f == multiLevelWildcard {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if f != singleLevelWildcard && f != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}

// TopicMatches reports whether topic is matched by filter.
func TopicMatches(filter, topic string) bool {
	return topicMatches(filter, topic)
}

// ValidateTopicFilter checks filter syntax against the MQTT 3.1.1 wildcard rules.
func ValidateTopicFilter(filter string) error {
	return validateTopicFilter(filter, maxTopicLength)
}
