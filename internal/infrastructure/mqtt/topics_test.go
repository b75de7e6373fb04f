package mqtt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTopicFilter(t *testing.T) {
	tests := []struct {
		filter string
		valid  bool
	}{
		{"a/b/c", true},
		{"a/+/c", true},
		{"+", true},
		{"#", true},
		{"a/#", true},
		{"+/+/#", true},
		{"/", true},
		{"", false},
		{"a/b#", false},
		{"a/#/c", false},
		{"a+/b", false},
		{"a/+b", false},
		{"##", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			err := validateTopicFilter(tt.filter, maxTopicLength)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrBadParameter)
			}
		})
	}
}

func TestValidateTopicFilterLength(t *testing.T) {
	long := strings.Repeat("a", awsMaxTopicLength+1)
	assert.NoError(t, validateTopicFilter(long, maxTopicLength))
	assert.ErrorIs(t, validateTopicFilter(long, awsMaxTopicLength), ErrBadParameter)
}

func TestValidateTopicName(t *testing.T) {
	assert.NoError(t, validateTopicName("devices/1/state", maxTopicLength))
	assert.ErrorIs(t, validateTopicName("", maxTopicLength), ErrBadParameter)
	assert.ErrorIs(t, validateTopicName("devices/+/state", maxTopicLength), ErrBadParameter)
	assert.ErrorIs(t, validateTopicName("devices/#", maxTopicLength), ErrBadParameter)
}

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/c/d", false},
		{"a/+", "a/b", true},
		{"a/+", "a", false},
		{"a/#", "a", true},
		{"a/#", "a/b/c", true},
		{"#", "a/b", true},
		{"+/+", "a/b", true},
		{"+", "/a", false},
		{"+/a", "/a", true},
		{"#", "$SYS/broker", false},
		{"+/broker", "$SYS/broker", false},
		{"$SYS/#", "$SYS/broker", true},
		{"a/b", "a/b/", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+" "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, topicMatches(tt.filter, tt.topic))
		})
	}
}

func TestExportedTopicHelpers(t *testing.T) {
	assert.True(t, TopicMatches("sensors/+/temp", "sensors/kitchen/temp"))
	assert.False(t, TopicMatches("#", "$SYS/uptime"))
	assert.NoError(t, ValidateTopicFilter("sensors/#"))
	assert.ErrorIs(t, ValidateTopicFilter("sensors/#/temp"), ErrBadParameter)
}
