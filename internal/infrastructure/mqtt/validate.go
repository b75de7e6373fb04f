package mqtt

import "fmt"

// Protocol and AWS IoT limits.
const (
	// awsMaxClientIDLength is the longest client identifier AWS IoT accepts.
	awsMaxClientIDLength = 128

	// awsMaxTopicLength is the longest topic or filter AWS IoT accepts.
	awsMaxTopicLength = 256

	// awsMaxFiltersPerSubscribe is the AWS IoT limit per SUBSCRIBE/UNSUBSCRIBE.
	awsMaxFiltersPerSubscribe = 8

	// maxWillPayloadLength is the largest Will payload (two-byte length prefix).
	maxWillPayloadLength = 65535

	// maxRemainingLength is the largest MQTT remaining length.
	maxRemainingLength = 268435455
)

func validateNetworkInfo(info *NetworkInfo) error {
	if info.CreateNetworkConnection {
		if info.Interface == nil {
			return fmt.Errorf("%w: network interface is required to create a connection", ErrBadParameter)
		}
		if err := info.Server.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrBadParameter, err)
		}
		return nil
	}
	if info.Connection == nil {
		return fmt.Errorf("%w: an existing network connection is required", ErrBadParameter)
	}
	return nil
}

func validateConnectInfo(info *ConnectInfo) error {
	if info.ClientIdentifier == "" && !info.CleanSession {
		return fmt.Errorf("%w: client identifier is required when clean session is false", ErrBadParameter)
	}
	if info.AWSIoTMode && len(info.ClientIdentifier) > awsMaxClientIDLength {
		return fmt.Errorf("%w: client identifier longer than %d bytes", ErrBadParameter, awsMaxClientIDLength)
	}

	if info.Will != nil {
		if err := validatePublish(info.AWSIoTMode, info.Will, nil); err != nil {
			return fmt.Errorf("will message: %w", err)
		}
		if len(info.Will.Payload) > maxWillPayloadLength {
			return fmt.Errorf("%w: will payload length %d exceeds %d", ErrBadParameter, len(info.Will.Payload), maxWillPayloadLength)
		}
	}

	if len(info.PreviousSubscriptions) > 0 {
		if info.CleanSession {
			return fmt.Errorf("%w: previous subscriptions require clean session to be false", ErrBadParameter)
		}
		if err := validateSubscriptionList(OperationSubscribe, info.AWSIoTMode, info.PreviousSubscriptions); err != nil {
			return fmt.Errorf("previous subscriptions: %w", err)
		}
	}
	return nil
}

// validatePublish checks a PUBLISH. warn receives non-fatal AWS notices and
// may be nil.
func validatePublish(awsMode bool, info *PublishInfo, warn func(msg string, args ...any)) error {
	if info == nil {
		return fmt.Errorf("%w: publish info is required", ErrBadParameter)
	}
	if info.QoS > QoS1 {
		return fmt.Errorf("%w: QoS %d not supported", ErrBadParameter, info.QoS)
	}

	maxLength := maxTopicLength
	if awsMode {
		maxLength = awsMaxTopicLength
	}
	if err := validateTopicName(info.TopicName, maxLength); err != nil {
		return err
	}

	if len(info.Payload) > maxRemainingLength-len(info.TopicName)-4 {
		return fmt.Errorf("%w: payload length %d too large", ErrBadParameter, len(info.Payload))
	}

	if info.RetryLimit > 0 && info.RetryInterval <= 0 {
		return fmt.Errorf("%w: retry interval must be positive when retry limit is set", ErrBadParameter)
	}

	if awsMode && info.Retain && warn != nil {
		warn("AWS IoT does not support retained messages; retain flag may be ignored", "topic", info.TopicName)
	}
	return nil
}

func validateSubscriptionList(op OperationType, awsMode bool, subs []Subscription) error {
	if len(subs) == 0 {
		return fmt.Errorf("%w: subscription list cannot be empty", ErrBadParameter)
	}

	maxLength := maxTopicLength
	if awsMode {
		if len(subs) > awsMaxFiltersPerSubscribe {
			return fmt.Errorf("%w: %s with %d topic filters exceeds AWS limit of %d",
				ErrBadParameter, op, len(subs), awsMaxFiltersPerSubscribe)
		}
		maxLength = awsMaxTopicLength
	}

	for i, s := range subs {
		if op == OperationSubscribe {
			if s.QoS > QoS1 {
				return fmt.Errorf("%w: subscription %d: QoS %d not supported", ErrBadParameter, i, s.QoS)
			}
			if s.Callback == nil {
				return fmt.Errorf("%w: subscription %d: callback is required", ErrBadParameter, i)
			}
		}
		if err := validateTopicFilter(s.TopicFilter, maxLength); err != nil {
			return fmt.Errorf("subscription %d: %w", i, err)
		}
	}
	return nil
}

// effectiveKeepAlive applies the AWS IoT keep-alive bounds.
func effectiveKeepAlive(awsMode bool, seconds uint16) uint16 {
	if !awsMode {
		return seconds
	}
	switch {
	case seconds == 0:
		return awsMaxKeepAliveSeconds
	case seconds < awsMinKeepAliveSeconds:
		return awsMinKeepAliveSeconds
	case seconds > awsMaxKeepAliveSeconds:
		return awsMaxKeepAliveSeconds
	default:
		return seconds
	}
}
