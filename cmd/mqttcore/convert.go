package main

import (
	"net"
	"strconv"

	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/config"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/iot-mqtt-core/internal/infrastructure/network"
	"github.com/nerrad567/iot-mqtt-core/internal/sessionstore"
)

const (
	awsALPNPort     = 443
	awsALPNProtocol = "x-amzn-mqtt-ca"
)

func brokerAddress(cfg *config.Config) string {
	return net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port))
}

func libraryConfig(cfg config.LibraryConfig) mqtt.LibraryConfig {
	return mqtt.LibraryConfig{
		ResponseWait:      cfg.ResponseWait,
		RetryCeiling:      cfg.RetryCeiling,
		MaxConnections:    cfg.MaxConnections,
		NetworkWorkers:    cfg.NetworkWorkers,
		NetworkQueueSize:  cfg.NetworkQueueSize,
		CallbackWorkers:   cfg.CallbackWorkers,
		CallbackQueueSize: cfg.CallbackQueueSize,
		AWSMetrics:        cfg.AWSMetrics,
		SDKName:           "mqttcore",
		SDKVersion:        version,
	}
}

// connectInfo builds the CONNECT contents. previous is only used when the
// session is persistent.
func connectInfo(cfg config.ConnectConfig, previous []mqtt.Subscription) *mqtt.ConnectInfo {
	info := &mqtt.ConnectInfo{
		AWSIoTMode:       cfg.AWSIoT,
		CleanSession:     cfg.CleanSession,
		KeepAliveSeconds: cfg.KeepAlive,
		ClientIdentifier: cfg.ClientID,
		UserName:         cfg.Username,
		Password:         cfg.Password,
	}
	if !cfg.CleanSession && len(previous) > 0 {
		info.PreviousSubscriptions = previous
	}
	if cfg.Will.Topic != "" {
		payload := cfg.Will.Payload
		if payload == "" {
			payload = statusPayload(cfg.ClientID, statusOffline, reasonUnexpected)
		}
		info.Will = &mqtt.PublishInfo{
			QoS:       mqtt.QoS(cfg.Will.QoS),
			Retain:    cfg.Will.Retain,
			TopicName: cfg.Will.Topic,
			Payload:   []byte(payload),
		}
	}
	return info
}

// networkInfo selects a TCP transport, with TLS when enabled.
func networkInfo(cfg *config.Config, onDisconnect mqtt.DisconnectCallback) *mqtt.NetworkInfo {
	info := &mqtt.NetworkInfo{
		CreateNetworkConnection: true,
		Interface:               network.TCP{DialTimeout: cfg.Broker.DialTimeout},
		Server:                  network.ServerInfo{Host: cfg.Broker.Host, Port: cfg.Broker.Port},
		DisconnectCallback:      onDisconnect,
	}

	tlsCfg := cfg.Broker.TLS
	if tlsCfg.Enabled {
		creds := &network.Credentials{
			RootCAFile:     tlsCfg.RootCAFile,
			ClientCertFile: tlsCfg.ClientCertFile,
			ClientKeyFile:  tlsCfg.ClientKeyFile,
			ServerName:     tlsCfg.ServerName,
		}
		if cfg.Connect.AWSIoT && cfg.Broker.Port == awsALPNPort {
			creds.ALPNProtocols = []string{awsALPNProtocol}
		}
		info.Credentials = creds
	}
	return info
}

func subscriptions(cfgs []config.SubscriptionConfig, cb mqtt.CallbackFunc) []mqtt.Subscription {
	subs := make([]mqtt.Subscription, 0, len(cfgs))
	for _, s := range cfgs {
		subs = append(subs, mqtt.Subscription{
			TopicFilter: s.Filter,
			QoS:         mqtt.QoS(s.QoS),
			Callback:    cb,
		})
	}
	return subs
}

// restoredSubscriptions converts stored records for PreviousSubscriptions.
// A stored filter that is also configured takes the configured QoS, so the
// configured SUBSCRIBE can recognise it as already held.
func restoredSubscriptions(records []sessionstore.Record, configured []config.SubscriptionConfig,
	cb mqtt.CallbackFunc) []mqtt.Subscription {
	qos := make(map[string]mqtt.QoS, len(configured))
	for _, s := range configured {
		qos[s.Filter] = mqtt.QoS(s.QoS)
	}

	subs := sessionstore.Subscriptions(records, cb)
	for i := range subs {
		if q, ok := qos[subs[i].TopicFilter]; ok {
			subs[i].QoS = q
		}
	}
	return subs
}
