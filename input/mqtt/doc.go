// Package mqtt provides the push-based device protocol: an MQTT subscriber
// that feeds payloads of bound topics to the attribute update sink, and the
// "mqtt" command driver that publishes rule commands.
//
// An attribute is bound by an agent link whose protocol id is the input's id
// and whose Topic names the MQTT topic. Several attributes may share a topic;
// each receives the payload. The initial connection is retried with
// exponential backoff, after which paho's auto-reconnect takes over and every
// reconnect re-subscribes the bound topics.
package mqtt
