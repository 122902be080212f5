// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package iot provides the device side of the gateway

The gateway keeps one device state and one command queue (packages state and
commands). The device reports its sensors and polls for commands over HTTP
(package api) or publishes over MQTT (packages mqtt and bridge). Web clients
watch the state over WebSocket (package hub) and send commands over HTTP, the
WebSocket or MQTT. Package control applies both sides to the state.

MQTT Topics

All MQTT transports share the topics below one prefix, by default esp32/iot:

	esp32/iot/status    device reports, same as POST /esp/status
	esp32/iot/commands  client commands as {"fan": true, "servo": 120}
	esp32/iot/state     the full state, published after every merge

Danger Alerts

Device reports with "isFire": true or a gas level above the threshold raise
alerts (package alerts), which go to SQS, Kafka or the log.
*/
package iot
