// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package mqtt provides the embedded MQTT broker of the gateway

The broker is a plugin for gmqtt. It serves the topics below one prefix
(esp32/iot by default):

	esp32/iot/status
	esp32/iot/commands
	esp32/iot/state

A device publishing its report on /status is treated like a POST to /esp/status.
A client publishing {"fan": true} on /commands is treated like a WebSocket command,
the command is queued for the polling device and the state is updated.

Every change of the state is published with QoS 1 on /state. Only the gateway
publishes there, publishing clients are refused. Subscriptions outside of the
prefix are refused as well.

TLS

With a certificate and key file the broker accepts TLS connections only. There is
no client authentication.
*/
package mqtt
