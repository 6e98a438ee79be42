// Package infra contains technical adapters: the delivery stores, the MQTT
// channel registry, the WebSocket server and the metrics exporters. These
// packages depend only on the interfaces defined in the core packages.
package infra
