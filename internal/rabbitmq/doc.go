// Package rabbitmq is the broker client used by sessions.
//
// This package includes:
//   - Dialer/Connection/Channel: the broker contract, implemented with amqp091-go
//   - ConnectionConfig: connection parameters with a plain or TLS Transport
//   - Topology: idempotent exchange, queue and binding declaration
//   - Classify: maps broker errors to transient or fatal
//
// Connection-level options follow the session properties: AMQPLAIN or PLAIN
// login, connect timeout and TCP keepalive on the dialer, a write deadline
// for the read/write timeout, and an optional bound on channel RPCs.
package rabbitmq
