// Package config describes the properties of an AMQP session.
//
// A Properties record combines connection parameters, exchange and queue
// declarations, bindings, consumer flags and QoS. Records are built from
// Defaults (or a profile loaded from YAML) and adjusted with Option values:
//
//	props := config.Merge(config.Defaults(),
//	    config.WithExchange("events"),
//	    config.WithQueue("billing"),
//	    config.WithBinding("billing", "invoice.*"),
//	)
//
// Merge always returns a new record, so a session's properties never change
// after it has been built.
package config
