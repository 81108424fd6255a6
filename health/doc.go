// Package health reports whether cached sessions and their queues are usable.
package health
