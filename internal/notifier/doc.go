// Package notifier delivers short user-visible messages about snapshot runs.
//
// Notify only enqueues; a small worker pool delivers through a Sink with a
// token-bucket rate limit, exponential retry with jitter and a dedup window
// that suppresses identical messages. Delivery failures never reach the
// caller: they are logged and published on the event bus.
//
// # Sinks
//
// The log sink writes each message as a structured log line. The Telegram
// sink posts to a chat (optionally a forum thread) through telebot.
//
// # History
//
// For status output, the service keeps a small in-memory history of recently
// delivered notifications.
package notifier
