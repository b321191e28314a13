// Package logx is the logging front end used across mudbooker: a value-type
// Logger over zerolog, typed Field helpers, and a Service that owns the
// console and JSON file sinks and can swap levels at runtime.
package logx
