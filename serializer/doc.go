// Package serializer converts protocol Messages to and from byte arrays.
// The connection layer treats messages as opaque payloads, so the wire
// format is pluggable via the ISerializer interface.
//
// Three implementations are provided:
//
//   - Binary: a compact custom format using presence flags for optional
//     fields. Boolean fields cost a single flag bit. Fastest and smallest,
//     the default for production use.
//
//   - JSON: human-readable, useful for debugging and for servers that speak
//     a JSON protocol.
//
//   - GOB: Go's native binary encoding, useful when both ends are Go.
//
// Client and server must agree on the serializer; the format is not
// self-describing.
package serializer
