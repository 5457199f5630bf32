// ABOUTME: Buffer wire protocol package
// ABOUTME: Defines the message envelope, payload records and a request/response connection
// Package protocol implements the realtime buffer wire protocol.
//
// Every exchange is a request followed by exactly one response. A message
// is an 8-byte little-endian header (version, command, bufsize) and a
// payload whose layout depends on the command.
//
// Example:
//
//	conn, err := protocol.Dial(ctx, "localhost:1972")
//	resp, err := conn.RoundTrip(ctx, protocol.GetHdr, nil)
//	err = protocol.CheckStatus(protocol.GetHdr, resp)
//	hdr, err := protocol.DecodeHeader(resp.Payload)
package protocol
