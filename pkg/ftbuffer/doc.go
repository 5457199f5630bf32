// ABOUTME: High-level FieldTrip buffer library API
// ABOUTME: Provides Server, Client and Producer for most use cases
// Package ftbuffer provides high-level APIs for a realtime data buffer.
//
// This is the main entry point for most library users, providing:
//   - Server: hold one header, a growing sample stream and events for many clients
//   - Client: typed requests against a server over TCP or WebSocket
//   - Producer: pump a Source into a server at its sample rate
//
// For lower-level control, see the array and protocol packages.
//
// Example Server:
//
//	srv, err := ftbuffer.NewServer(ftbuffer.ServerConfig{Addr: "localhost:1972"})
//	err = srv.Start()
//	defer srv.Stop(context.Background())
//
// Example Client:
//
//	c, err := ftbuffer.Dial(ctx, "localhost:1972")
//	hdr, err := c.GetHeader(ctx)
//	counts, err := c.WaitData(ctx, protocol.WaitRequest{Samples: hdr.NumSamples + 100, Timeout: time.Second})
//	block, err := c.GetData(ctx, hdr.NumSamples, counts.Samples)
package ftbuffer
