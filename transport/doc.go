// Package transport carries JSON-RPC 2.0 messages for the MCP server.
//
// # Available Transports
//
//   - StdioTransport: newline-delimited JSON over stdin/stdout (MCP hosts
//     launch the server as a child process)
//   - WebSocketTransport: one message per text frame (long-running server,
//     several clients)
//
// # Usage
//
// All transports follow the same pattern:
//
//	t := transport.NewStdioTransport(os.Stdin, os.Stdout, transport.DefaultConfig())
//	go t.Run(ctx)
//
//	for msg := range t.Recv() {
//	    if msg.Request != nil {
//	        out, _ := transport.NewResult(msg.Request.ID, result)
//	        t.Send(out)
//	    }
//	}
//
// Inbound messages are classified as requests, notifications or responses
// so the same transports serve both the server and the client side.
// Malformed input is answered with a JSON-RPC error by the transport itself.
//
// # Thread Safety
//
// All transport methods are safe for concurrent use. The Recv() channel
// is closed when the peer stops sending or the transport shuts down.
package transport
