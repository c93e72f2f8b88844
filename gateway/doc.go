// Package gateway implements the tool gateway dispatcher: it resolves a
// fully-qualified tool-call name to one of N heterogeneous backend targets,
// strips the routing prefix, performs the call under the target's transport
// and auth scheme, and normalizes the result back into the reasoning loop.
//
// Two transports exist. A protocol target is a persistent bidirectional
// request/response channel to a remote MCP tool server; calls forward the
// invocation's bearer token unchanged. An invoke target is a single-shot,
// stateless AWS Lambda call signed with the target's own service identity;
// the caller's bearer token never reaches it.
package gateway
