// Package engine implements response creation. The Engine struct implements
// transport.ResponseCreator: it validates a request, rebuilds conversation
// history from the response store, translates the result for the backend,
// and turns the backend's token stream into Responses API events through
// an Assembler. Terminal responses are persisted before their terminal
// event is written, so a client may chain on the id right away.
package engine
