// Package assistant is the boundary to the chat model that drafts form
// content.
//
// Transport is the only thing the orchestrator depends on: it streams one
// reply as ordered text chunks and returns when the reply is complete or the
// call failed. HTTPClient speaks an OpenAI-compatible server-sent-events chat
// endpoint; Scripted replays canned replies for tests, scenarios and offline
// use.
package assistant
