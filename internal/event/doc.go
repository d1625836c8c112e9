/*
Package event names the events the host hands the dynamic context
pruning engine, one call at a time, through Engine.OnEvent.

# Event Types

	message.updated        a message's metadata changed
	message.part.updated   a part was created or updated (streaming)
	session.status         session status changed (e.g. idle)
	session.idle           end of turn; triggers the prune planner
	permission.asked       a permission prompt the engine can only surface
	question.asked         an interactive question the engine cannot answer
	noop                   events outside this vocabulary are dropped here

# Basic Usage

	engine.OnEvent(ctx, sessionID, event.Event{
		Type: event.MessagePartUpdated,
		Data: event.MessagePartUpdatedData{SessionID: sessionID, Part: part},
	})

Engine.OnEvent forwards the call to the router (C9), which type-switches
on Type to decode Data and update per-session state (internal/router).
*/
package event
