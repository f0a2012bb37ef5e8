// Package rtconn manages the connection lifecycle of a logical service
// instance against a real-time database backend, together with the data
// subscriptions it attaches.
//
// A Service moves between four states:
//
//	UNINITIALIZED --Connect--> CONNECTING --ok--> CONNECTED
//	CONNECTED --Connect--> CONNECTING --resume ok--> CONNECTED
//	CONNECTING --failure--> UNINITIALIZED
//	CONNECTED|CONNECTING --Disconnect--> UNINITIALIZED
//	any --Terminate--> TERMINATED (final)
//
// Concurrent Connect calls share one attempt, so a Service never opens more
// than one backend session at a time. Disconnect and Terminate detach every
// subscription attached through the Service, including those attached from
// inside another subscription's callback on a child reference. Terminate
// wins every race with an in-flight Connect.
//
// Subscriptions are built in two steps:
//
//	l, err := svc.ListenOnPath("rooms/lobby/messages", rtconn.OrderBy("sentAt"), rtconn.StartAt(since))
//	if err != nil { return err }
//	err = l.On(backend.EventChildAdded).Call(rtconn.Handle(func(ev rtconn.Event) error {
//	    return render(ev.Key, ev.Value)
//	}))
//
// Callbacks never propagate failures into the backend: panics, returned
// failures and failures of pending work are reported as *CallbackError to
// the function installed with WithErrorReporter, or logged.
//
// Backends live under the backend package: backend/memory for tests and
// single-process use, backend/redis for multi-process deployments.
package rtconn
