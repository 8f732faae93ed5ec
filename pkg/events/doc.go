/*
Package events provides the in-memory event broker that relays state changes
from node sync loops up to the registry. The volume manager does not
subscribe; it reads node state through registry queries when it reconciles.

Events are a tagged union: Kind selects which entity changed (node, pool,
replica, nexus), Op selects what happened (new, mod, del). Delivery is
non-blocking and best-effort -- a slow subscriber drops events rather than
stalling the publisher, which matters because node sync loops must never
block on a downstream consumer.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			switch ev.Kind {
			case events.KindPool:
				// ...
			}
		}
	}()

	broker.Publish(&events.Event{Kind: events.KindNode, Op: events.OpMod, NodeName: "node-1"})
*/
package events
