// Package notify emits authorization change events so other processes and
// connected sessions can drop cached permissions.
//
// Delivery is fire-and-forget. Async wraps any Notifier with a bounded queue
// so a slow or failing transport never blocks a mutation. MemoryBroadcaster
// fans events out in-process; RedisPublisher and RedisSubscriber carry them
// between instances over Redis pub/sub.
package notify
