// Package push fans reconciliation events out to connected recipients.
// Channel lifecycle (the SSE connection itself) is owned by the
// transport layer; the broker only tracks who is currently reachable.
package push

import "sync"

// Channel is one recipient's live push connection.
type Channel interface {
	Send(event string, payload any) error
	Close()
}

type Broker struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewBroker() *Broker {
	return &Broker{channels: make(map[string]Channel)}
}

// Subscribe registers the recipient's channel, closing any channel it
// replaces.
func (b *Broker) Subscribe(recipientID string, ch Channel) {
	b.mu.Lock()
	previous := b.channels[recipientID]
	b.channels[recipientID] = ch
	b.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
}

// Unsubscribe removes the channel unless the recipient has already
// re-subscribed with a newer one.
func (b *Broker) Unsubscribe(recipientID string, ch Channel) {
	b.mu.Lock()
	if b.channels[recipientID] == ch {
		delete(b.channels, recipientID)
	}
	b.mu.Unlock()
}

// Notify sends an event to the recipient. A missing channel means the
// recipient is not currently reachable and is never an error. A send
// failure closes and deregisters the channel; the recipient must
// re-subscribe.
func (b *Broker) Notify(recipientID, event string, payload any) {
	b.mu.RLock()
	ch := b.channels[recipientID]
	b.mu.RUnlock()

	if ch == nil {
		return
	}
	if err := ch.Send(event, payload); err != nil {
		ch.Close()
		b.Unsubscribe(recipientID, ch)
	}
}

func (b *Broker) Connected(recipientID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.channels[recipientID]
	return ok
}
