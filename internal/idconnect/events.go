package idconnect

import (
	"sync"
)

// EventName enumerates provider events.
type EventName string

const (
	EventAccountsChanged EventName = "accountsChanged"
	EventConnect         EventName = "connect"
	EventDisconnect      EventName = "disconnect"
)

// Event is implemented by AccountsChanged, Connected and Disconnected.
type Event interface {
	Name() EventName
}

type AccountsChanged struct {
	Accounts []string `json:"accounts"`
}

func (AccountsChanged) Name() EventName { return EventAccountsChanged }

// ConnectInfo is the EIP-1193 connect payload; ChainID is hex encoded.
type ConnectInfo struct {
	ChainID string `json:"chainId"`
}

type Connected struct {
	ConnectInfo
}

func (Connected) Name() EventName { return EventConnect }

type Disconnected struct {
	Err *ProviderRPCError `json:"error"`
}

func (Disconnected) Name() EventName { return EventDisconnect }

// Emitter dispatches provider events synchronously, in subscription order.
type Emitter struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(Event)
	order     []int
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[int]func(Event))}
}

// Subscribe receives every event until the returned func is called.
func (e *Emitter) Subscribe(listener func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = listener
	e.order = append(e.order, id)
	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter) remove(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, id)
	for i, have := range e.order {
		if have == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// OnAccountsChanged subscribes to accountsChanged only.
func (e *Emitter) OnAccountsChanged(fn func(accounts []string)) (unsubscribe func()) {
	return e.Subscribe(func(ev Event) {
		if v, ok := ev.(AccountsChanged); ok {
			fn(v.Accounts)
		}
	})
}

// OnConnect subscribes to connect only.
func (e *Emitter) OnConnect(fn func(info ConnectInfo)) (unsubscribe func()) {
	return e.Subscribe(func(ev Event) {
		if v, ok := ev.(Connected); ok {
			fn(v.ConnectInfo)
		}
	})
}

// OnDisconnect subscribes to disconnect only.
func (e *Emitter) OnDisconnect(fn func(err *ProviderRPCError)) (unsubscribe func()) {
	return e.Subscribe(func(ev Event) {
		if v, ok := ev.(Disconnected); ok {
			fn(v.Err)
		}
	})
}

// Emit dispatches ev to every subscriber.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	listeners := make([]func(Event), 0, len(e.order))
	for _, id := range e.order {
		listeners = append(listeners, e.listeners[id])
	}
	e.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}
