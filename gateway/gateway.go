// Package gateway is a message broker fronted by HTTP/1.1: each request
// carries one JSON-encoded Message bound for the VMM; the response carries
// the Message addressed back to the caller's PID.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/nanvix/microvm/message"
)

// wireMessage is the JSON shape exchanged with HTTP clients.
type wireMessage struct {
	Source      uint32 `json:"source"`
	Destination uint32 `json:"destination"`
	MessageType uint32 `json:"message_type"`
	Payload     []byte `json:"payload"`
}

func toWire(m *message.Message) wireMessage {
	return wireMessage{
		Source:      m.Source,
		Destination: m.Dest,
		MessageType: uint32(m.MessageType),
		Payload:     m.Payload[:],
	}
}

func fromWire(w wireMessage) *message.Message {
	m := &message.Message{
		MessageType: message.Type(w.MessageType),
		Source:      w.Source,
		Dest:        w.Destination,
	}
	copy(m.Payload[:], w.Payload)

	return m
}

// Request pairs an inbound Message with the channel its reply must arrive
// on. The VMM-side consumer reads these from Inbound().
type Request struct {
	Msg   *message.Message
	Reply chan<- *message.Message
}

// Gateway is the fan-out broker: a routing table from PID to the
// connection that owns it, plus an inbound queue toward the VMM.
type Gateway struct {
	mu          sync.Mutex
	pidToAddr   map[uint32]string
	addrToReply map[string]chan *message.Message

	toVMM chan Request
	srv   *http.Server
}

// New builds a Gateway that will listen on addr once ListenAndServe is
// called.
func New(addr string) *Gateway {
	g := &Gateway{
		pidToAddr:   make(map[uint32]string),
		addrToReply: make(map[string]chan *message.Message),
		toVMM:       make(chan Request),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/message", g.handle)

	g.srv = &http.Server{Addr: addr, Handler: mux}

	return g
}

// Inbound returns the channel the VMM side pulls Client→VMM requests from.
func (g *Gateway) Inbound() <-chan Request {
	return g.toVMM
}

// Deliver routes a VMM→Client message to whichever connection owns
// msg.Dest. If no binding exists the message is dropped with a logged
// warning.
func (g *Gateway) Deliver(msg *message.Message) {
	g.mu.Lock()
	addr, ok := g.pidToAddr[msg.Dest]
	var reply chan *message.Message
	if ok {
		reply = g.addrToReply[addr]
	}
	g.mu.Unlock()

	if !ok || reply == nil {
		log.Printf("gateway: no route for destination pid %d, dropping message", msg.Dest)

		return
	}

	select {
	case reply <- msg:
	default:
		log.Printf("gateway: destination pid %d not awaiting a reply, dropping message", msg.Dest)
	}
}

// ListenAndServe blocks serving HTTP until ctx is canceled or the server
// errors.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- g.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return g.srv.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}
}

func (g *Gateway) handle(w http.ResponseWriter, r *http.Request) {
	var wire wireMessage
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		http.Error(w, fmt.Sprintf("gateway: malformed message: %v", err), http.StatusBadRequest)

		return
	}

	msg := fromWire(wire)

	// Key by the full host:port socket address, not just the host: two
	// concurrent clients behind the same host would otherwise collide on
	// one routing entry.
	addr := r.RemoteAddr

	reply := make(chan *message.Message, 1)

	g.mu.Lock()
	g.pidToAddr[msg.Source] = addr
	g.addrToReply[addr] = reply
	g.mu.Unlock()

	defer g.disconnect(addr)

	select {
	case g.toVMM <- Request{Msg: msg, Reply: reply}:
	case <-r.Context().Done():
		http.Error(w, "gateway: client disconnected before VMM accepted request", http.StatusInternalServerError)

		return
	}

	select {
	case resp := <-reply:
		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(toWire(resp)); err != nil {
			log.Printf("gateway: encoding reply: %v", err)
		}

	case <-r.Context().Done():
		http.Error(w, "gateway: client disconnected awaiting reply", http.StatusInternalServerError)
	}
}

// disconnect removes every routing entry associated with addr.
func (g *Gateway) disconnect(addr string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.addrToReply, addr)

	for pid, a := range g.pidToAddr {
		if a == addr {
			delete(g.pidToAddr, pid)
		}
	}
}
