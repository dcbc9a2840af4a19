package chat

import (
	"sync"

	"consultchat/logger"
	"consultchat/tools/errs"

	"go.uber.org/zap"
)

// Dispatcher 事件名 -> Handler
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(hs ...Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range hs {
		d.handlers[h.Event()] = h
	}
}

func (d *Dispatcher) GetHandler(event string) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[event]
}

// Dispatch runs the handler for f. A panic inside a handler becomes an
// Internal error; the connection stays up.
func (d *Dispatcher) Dispatch(cc *ChatContext, c *WsConn, f *InFrame) (ack *Ack, err error) {
	h := d.GetHandler(f.Event)
	if h == nil {
		return nil, errs.ErrBadRequest.WrapMsg("unknown event", "event", f.Event)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic",
				zap.String("event", f.Event), zap.String("conn", c.ID), zap.Any("panic", r))
			ack, err = nil, errs.ErrPanic(r)
		}
	}()
	return h.Handle(cc, c, f.Data)
}
