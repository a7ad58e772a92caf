package notify

import (
	"context"

	"github.com/gratefultolord/payverify_bot/internal/payment"
)

// Router sends each event to the notifier registered for its audience.
// Events without a route are dropped.
type Router struct {
	routes map[payment.Audience]payment.Notifier
}

func NewRouter() *Router {
	return &Router{routes: make(map[payment.Audience]payment.Notifier)}
}

func (r *Router) Route(a payment.Audience, n payment.Notifier) *Router {
	r.routes[a] = n
	return r
}

func (r *Router) Notify(ctx context.Context, ev payment.Event) error {
	n, ok := r.routes[ev.Audience()]
	if !ok {
		return nil
	}

	return n.Notify(ctx, ev)
}
