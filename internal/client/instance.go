// Package client holds the per-browser client instances. An instance is the
// server-side counterpart of one running web app: its own identity session,
// session store, token slot, API client and notification queue.
package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/apiclient"
	"github.com/aetherfit/aetherfit-front/internal/idp"
	"github.com/aetherfit/aetherfit-front/internal/log"
	"github.com/aetherfit/aetherfit-front/internal/notify"
	"github.com/aetherfit/aetherfit-front/internal/session"
	"github.com/aetherfit/aetherfit-front/internal/tokenstore"
)

// Instance is one browser's client instance.
type Instance struct {
	id            string
	auth          *idp.Auth
	slot          *tokenstore.Slot
	store         *session.Store
	api           *apiclient.Client
	notifications *notify.Queue

	created      time.Time
	lastAccessed atomic.Pointer[time.Time]
	ctx          context.Context
	cancel       context.CancelFunc

	// unsubscribe ends the subscription made when the instance started.
	unsubscribe func()
}

func (i *Instance) ID() string { return i.id }

func (i *Instance) Auth() *idp.Auth { return i.auth }

func (i *Instance) Session() *session.Store { return i.store }

func (i *Instance) Tokens() *tokenstore.Slot { return i.slot }

func (i *Instance) API() *apiclient.Client { return i.api }

func (i *Instance) Notifications() *notify.Queue { return i.notifications }

// Context is cancelled when the instance is torn down.
func (i *Instance) Context() context.Context { return i.ctx }

// Created returns when the instance was started.
func (i *Instance) Created() time.Time { return i.created }

// LastAccessed returns the last time the instance served a request.
func (i *Instance) LastAccessed() time.Time {
	if t := i.lastAccessed.Load(); t != nil {
		return *t
	}
	return i.created
}

func (i *Instance) touch(now time.Time) {
	i.lastAccessed.Store(&now)
}

func (i *Instance) alive() bool {
	select {
	case <-i.ctx.Done():
		return false
	default:
		return true
	}
}

// stop tears the instance down: the start-time subscription is released and
// the durable token removed.
func (i *Instance) stop(ctx context.Context) error {
	i.cancel()
	if i.unsubscribe != nil {
		i.unsubscribe()
	}
	// guard navigations still in flight hold subscriptions until they leave
	if subs, listeners := i.store.SubscriberCount(), i.auth.ListenerCount(); subs > 0 || listeners > 0 {
		log.LogWarnWithFields("client", "Client instance stopped with live listeners", map[string]any{
			"client":      i.id,
			"subscribers": subs,
			"listeners":   listeners,
		})
	}
	return i.slot.Clear(ctx)
}
