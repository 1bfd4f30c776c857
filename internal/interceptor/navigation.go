package interceptor

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/fengjun-lin/web-reel-sub000/internal/domain"
)

// History is the host's navigation primitive. The recorder never owns
// navigation; it decorates whatever the host supplies.
type History interface {
	Push(url string)
	Replace(url string)
	Back()
	Forward()
	Location() string
}

// NavigationInterceptor observes URL transitions and injects custom
// navigation-marker events through the render-event sink. It delegates
// to the wrapped primitive synchronously before emitting, so it never
// alters navigation behavior.
type NavigationInterceptor struct {
	inner  History
	emit   func(domain.RenderEvent)
	now    func() int64
	logger *zerolog.Logger
}

// InterceptHistory wraps the host history and immediately emits one
// marker for the current location tagged "initial".
func InterceptHistory(h History, emit func(domain.RenderEvent), logger *zerolog.Logger) *NavigationInterceptor {
	n := &NavigationInterceptor{
		inner:  h,
		emit:   emit,
		now:    func() int64 { return time.Now().UnixMilli() },
		logger: logger,
	}
	n.mark(h.Location(), domain.TriggerInitial)
	return n
}

func (n *NavigationInterceptor) Push(url string) {
	n.inner.Push(url)
	n.mark(url, domain.TriggerPush)
}

func (n *NavigationInterceptor) Replace(url string) {
	n.inner.Replace(url)
	n.mark(url, domain.TriggerReplace)
}

func (n *NavigationInterceptor) Back() {
	n.inner.Back()
	n.mark(n.inner.Location(), domain.TriggerPopState)
}

func (n *NavigationInterceptor) Forward() {
	n.inner.Forward()
	n.mark(n.inner.Location(), domain.TriggerPopState)
}

func (n *NavigationInterceptor) Location() string { return n.inner.Location() }

// NotifyPopState reports a user-driven back/forward transition the
// host observed natively (not through this wrapper).
func (n *NavigationInterceptor) NotifyPopState(url string) {
	n.mark(url, domain.TriggerPopState)
}

// NotifyHashChange reports a fragment-only transition.
func (n *NavigationInterceptor) NotifyHashChange(url string) {
	n.mark(url, domain.TriggerHashChange)
}

func (n *NavigationInterceptor) mark(url string, trigger domain.NavigationTrigger) {
	ev, err := domain.NewNavigationEvent(url, trigger, n.now())
	if err != nil {
		n.logger.Warn().Err(err).Str("url", url).Msg("navigation marker dropped")
		return
	}
	n.emit(ev)
}
