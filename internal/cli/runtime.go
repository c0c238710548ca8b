package cli

import (
	"fmt"
	"os"

	"github.com/tOgg1/agentsync/internal/api"
	"github.com/tOgg1/agentsync/internal/config"
	"github.com/tOgg1/agentsync/internal/events"
	"github.com/tOgg1/agentsync/internal/logging"
	"github.com/tOgg1/agentsync/internal/realtime"
	"github.com/tOgg1/agentsync/internal/session"
	"github.com/tOgg1/agentsync/internal/timeline"
)

// runtime is the object graph behind a command.
type runtime struct {
	cfg       *config.Config
	publisher *events.InMemoryPublisher
	client    *api.Client
	store     *timeline.Store
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	if err := requireServer(cfg); err != nil {
		return nil, err
	}
	publisher := events.NewInMemoryPublisher()
	client := api.New(cfg.Server.BaseURL, cfg.Server.Token, api.WithTimeout(cfg.Server.Timeout))
	store := timeline.NewStore(client, cfg.TimelineSettings(),
		timeline.WithPublisher(publisher),
		timeline.WithLogger(logging.Component("timeline-store")),
	)
	return &runtime{cfg: cfg, publisher: publisher, client: client, store: store}, nil
}

// connect builds the realtime manager and a session over the store.
func (r *runtime) connect() *session.Session {
	dialer := &realtime.WebsocketDialer{ReadLimit: r.cfg.Realtime.ReadLimit}
	manager := realtime.NewManager(dialer, r.cfg.RealtimeSettings(),
		realtime.WithPublisher(r.publisher),
		realtime.WithLogger(logging.Component("realtime")),
		realtime.WithRedirector(realtime.RedirectorFunc(func(reason string) {
			fmt.Fprintln(os.Stderr, (&PreflightError{
				Message:  "authentication failed: " + reason,
				Hint:     "refresh the API token",
				NextStep: "agentsync --token NEW_TOKEN tail",
			}).Error())
		})),
	)
	return session.New(r.store, manager,
		session.WithLogger(logging.Component("session")),
		session.WithResyncInterval(r.cfg.Realtime.ResyncInterval),
		session.WithLifecycle(r.cfg.LifecycleSettings()),
	)
}

func (r *runtime) close() {
	r.publisher.Close()
}
