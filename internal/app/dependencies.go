// Package app wires the client together. The realtime channel is created
// exactly once here and passed by reference to every component that needs
// it; no component reaches for ambient global state.
package app

import (
	"github.com/spf13/afero"

	"github.com/nfrund/chatlink/internal/channel"
	"github.com/nfrund/chatlink/internal/config"
	"github.com/nfrund/chatlink/internal/pubsub"
	"github.com/nfrund/chatlink/internal/reconcile"
	"github.com/nfrund/chatlink/internal/rest"
	"github.com/nfrund/chatlink/internal/roomsession"
	"github.com/nfrund/chatlink/internal/session"
)

// Dependencies holds the core services of the client. The struct is built
// once at the entrypoint and handed to whatever surface drives it (the CLI
// here, any other front end elsewhere).
type Dependencies struct {
	Config  *config.Config
	Bus     pubsub.Bus
	API     *rest.Client
	Channel *channel.Manager
	Session *session.Store
	Rooms   *roomsession.Controller
	Engine  *reconcile.Engine
}

// Option configures the wiring.
type Option func(*settings)

type settings struct {
	fs          afero.Fs
	engineOpts  []reconcile.Option
	channelOpts []channel.Option
}

// WithEngineOptions forwards options to the reconciliation engine so the
// front end can hook view changes.
func WithEngineOptions(opts ...reconcile.Option) Option {
	return func(s *settings) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithChannelOptions forwards options to the channel manager (tests inject a
// dialer and shrink the reconnect backoff).
func WithChannelOptions(opts ...channel.Option) Option {
	return func(s *settings) { s.channelOpts = append(s.channelOpts, opts...) }
}

// WithFilesystem replaces the filesystem backing credential storage.
func WithFilesystem(fs afero.Fs) Option {
	return func(s *settings) { s.fs = fs }
}

// New constructs and wires all services.
func New(cfg *config.Config, opts ...Option) *Dependencies {
	s := &settings{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(s)
	}

	bus := pubsub.NewWatermillBus()
	ch := channel.New(cfg.SocketURL, bus, s.channelOpts...)

	// The REST client pulls its bearer token from the session store on every
	// request; the closure breaks the construction cycle between the two.
	var sess *session.Store
	api := rest.New(cfg.APIBaseURL, func() string {
		if sess == nil {
			return ""
		}
		return sess.Token()
	})

	creds := session.NewCredentialStore(s.fs, cfg.StateDir)
	sess = session.New(api, ch, creds)

	// A credential rejected mid-session cannot self-heal; the channel
	// delegates straight to forced logout.
	ch.OnUnauthorized(sess.ForceLogout)

	rooms := roomsession.New(api, ch)
	engine := reconcile.New(api, ch, sess.Current, s.engineOpts...)

	return &Dependencies{
		Config:  cfg,
		Bus:     bus,
		API:     api,
		Channel: ch,
		Session: sess,
		Rooms:   rooms,
		Engine:  engine,
	}
}

// Close releases every resource New acquired, in reverse dependency order.
func (d *Dependencies) Close() {
	d.Engine.Close()
	d.Rooms.Close()
	_ = d.Channel.Disconnect()
	_ = d.Bus.Close()
}
