package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/agent-playground/pkg/logging"
)

// DefaultChannel is the NOTIFY channel the content trigger publishes on.
const DefaultChannel = "scraped_content_changes"

// NotifyConn is the part of *pgx.Conn a PostgresFeed needs.
type NotifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Connector opens a dedicated connection for LISTEN.
type Connector func(ctx context.Context) (NotifyConn, error)

// DSNConnector connects with pgx to dsn.
func DSNConnector(dsn string) Connector {
	return func(ctx context.Context) (NotifyConn, error) {
		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// PostgresFeed delivers changes published by a trigger through
// LISTEN/NOTIFY. Payloads use the same JSON shape as Supabase changes and
// are filtered client side.
type PostgresFeed struct {
	connect Connector
	channel string
	logger  *logging.Logger
}

func NewPostgresFeed(connect Connector, channel string, logger *logging.Logger) *PostgresFeed {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresFeed{connect: connect, channel: channel, logger: logger}
}

// Subscribe opens a connection, issues LISTEN and dispatches notifications
// until Unsubscribe is called.
func (f *PostgresFeed) Subscribe(ctx context.Context, filter Filter, fn func(ChangeEvent)) (Subscription, error) {
	if f.connect == nil {
		return nil, errors.New("realtime: postgres connector required")
	}
	conn, err := f.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("realtime: connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("realtime: listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &pgSub{
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: f.logger.With("channel", f.channel, "agent_id", filter.AgentID),
	}
	go s.loop(runCtx, filter, fn)
	s.logger.Info("realtime listening")
	return s, nil
}

type pgSub struct {
	conn   NotifyConn
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	logger *logging.Logger
}

func (s *pgSub) loop(ctx context.Context, filter Filter, fn func(ChangeEvent)) {
	defer close(s.done)
	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("realtime wait failed", "error", err)
			}
			return
		}
		ev, err := decodeChange([]byte(n.Payload))
		if err != nil {
			s.logger.Warn("realtime notification dropped", "error", err)
			continue
		}
		if filter.matches(ev) {
			fn(ev)
		}
	}
}

// Dropped is closed when the listen loop exits.
func (s *pgSub) Dropped() <-chan struct{} { return s.done }

// Unsubscribe stops the listener and closes its connection once.
func (s *pgSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.conn.Close(ctx)
	})
	return err
}
