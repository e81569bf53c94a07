// Command roomtail follows one chat room from the terminal. Lines typed on
// stdin are sent to the room. With --rooms it follows the room list instead.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"groupchat-service/internal/logging"
	"groupchat-service/internal/models"
	"groupchat-service/internal/roomsync"
)

type options struct {
	server   string
	token    string
	room     string
	group    string
	peer     string
	name     string
	pageSize int
	logLevel string
	rooms    bool
}

func main() {
	var opts options
	pflag.StringVar(&opts.server, "server", envOr("CHAT_SERVER", "http://localhost:8083"), "chat service base URL")
	pflag.StringVar(&opts.token, "token", os.Getenv("CHAT_TOKEN"), "bearer token")
	pflag.StringVar(&opts.room, "room", "", "room id to follow")
	pflag.StringVar(&opts.group, "group", "", "group id; follows the group room, or the direct room with --peer")
	pflag.StringVar(&opts.peer, "peer", "", "peer user id for a direct room")
	pflag.StringVar(&opts.name, "name", "me", "display name shown on your own pending messages")
	pflag.IntVar(&opts.pageSize, "page-size", 50, "messages per load")
	pflag.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	pflag.BoolVar(&opts.rooms, "rooms", false, "follow your room list instead of a room")
	pflag.Parse()

	logger, err := logging.New(true, opts.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "roomtail:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	if opts.token == "" {
		return errors.New("--token or CHAT_TOKEN is required")
	}
	self, err := selfProfile(opts.token, opts.name)
	if err != nil {
		return err
	}

	client := roomsync.NewClient(opts.server, opts.token, nil, logger)
	feed := roomsync.NewWSFeed(opts.server, opts.token, logger)
	if opts.rooms {
		return roomsync.NewRoomList(client, feed, printRooms, logger).Run(ctx)
	}
	roomID, err := resolveRoom(ctx, client, opts)
	if err != nil {
		return err
	}

	channel := roomsync.NewChannel(feed, logger)
	printer := newPrinter()
	focus := roomsync.NewFocus(func(id uuid.UUID) *roomsync.Session {
		return roomsync.NewSession(id, self, client, channel, roomsync.Observer{
			OnChange: printer.render,
			OnStateChange: func(s roomsync.State, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "[%s] %v\n", s, err)
					return
				}
				fmt.Fprintf(os.Stderr, "[%s]\n", s)
			},
		}, logger, roomsync.WithPageSize(opts.pageSize), roomsync.WithProfiles(client))
	})
	defer focus.Close()

	session, err := focus.Switch(ctx, roomID)
	if err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			session.Wait()
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				session.Wait()
				return nil
			}
			if _, err := session.Send(ctx, line, models.MessageText); err != nil {
				fmt.Fprintln(os.Stderr, "send:", err)
			}
		}
	}
}

func resolveRoom(ctx context.Context, client *roomsync.Client, opts options) (uuid.UUID, error) {
	if opts.room != "" {
		return uuid.Parse(opts.room)
	}
	if opts.group == "" {
		return uuid.Nil, errors.New("one of --room or --group is required")
	}
	groupID, err := uuid.Parse(opts.group)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--group: %w", err)
	}
	if opts.peer == "" {
		return client.ResolveGroupRoom(ctx, groupID)
	}
	peer, err := uuid.Parse(opts.peer)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--peer: %w", err)
	}
	return client.ResolveDirectRoom(ctx, peer, groupID)
}

// selfProfile reads the user id from the token subject. The server verifies
// the token; this only labels optimistic messages.
func selfProfile(token, name string) (models.Profile, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return models.Profile{}, fmt.Errorf("parse token: %w", err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return models.Profile{}, fmt.Errorf("token subject: %w", err)
	}
	return models.Profile{UserID: id, DisplayName: name}, nil
}

// printer writes each entry once, and again whenever its rendering changes.
type printer struct {
	mu   sync.Mutex
	seen map[roomsync.SlotKey]string
}

func newPrinter() *printer {
	return &printer{seen: make(map[roomsync.SlotKey]string)}
}

func (p *printer) render(entries []roomsync.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range entries {
		line := format(e)
		if p.seen[e.Key] == line {
			continue
		}
		p.seen[e.Key] = line
		fmt.Println(line)
	}
}

func format(e roomsync.Entry) string {
	stamp := e.Message.CreatedAt.Local().Format("15:04:05")
	line := fmt.Sprintf("%s %s: %s", stamp, e.Sender.Label(), e.Message.Content)
	if e.Message.EditedAt != nil {
		line += " (edited)"
	}
	switch e.Status {
	case roomsync.StatusPending:
		line += " …"
	case roomsync.StatusFailed:
		line += fmt.Sprintf(" [failed: %v]", e.Err)
	}
	return line
}

func printRooms(rooms []models.RoomSummary) {
	fmt.Println("--")
	for _, r := range rooms {
		name := "direct"
		switch {
		case r.Type == models.RoomGroup && r.Name != nil:
			name = *r.Name
		case r.OtherUser != nil:
			name = r.OtherUser.Label()
		}
		last := ""
		if r.LastMessage != nil {
			last = r.LastMessage.Content
		}
		fmt.Printf("%s  %-24s %s\n", r.ID, name, last)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
