package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatlink/internal/app"
	"github.com/nfrund/chatlink/internal/domain"
	"github.com/nfrund/chatlink/internal/reconcile"
)

// roomRefreshInterval matches the room list's background refresh cadence.
const roomRefreshInterval = 5 * time.Second

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join rooms and chat interactively",
	Long: `Interactive chat session. Messages you type are sent to the active room.

Commands:
  /rooms           list rooms
  /join <room id>  switch to a room
  /leave           leave the active room
  /quit            exit`,
	Args: cobra.NoArgs,
}

func init() {
	chatCmd.RunE = runChat
	rootCmd.AddCommand(chatCmd)
}

// view prints a room's merged message view incrementally as the
// reconciliation engine updates it.
type view struct {
	mu         sync.Mutex
	engine     *reconcile.Engine
	current    domain.ID
	shown      map[domain.ID]int
	typingLine string
}

func (v *view) setRoom(roomID domain.ID) {
	v.mu.Lock()
	v.current = roomID
	v.shown[roomID] = 0
	v.typingLine = ""
	v.mu.Unlock()
}

// changed is the engine's redraw hook.
func (v *view) changed(roomID domain.ID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.engine == nil || roomID != v.current {
		return
	}

	messages := v.engine.CurrentView(roomID)
	shown := v.shown[roomID]
	if shown > len(messages) {
		shown = 0
	}
	for _, m := range messages[shown:] {
		printMessage(m)
	}
	v.shown[roomID] = len(messages)

	line := typingLine(v.engine.TypingUsers(roomID))
	if line != v.typingLine {
		v.typingLine = line
		if line != "" {
			fmt.Println(line)
		}
	}
}

func printMessage(m domain.Message) {
	switch m.Kind {
	case domain.KindSystem:
		fmt.Printf("-- %s --\n", m.Content)
	case domain.KindOptimistic:
		fmt.Printf("[%s] %s: %s (sending...)\n", m.CreatedAt.Format("15:04"), m.Username, m.Content)
	default:
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), m.Username, m.Content)
	}
}

// roomLister is the slice of the REST client the directory needs.
type roomLister interface {
	Rooms(ctx context.Context) ([]domain.RoomRef, error)
}

// roomDirectory caches the server's room list. It refreshes in the
// background and on explicit triggers (/rooms), so the list a user sees is
// never older than one refresh interval.
type roomDirectory struct {
	api roomLister

	mu    sync.Mutex
	rooms []domain.RoomRef
}

func (d *roomDirectory) refresh(ctx context.Context) error {
	rooms, err := d.api.Rooms(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.rooms = rooms
	d.mu.Unlock()
	return nil
}

func (d *roomDirectory) snapshot() []domain.RoomRef {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.RoomRef(nil), d.rooms...)
}

// poll refreshes the cache until ctx is canceled. A failed refresh keeps the
// previous snapshot; the next tick retries.
func (d *roomDirectory) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = d.refresh(ctx)
		}
	}
}

func typingLine(users []domain.TypingUser) string {
	if len(users) == 0 {
		return ""
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return "* " + strings.Join(names, ", ") + " typing..."
}

// chatSession is the interactive loop's state: the wired client, the
// incremental view, and the polled room directory.
type chatSession struct {
	deps *app.Dependencies
	v    *view
	dir  *roomDirectory
}

// handleLine processes one line of user input. It reports whether the
// session should end.
func (s *chatSession) handleLine(ctx context.Context, line string) (quit bool) {
	if !strings.HasPrefix(line, "/") {
		active := s.deps.Rooms.Active()
		if active == nil {
			fmt.Println("No active room. /join <room id> first.")
			return false
		}
		if _, err := s.deps.Engine.SendMessage(active.Room.ID, line); err != nil {
			fmt.Printf("Send failed: %v\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		if s.deps.Rooms.Active() != nil {
			s.leave(ctx)
		}
		return true

	case "/rooms":
		if err := s.dir.refresh(ctx); err != nil {
			fmt.Printf("Could not load rooms: %v\n", err)
			return false
		}
		printRooms(s.dir.snapshot())

	case "/join":
		if len(fields) != 2 {
			fmt.Println("Usage: /join <room id>")
			return false
		}
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Println("Room id must be a number")
			return false
		}
		room, err := s.deps.API.Room(ctx, domain.ID(n))
		if err != nil {
			fmt.Printf("Could not load room: %v\n", err)
			return false
		}
		if err := s.deps.Rooms.SelectRoom(ctx, *room); err != nil {
			fmt.Printf("Join failed: %v\n", err)
			return false
		}
		s.deps.Engine.SetCurrentRoom(room.ID)
		s.v.setRoom(room.ID)
		fmt.Printf("== %s ==\n", room.Name)
		if _, err := s.deps.Engine.LoadHistory(ctx, room.ID); err != nil {
			fmt.Printf("Could not load history: %v\n", err)
		}

	case "/leave":
		s.leave(ctx)
		fmt.Println("Left room")

	case "/help":
		fmt.Println(chatCmd.Long)

	default:
		fmt.Printf("Unknown command %s\n", fields[0])
	}
	return false
}

// leave ends the active room session and resets which room inbound
// broadcasts are attributed to. Without the engine reset, a late membership
// or typing event would still land in the left room's view.
func (s *chatSession) leave(ctx context.Context) {
	if active := s.deps.Rooms.Active(); active != nil {
		s.deps.Engine.StopTyping(active.Room.ID)
	}
	if err := s.deps.Rooms.LeaveCurrentRoom(ctx); err != nil {
		fmt.Printf("Leave failed: %v\n", err)
	}
	s.deps.Engine.SetCurrentRoom(0)
	s.v.setRoom(0)
}

func runChat(cmd *cobra.Command, args []string) error {
	v := &view{shown: make(map[domain.ID]int)}
	deps := newApp(reconcile.OnViewChanged(v.changed))
	defer deps.Close()
	v.engine = deps.Engine

	ctx := cmd.Context()

	id := deps.Session.Restore(ctx)
	if id == nil {
		return domain.ErrNotLoggedIn
	}
	fmt.Printf("Welcome, %s. Type /help for commands.\n", id.Username)

	stopStatus := deps.Channel.OnStateChange(func(s domain.ConnectionState) {
		fmt.Printf("(%s)\n", s)
	})
	defer stopStatus()

	dir := &roomDirectory{api: deps.API}
	if err := dir.refresh(ctx); err != nil {
		return err
	}
	printRooms(dir.snapshot())

	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()
	go dir.poll(pollCtx, roomRefreshInterval)

	session := &chatSession{deps: deps, v: v, dir: dir}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if session.handleLine(ctx, line) {
			return nil
		}
	}
	return scanner.Err()
}
