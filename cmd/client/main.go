package main

import (
	"bufio"
	"chat-relay/domain"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	URL     string `envconfig:"RELAY_URL" default:"ws://localhost:8080/ws"`
	Room    string `envconfig:"RELAY_ROOM"`
	UserID  string `envconfig:"RELAY_USER_ID"`
	Colours bool   `envconfig:"RELAY_COLOURS" default:"true"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Client terminated with error: %v\n", err)
		os.Exit(1)
	}
}

// run connects to the relay, prints every payload it receives and sends each
// stdin line as a TEXT message.
func run() error {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	target, err := url.Parse(config.URL)
	if err != nil {
		return fmt.Errorf("invalid RELAY_URL: %w", err)
	}
	query := target.Query()
	if config.Room != "" {
		query.Set("room", config.Room)
	}
	if config.UserID != "" {
		query.Set("user_id", config.UserID)
	}
	target.RawQuery = query.Encode()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	conn, _, err := websocket.Dial(dialCtx, target.String(), nil)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", target, err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	p := printer{colours: config.Colours}
	room := config.Room

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			payload, err := domain.ParsePayload(data)
			if err != nil {
				p.warn("unreadable frame: %s", data)
				continue
			}
			p.print(payload)
		}
	}()

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
			return nil
		case err := <-readErr:
			if websocket.CloseStatus(err) != -1 {
				p.warn("connection closed: %v", err)
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			data, err := domain.ChatPayload{
				Type:   domain.Text,
				Values: []string{line},
				RoomID: room,
				UserID: config.UserID,
			}.Encode()
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
		}
	}
}

type printer struct {
	colours bool
}

func (p printer) print(payload domain.ChatPayload) {
	line := fmt.Sprintf("[%s] #%d %s", payload.Type, payload.ID, payload.Text())
	if payload.UserID != "" {
		line = fmt.Sprintf("[%s] %s: %s", payload.Type, payload.UserID, payload.Text())
	}
	if !p.colours {
		fmt.Println(line)
		return
	}
	switch payload.Type {
	case domain.Connect:
		color.Green.Println(line)
	case domain.Disconnect:
		color.Yellow.Println(line)
	case domain.Typing:
		color.Gray.Println(line)
	default:
		color.Cyan.Println(line)
	}
}

func (p printer) warn(format string, args ...any) {
	if p.colours {
		color.Red.Printf(format+"\n", args...)
		return
	}
	fmt.Printf(format+"\n", args...)
}
