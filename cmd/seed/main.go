package main

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"
	"chat-relay/services"
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

var users = []domain.NewUser{
	{Username: "alice", Nickname: "Alice"},
	{Username: "bob", Nickname: "Bob"},
	{Username: "chloe", Nickname: "Chloé"},
}

var conversations = []domain.NewConversation{
	{UserID: "alice", RoomID: "main", Message: "Hello everyone, welcome to the main room of the relay"},
	{UserID: "bob", RoomID: "main", Message: "Thanks Alice, happy to be here with all of you"},
	{UserID: "chloe", RoomID: "main", Message: "Bonjour à tous, je suis très contente de vous rejoindre aujourd'hui"},
	{UserID: "alice", RoomID: "golang", Message: "Channels are the way goroutines talk to each other"},
	{UserID: "bob", RoomID: "golang", Message: "And a select statement lets one goroutine wait on many channels"},
	{UserID: "chloe", RoomID: "golang", Message: "Hola, ¿alguien sabe cómo cerrar un canal sin provocar pánico?"},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
		os.Exit(1)
	}
}

// run fills a fresh badger and bluge store with a few users and conversations
// so the HTTP API and the inspector have something to show.
func run() error {
	badgerPath := flag.String("db", "./data/badger", "Path to badger DB")
	blugePath := flag.String("index", "./data/bluge", "Path to bluge index")
	flag.Parse()

	log := logs.GetLoggerFromLevel(slog.LevelInfo)

	db, err := badger.Open(badger.DefaultOptions(*badgerPath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer db.Close()

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(*blugePath))
	if err != nil {
		return fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer writer.Close()

	service := services.NewChatService(
		log,
		repositories.NewUserRepository(db),
		repositories.NewRoomRepository(db),
		repositories.NewConversationRepository(db, writer, log, nil),
	)

	ctx := context.Background()
	for _, u := range users {
		_, err := service.CreateUser(ctx, u)
		if stderrors.Is(err, errors.ErrUserAlreadyExists) {
			log.Info("User already seeded", "username", u.Username)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", u.Username, err)
		}
	}
	for _, c := range conversations {
		stored, err := service.AppendConversation(ctx, c)
		if err != nil {
			return fmt.Errorf("failed to append conversation: %w", err)
		}
		log.Info("Conversation seeded", "room", stored.RoomID, "lang", stored.Lang)
	}
	log.Info("Seed done", "users", len(users), "conversations", len(conversations))
	return nil
}
