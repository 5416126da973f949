package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/mahaj/dm-relay/pkg/chatclient"
	"github.com/mahaj/dm-relay/pkg/model"
)

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8080", "api service address")
	userID := flag.String("user", "user1", "user id")
	dmUser := flag.String("dm", "", "user id to chat with")
	flag.Parse()

	if *dmUser == "" || *dmUser == *userID {
		log.Fatal("-dm must name another user")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	api := chatclient.NewAPI(*apiAddr, nil)

	// 1. Login to get token
	log.Printf("Logging in as %s...", *userID)
	token, err := api.Login(ctx, *userID)
	if err != nil {
		log.Fatal("Login failed: ", err)
	}

	// 2. Connect before loading history so nothing sent in between is missed
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())
	endpoint, err := chatclient.Dial(ctx, u.String(), token)
	if err != nil {
		log.Fatal("dial: ", err)
	}
	defer endpoint.Close()

	conv := chatclient.NewConversation(*userID, *dmUser)
	history, err := api.History(ctx, token, *dmUser)
	if err != nil {
		log.Fatal("history: ", err)
	}
	conv.Load(history)
	for _, m := range conv.Messages() {
		printMessage(m)
	}

	done := make(chan struct{})
	var away atomic.Bool

	// 3. Print what the server pushes
	go func() {
		defer close(done)
		for env := range endpoint.Incoming() {
			switch env.Type {
			case model.TypeMessage:
				if conv.Apply(*env.Message) && !away.Load() {
					fmt.Print("\r")
					printMessage(*env.Message)
					fmt.Print("> ")
				}
			case model.TypeError:
				fmt.Printf("\r! %s (%s)\n> ", env.Error, env.Code)
			case model.TypeAuthenticated:
				fmt.Printf("\rConnected as %s. Type /away, /back or /quit.\n> ", env.UserID)
			}
		}
		log.Println("connection closed")
	}()

	// 4. Read from stdin and send messages
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			log.Println("interrupt")
			closeAndWait(endpoint, done)
			return
		case text, ok := <-lines:
			if !ok || text == "/quit" {
				closeAndWait(endpoint, done)
				return
			}
			switch text {
			case "/away":
				away.Store(true)
				conv.SetFollowing(false)
				fmt.Print("> ")
				continue
			case "/back":
				printUnseen(conv)
				away.Store(false)
				conv.SetFollowing(true)
				fmt.Print("> ")
				continue
			}
			conv.SetDraft(text)
			content, ok := conv.TakeDraft()
			if !ok {
				fmt.Print("> ")
				continue
			}
			if _, err := endpoint.Send(*dmUser, content); err != nil {
				log.Println("write:", err)
				return
			}
			conv.MarkSeen()
		}
	}
}

func printMessage(m model.Message) {
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.SenderID, m.Content)
}

// printUnseen shows what arrived while the view was not following.
func printUnseen(conv *chatclient.Conversation) {
	n := conv.Unseen()
	if n == 0 {
		return
	}
	msgs := conv.Messages()
	if n > len(msgs) {
		n = len(msgs)
	}
	fmt.Printf("-- %d new --\n", n)
	for _, m := range msgs[len(msgs)-n:] {
		printMessage(m)
	}
}

func closeAndWait(e *chatclient.Endpoint, done <-chan struct{}) {
	if err := e.Close(); err != nil {
		log.Println("close:", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
