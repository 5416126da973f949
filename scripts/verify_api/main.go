package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/mahaj/dm-relay/pkg/chatclient"
)

// Smoke check against a running deployment: log in two users, exchange a
// message over the websocket and read it back through both history routes.
func main() {
	apiAddr := flag.String("api", "http://localhost:8080", "api service address")
	wsAddr := flag.String("ws", "ws://localhost:8080/ws", "gateway websocket url")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	api := chatclient.NewAPI(*apiAddr, nil)

	// 1. Login
	tokenA, err := api.Login(ctx, "userA")
	if err != nil {
		log.Fatal("login userA: ", err)
	}
	tokenB, err := api.Login(ctx, "userB")
	if err != nil {
		log.Fatal("login userB: ", err)
	}

	// 2. Send userA -> userB
	endpoint, err := chatclient.Dial(ctx, *wsAddr, tokenA)
	if err != nil {
		log.Fatal("dial: ", err)
	}
	defer endpoint.Close()

	ref, err := endpoint.Send("userB", "smoke test "+time.Now().Format(time.RFC3339))
	if err != nil {
		log.Fatal("send: ", err)
	}
	var sentID int64
	for sentID == 0 {
		select {
		case env, ok := <-endpoint.Incoming():
			if !ok {
				log.Fatal("connection closed before echo")
			}
			if env.Ref == ref && env.Error != "" {
				log.Fatalf("send rejected: %s (%s)", env.Error, env.Code)
			}
			if env.Message != nil {
				sentID = env.Message.ID
				log.Printf("Echo received: id=%d", sentID)
			}
		case <-ctx.Done():
			log.Fatal("timed out waiting for echo")
		}
	}

	// 3. Read it back as userB
	history, err := api.History(ctx, tokenB, "userA")
	if err != nil {
		log.Fatal("history: ", err)
	}
	if len(history) == 0 || history[len(history)-1].ID != sentID {
		log.Fatalf("history does not end with message %d (%d messages)", sentID, len(history))
	}
	log.Printf("History OK: %d messages between userA and userB", len(history))

	online, err := api.Online(ctx, tokenB, "userA")
	if err != nil {
		log.Printf("Presence unavailable: %v", err)
	} else {
		log.Printf("userA online: %v", online)
	}
}
