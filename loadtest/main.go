package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradiehub/internal/chat"
	"tradiehub/internal/participant"
	"tradiehub/internal/user"
)

var (
	baseURL     = flag.String("base", "http://localhost:8080", "API base URL")
	wsURL       = flag.String("ws", "ws://localhost:8080/ws", "websocket URL")
	connections = flag.Int("conns", 50, "websocket connections per side")
	msgCount    = flag.Int("msgs", 20, "messages per connection")
)

func main() {
	flag.Parse()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("❌ JWT_SECRET is not set")
	}
	tokens := user.NewTokenService(secret)

	homeowner := participant.NewHomeowner(900001)
	tradie := participant.NewTradie(900001)
	homeownerToken, err := tokens.IssueToken(homeowner, time.Hour)
	if err != nil {
		log.Fatalf("❌ Token: %v", err)
	}
	tradieToken, err := tokens.IssueToken(tradie, time.Hour)
	if err != nil {
		log.Fatalf("❌ Token: %v", err)
	}

	total := *connections * 2 * *msgCount
	log.Printf("🔥 STARTING STRESS TEST: %d connections, %d messages into one thread...", *connections*2, total)
	start := time.Now()

	// Both sides hammer the same thread at once.
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make(map[string]int)
	failed := 0
	for i := 0; i < *connections; i++ {
		wg.Add(2)
		go spamChat(&wg, &mu, ids, &failed, homeownerToken, tradie, fmt.Sprintf("h-%d", i))
		go spamChat(&wg, &mu, ids, &failed, tradieToken, homeowner, fmt.Sprintf("t-%d", i))
	}
	wg.Wait()

	dupes := 0
	for id, n := range ids {
		if n > 1 {
			dupes++
			log.Printf("❌ message id %s assigned %d times", id, n)
		}
	}
	log.Printf("✅ LOAD TEST COMPLETE in %s: %d acknowledged, %d failed, %d duplicate ids",
		time.Since(start).Round(time.Millisecond), len(ids), failed, dupes)

	threadID := chat.ThreadID(homeowner, tradie)
	if n, err := countMessages(homeownerToken, threadID); err == nil {
		log.Printf("📊 %s holds %d messages", threadID, n)
	}
	if dupes > 0 {
		os.Exit(1)
	}
}

type frame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

func spamChat(wg *sync.WaitGroup, mu *sync.Mutex, ids map[string]int, failed *int, token string, to participant.Participant, name string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", *wsURL, token), nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", name, err)
		mu.Lock()
		*failed += *msgCount
		mu.Unlock()
		return
	}
	defer conn.Close()

	acks := make(chan frame)
	go func() {
		defer close(acks)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			if f.Type == "sent" || f.Type == "error" {
				acks <- f
			}
		}
	}()

	for i := 0; i < *msgCount; i++ {
		err := conn.WriteJSON(chat.WSMessage{
			Receiver: to,
			Content:  fmt.Sprintf("LoadTest Msg %d from %s", i, name),
		})
		if err != nil {
			log.Printf("❌ Send Fail [%s]: %v", name, err)
			break
		}

		select {
		case f, ok := <-acks:
			mu.Lock()
			if ok && f.Type == "sent" {
				ids[f.MessageID]++
			} else {
				*failed++
			}
			mu.Unlock()
		case <-time.After(5 * time.Second):
			mu.Lock()
			*failed++
			mu.Unlock()
		}
	}
}

func countMessages(token, threadID string) (int, error) {
	count := 0
	for offset := 0; ; offset += 200 {
		req, _ := http.NewRequest(http.MethodGet,
			fmt.Sprintf("%s/api/chats/%s/messages?offset=%d&limit=200", *baseURL, threadID, offset), nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return count, err
		}
		var page []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return count, err
		}
		count += len(page)
		if len(page) < 200 {
			return count, nil
		}
	}
}
