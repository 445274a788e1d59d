package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/tutor-realtime/pkg/auth"
	"github.com/mahaj/tutor-realtime/pkg/model"
	"github.com/mahaj/tutor-realtime/pkg/realtime"
)

const help = `commands:
  /dm <user>              open the conversation with user
  /typing                 send typing_start to the open conversation
  /call <user> [video]    ring user (audio unless "video")
  /accept <user>          answer a ringing call from user
  /reject <user>          decline a ringing call from user
  /hangup <user>          end or cancel the call with user
  /quit
anything else is sent as a message to the open conversation`

type session struct {
	mu   sync.Mutex
	conn *websocket.Conn
	peer string
}

func (s *session) send(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(map[string]any{"event": event, "data": data})
}

func (s *session) recipient() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// describe renders an inbound event as one terminal line.
func describe(env realtime.Envelope) string {
	switch env.Event {
	case realtime.EventNewMessage, realtime.EventMessageSent:
		var m model.Message
		if err := json.Unmarshal(env.Data, &m); err == nil {
			return fmt.Sprintf("[%s] %s: %s", env.Event, m.SenderID, m.Content)
		}
	case realtime.EventUserTyping:
		var p realtime.UserTypingPayload
		if err := json.Unmarshal(env.Data, &p); err == nil && p.IsTyping {
			return fmt.Sprintf("User %s is typing...", p.UserID)
		}
	case realtime.EventIncomingCall:
		var p realtime.IncomingCallPayload
		if err := json.Unmarshal(env.Data, &p); err == nil {
			return fmt.Sprintf("Incoming %s call from %s (%s), /accept %s or /reject %s", p.CallType, p.CallerName, p.CallerRole, p.CallerID, p.CallerID)
		}
	}
	return fmt.Sprintf("[%s] %s", env.Event, env.Data)
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	userID := flag.String("user", "user1", "user id")
	role := flag.String("role", "student", "role claimed in a self-signed token")
	token := flag.String("token", "", "bearer token (signed with -secret when empty)")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 secret for a self-signed dev token")
	dmUser := flag.String("dm", "", "user id to open a conversation with")
	flag.Parse()

	if *token == "" {
		if *secret == "" {
			log.Fatal("either -token or -secret (JWT_SECRET) is required")
		}
		signed, err := auth.NewAuthenticator(*secret).GenerateToken(*userID, *role, 24*time.Hour)
		if err != nil {
			log.Fatal("sign token:", err)
		}
		*token = signed
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s as %s", u.String(), *userID)

	header := http.Header{}
	header.Add("Authorization", "Bearer "+*token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	s := &session{conn: c}
	if *dmUser != "" {
		s.peer = *dmUser
		if err := s.send(realtime.EventJoinConversation, map[string]string{"recipientId": *dmUser}); err != nil {
			log.Fatal("join:", err)
		}
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			var env realtime.Envelope
			if err := c.ReadJSON(&env); err != nil {
				log.Println("read:", err)
				return
			}
			fmt.Printf("\r%s\n> ", describe(env))
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println(help)
		fmt.Print("> ")
		for scanner.Scan() {
			if err := handleLine(s, strings.TrimSpace(scanner.Text())); err != nil {
				if errors.Is(err, errQuit) {
					interrupt <- os.Interrupt
					return
				}
				log.Println(err)
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")

			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			s.mu.Lock()
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.mu.Unlock()
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

var errQuit = errors.New("quit")

func handleLine(s *session, text string) error {
	if text == "" {
		return nil
	}
	fields := strings.Fields(text)
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	switch fields[0] {
	case "/quit":
		return errQuit
	case "/dm":
		if arg(1) == "" {
			return fmt.Errorf("usage: /dm <user>")
		}
		s.mu.Lock()
		s.peer = arg(1)
		s.mu.Unlock()
		return s.send(realtime.EventJoinConversation, map[string]string{"recipientId": arg(1)})
	case "/typing":
		return s.send(realtime.EventTypingStart, map[string]string{"recipientId": s.recipient()})
	case "/call":
		callType := "audio"
		if arg(2) == "video" {
			callType = "video"
		}
		// A real client sends an SDP offer; the gateway relays it untouched.
		return s.send(realtime.EventCallUser, map[string]any{
			"recipientId": arg(1),
			"offer":       map[string]string{"type": "offer", "sdp": "cli"},
			"callType":    callType,
		})
	case "/accept":
		return s.send(realtime.EventCallAccepted, map[string]any{
			"callerId": arg(1),
			"answer":   map[string]string{"type": "answer", "sdp": "cli"},
		})
	case "/reject":
		return s.send(realtime.EventCallRejected, map[string]string{"callerId": arg(1), "reason": "declined"})
	case "/hangup":
		return s.send(realtime.EventEndCall, map[string]string{"recipientId": arg(1)})
	}

	if s.recipient() == "" {
		return fmt.Errorf("no open conversation, use /dm <user> first")
	}
	return s.send(realtime.EventSendMessage, map[string]string{"recipientId": s.recipient(), "content": text})
}
