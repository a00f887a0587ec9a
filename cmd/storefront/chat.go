package main

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"eyeworks-storefront/internal/collection"
	"eyeworks-storefront/internal/domain"
	"eyeworks-storefront/internal/session"
	"eyeworks-storefront/internal/websocket"

	"github.com/docopt/docopt-go"
	ws "github.com/gorilla/websocket"
)

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "eyeworks", "session.json")
}

func chatURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid --server: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/chat"
	return u.String(), nil
}

// runChat is a terminal chat widget. The session id lives in a file so a
// restarted client picks up the same thread.
func runChat(opts docopt.Opts) error {
	server, _ := opts.String("--server")
	name, _ := opts.String("--name")
	path, _ := opts.String("--session-file")
	if path == "" {
		path = defaultSessionFile()
	}

	storage := session.NewFileStorage(path)
	sessionID, err := session.NewProvider().SessionID(storage)
	if err != nil {
		return err
	}
	profile := session.NewProfile(storage)
	if name != "" {
		if err := profile.SetUserName(name); err != nil {
			return err
		}
	} else {
		name = profile.UserName()
	}

	target, err := chatURL(server)
	if err != nil {
		return err
	}
	cookie := &http.Cookie{Name: session.KeySessionID, Value: sessionID}
	conn, _, err := ws.DefaultDialer.Dial(target, http.Header{"Cookie": {cookie.String()}})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	defer conn.Close()

	fmt.Printf("Connected to %s (session %s).\n", server, sessionID)
	fmt.Println("Type a message and press enter. /read marks replies read, /quit leaves.")

	done := make(chan struct{})
	go func() {
		defer close(done)
		printIncoming(conn)
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
		case <-done:
			return fmt.Errorf("connection closed")
		case line, ok := <-lines:
			if !ok {
				return closeChat(conn)
			}
			line = strings.TrimSpace(line)
			var msg *websocket.Message
			switch line {
			case "":
				continue
			case "/quit":
				return closeChat(conn)
			case "/read":
				msg, err = websocket.NewMessage(websocket.TypeMarkRead, nil)
			default:
				msg, err = websocket.NewMessage(websocket.TypeSend, websocket.SendPayload{Message: line, UserName: name})
			}
			if err != nil {
				return err
			}
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}
		}
	}
}

func closeChat(conn *ws.Conn) error {
	return conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
}

// printIncoming prints each stored message once, as snapshots arrive.
func printIncoming(conn *ws.Conn) {
	seen := make(map[string]bool)
	for {
		var msg websocket.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !ws.IsCloseError(err, ws.CloseNormalClosure) {
				fmt.Fprintf(os.Stderr, "disconnected: %v\n", err)
			}
			return
		}

		switch msg.Type {
		case websocket.TypeSnapshot:
			var thread domain.ChatThreadResponse
			if err := msg.UnmarshalPayload(&thread); err != nil {
				continue
			}
			for _, m := range thread.Messages {
				if collection.IsLocalID(m.ID) || seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				printMessage(m)
			}
			if thread.Error != "" {
				fmt.Fprintf(os.Stderr, "! %s\n", thread.Error)
			}
		case websocket.TypeAck:
			var ack websocket.AckPayload
			if msg.UnmarshalPayload(&ack) == nil && !ack.Success {
				fmt.Fprintf(os.Stderr, "! message not sent: %s\n", ack.Error)
			}
		case websocket.TypeSessionClosed:
			fmt.Println("-- this chat was closed by the store --")
		case websocket.TypeError:
			var e websocket.ErrorPayload
			if msg.UnmarshalPayload(&e) == nil {
				fmt.Fprintf(os.Stderr, "! %s\n", e.Error)
			}
		}
	}
}

func printMessage(m domain.ChatMessage) {
	who := m.UserName
	switch m.Role {
	case domain.RoleVisitor:
		who = "you"
	case domain.RoleAssistant:
		who = "assistant"
	}
	if who == "" {
		who = string(m.Role)
	}
	fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), who, m.Message)
}
