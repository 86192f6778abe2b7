// Command chatcli is a terminal client for the chat server.
//
// Usage:
//
//	chatcli -addr localhost:4000 -name alice
//
// Input shorthand:
//
//	/list                  request the user directory
//	/whisper <user> <msg>  send a private message
//	/quit                  leave the chat
//	anything else          send as a chat message
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cyberinferno/go-chat/chatclient"
)

func main() {
	var (
		addr = flag.String("addr", "localhost:4000", "chat server address")
		name = flag.String("name", "", "username to join under")
	)
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "chatcli: -name is required")
		os.Exit(2)
	}

	client := chatclient.New(chatclient.DefaultConfig(*addr))

	client.OnChat(func(sender, body string) {
		fmt.Printf("[%s] %s\n", sender, body)
	})
	client.OnWhisper(func(sender, body string) {
		fmt.Printf("[%s -> you] %s\n", sender, body)
	})
	client.OnNotice(func(text string) {
		fmt.Printf("* %s\n", text)
	})
	client.OnRoster(func(users []string) {
		fmt.Printf("* users: %s\n", strings.Join(users, ", "))
	})
	client.OnServerError(func(text string) {
		fmt.Printf("! server error: %s\n", text)
	})

	done := make(chan struct{})
	client.OnDisconnect(func(err error) {
		if err != nil {
			fmt.Printf("! disconnected: %v\n", err)
		} else {
			fmt.Println("* disconnected")
		}
		close(done)
	})

	if err := client.Join(*name); err != nil {
		fmt.Fprintf(os.Stderr, "chatcli: %v\n", err)
		os.Exit(1)
	}

	go readInput(client)

	<-done
}

// readInput maps console lines onto client calls until stdin or the client
// goes away. The server never echoes our own chat, so sent lines are shown
// locally.
func readInput(client *chatclient.ChatClient) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		switch {
		case line == "/quit":
			_ = client.Quit()
			return
		case line == "/list":
			err = client.List()
		case strings.HasPrefix(line, "/whisper "):
			rest := strings.TrimPrefix(line, "/whisper ")
			user, msg, ok := strings.Cut(rest, " ")
			if !ok || user == "" || msg == "" {
				fmt.Println("! usage: /whisper <user> <msg>")
				continue
			}
			if err = client.Whisper(user, msg); err == nil {
				fmt.Printf("[you -> %s] %s\n", user, msg)
			}
		case strings.HasPrefix(line, "/"):
			fmt.Printf("! unknown command %q\n", line)
			continue
		default:
			if err = client.Chat(line); err == nil {
				fmt.Printf("[you] %s\n", line)
			}
		}

		if err != nil {
			fmt.Printf("! %v\n", err)
		}
	}

	// Stdin closed: leave cleanly.
	_ = client.Quit()
}
