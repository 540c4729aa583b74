// Package main is a terminal chat client: it prints the room history, then
// follows the room and sends each input line as a message.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aura-chat/backend/internal/client"
	"github.com/aura-chat/backend/internal/event"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "chat server base URL")
	username := flag.String("username", "", "name to chat as (prompted when empty)")
	verbose := flag.Bool("v", false, "log connection details to stderr")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	in := bufio.NewScanner(os.Stdin)
	name := strings.TrimSpace(*username)
	for name == "" {
		fmt.Print("Enter your username: ")
		if !in.Scan() {
			os.Exit(1)
		}
		name = strings.TrimSpace(in.Text())
	}

	if err := run(*server, name, in, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(server, name string, in *bufio.Scanner, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opts := client.Options{Logger: logger}

	past, cursor, err := client.FetchHistory(ctx, server, opts)
	if err != nil {
		return err
	}
	for _, e := range past {
		fmt.Println(event.Describe(e))
	}

	c, err := client.Dial(ctx, server, name, cursor, opts)
	if errors.Is(err, client.ErrUsernameTaken) {
		return fmt.Errorf("%q is already in the chat, pick another name", name)
	}
	if err != nil {
		return err
	}
	// The server does not echo our own Connected back to us.
	fmt.Println(event.Describe(event.Connected(name)))

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		for e := range c.Events() {
			fmt.Println(event.Describe(e))
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return c.Leave()
			}
			if err := c.Send(line); err != nil {
				logger.Warn("send failed", zap.Error(err))
			}
		case <-sig:
			return c.Leave()
		case <-streamDone:
			if err := c.Err(); err != nil {
				return fmt.Errorf("connection lost: %w", err)
			}
			fmt.Println("server closed the chat")
			return nil
		}
	}
}
