package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Tyrowin/relaychat/internal/client"
	"github.com/Tyrowin/relaychat/internal/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:9000", "relay address")
	name := flag.String("name", "", "display name")
	downloads := flag.String("downloads", "downloads", "directory for received files")
	verbose := flag.Bool("v", false, "log protocol diagnostics")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "Usage: client -name <name> [-addr host:port] [-downloads dir]")
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := client.Dial(ctx, *addr, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.Join(*name); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to join: %v\n", err)
		os.Exit(1)
	}

	tracker := client.NewTransferTracker(*name)
	go func() {
		err := c.Receive(ctx, func(msg *protocol.Message) error {
			render(os.Stdout, msg)
			saveTransfer(tracker, msg, *downloads, logger)
			return nil
		})
		if err != nil {
			fmt.Printf("\nConnection lost: %v\n", err)
		} else {
			fmt.Println("\nDisconnected.")
		}
		cancel()
		os.Exit(0)
	}()

	interactive(ctx, c)
}

func interactive(ctx context.Context, c *client.Client) {
	fmt.Println("Commands:")
	fmt.Println("  /file <path>  - Send a file")
	fmt.Println("  /quit         - Exit")
	fmt.Println("  <message>     - Send to everyone")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "/quit":
			fmt.Println("Goodbye!")
			return
		case strings.HasPrefix(input, "/file "):
			path := strings.TrimSpace(strings.TrimPrefix(input, "/file "))
			if err := c.SendFile(ctx, path); err != nil {
				fmt.Printf("File not sent: %v\n", err)
			}
		default:
			if err := c.SendText(input); err != nil {
				fmt.Printf("Message not sent: %v\n", err)
				return
			}
		}
	}
}

func render(w io.Writer, msg *protocol.Message) {
	stamp := ""
	if !msg.Timestamp.IsZero() {
		stamp = msg.Timestamp.Local().Format("15:04:05") + " "
	}

	switch msg.Kind {
	case protocol.KindJoin:
		fmt.Fprintf(w, "%s[SYSTEM] %s joined the chat\n", stamp, msg.Username)
	case protocol.KindLeave:
		fmt.Fprintf(w, "%s[SYSTEM] %s left the chat\n", stamp, msg.Username)
	case protocol.KindUserList:
		fmt.Fprintf(w, "%s[USERS] %s\n", stamp, strings.Join(msg.Names(), ", "))
	case protocol.KindText:
		fmt.Fprintf(w, "%s%s: %s\n", stamp, msg.Username, msg.Body)
	case protocol.KindFileInfo:
		if info, err := msg.FileInfo(); err == nil {
			fmt.Fprintf(w, "%s%s is sending %s (%d bytes)\n", stamp, msg.Username, info.Name, info.Size)
		}
	}
}

func saveTransfer(tracker *client.TransferTracker, msg *protocol.Message, dir string, logger *slog.Logger) {
	tr, err := tracker.Track(msg)
	if err != nil {
		logger.Warn("file transfer error", "error", err)
		return
	}
	if tr == nil || !tr.Complete() {
		return
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Printf("Cannot save %s: %v\n", tr.Name, err)
		return
	}
	path := filepath.Join(dir, filepath.Base(tr.Name))
	if err := os.WriteFile(path, tr.Bytes(), 0o644); err != nil {
		fmt.Printf("Cannot save %s: %v\n", tr.Name, err)
		return
	}
	fmt.Printf("Received %s from %s, saved to %s\n", tr.Name, tr.Sender, path)
}
