package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/term"

	"chatcore/internal/chatclient"
	"chatcore/internal/transport"
	"chatcore/internal/wire"
)

// maxClientHistory is the client-side display cap (spec.md §3 line 48,
// §9 line 258 — 50 on the client against the server's 100).
const maxClientHistory = 50

// CLIClient represents the command-line chat client.
type CLIClient struct {
	client      *chatclient.Client
	dialer      transport.Dialer
	addr        string
	connected   bool
	mu          sync.Mutex
	onlineUsers []string
	history     []wire.HistoryEntry
}

// appendHistory appends entry to c.history, trimming from the front
// once maxClientHistory is exceeded. Callers must hold c.mu.
func (c *CLIClient) appendHistory(entry wire.HistoryEntry) {
	c.history = append(c.history, entry)
	if len(c.history) > maxClientHistory {
		c.history = c.history[len(c.history)-maxClientHistory:]
	}
}

var version = "1.0"

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	host := flag.String("host", "127.0.0.1", "server host or .onion address")
	port := flag.Int("port", 8443, "server port")
	username := flag.String("username", "", "account username (prompted if empty)")
	useTor := flag.Bool("tor", false, "route the connection through a local Tor SOCKS5 proxy")
	register := flag.Bool("register", false, "register a new account before logging in")
	flag.Parse()

	fmt.Printf("chatcore CLI Client v%s\n\n", version)

	reader := bufio.NewReader(os.Stdin)

	if *username == "" {
		fmt.Print("Username: ")
		line, _ := reader.ReadString('\n')
		*username = strings.TrimSpace(line)
	}
	if *username == "" {
		fmt.Fprintln(os.Stderr, "chatcore-client: username required")
		os.Exit(1)
	}

	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatcore-client: read password: %v\n", err)
		os.Exit(1)
	}
	password := string(passwordBytes)

	var dialer transport.Dialer
	if *useTor {
		dialer = transport.NewTorDialer()
	} else {
		dialer = transport.NewTCPDialer()
	}

	addr := fmt.Sprintf("%s:%d", *host, *port)

	cli := &CLIClient{
		client:      chatclient.New(*username, password),
		dialer:      dialer,
		addr:        addr,
		onlineUsers: []string{},
	}
	cli.wireHandlers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Printf("\nShutting down...\n")
		cli.disconnect()
		memguard.Purge()
		os.Exit(0)
	}()

	if err := cli.connect(*register); err != nil {
		fmt.Fprintf(os.Stderr, "chatcore-client: %v\n", err)
		os.Exit(1)
	}

	cli.run(reader)
}

func (c *CLIClient) wireHandlers() {
	c.client.Handlers.OnBroadcast = func(username, text string, timestampMs int64) {
		c.mu.Lock()
		c.appendHistory(wire.HistoryEntry{Username: username, Text: text, Timestamp: timestampMs})
		c.mu.Unlock()

		ts := time.UnixMilli(timestampMs).Format("15:04:05")
		fmt.Printf("\r[%s] %s: %s\n> ", ts, username, text)
	}
	c.client.Handlers.OnUserJoined = func(username, userID string) {
		c.mu.Lock()
		c.onlineUsers = append(c.onlineUsers, username)
		c.mu.Unlock()
		fmt.Printf("\r* %s joined\n> ", username)
	}
	c.client.Handlers.OnUserLeft = func(username string) {
		c.mu.Lock()
		for i, u := range c.onlineUsers {
			if u == username {
				c.onlineUsers = append(c.onlineUsers[:i], c.onlineUsers[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		fmt.Printf("\r* %s left\n> ", username)
	}
	c.client.Handlers.OnError = func(text string) {
		fmt.Printf("\r! server error: %s\n> ", text)
	}
	c.client.Handlers.OnHistory = func(messages []wire.HistoryEntry, users []wire.User) {
		c.mu.Lock()
		c.onlineUsers = c.onlineUsers[:0]
		for _, u := range users {
			c.onlineUsers = append(c.onlineUsers, u.Username)
		}

		c.history = c.history[:0]
		for _, m := range messages {
			c.appendHistory(m)
		}
		shown := append([]wire.HistoryEntry(nil), c.history...)
		c.mu.Unlock()

		if len(shown) > 0 {
			fmt.Printf("--- last %d messages ---\n", len(shown))
			for _, m := range shown {
				ts := time.UnixMilli(m.Timestamp).Format("15:04:05")
				fmt.Printf("[%s] %s: %s\n", ts, m.Username, m.Text)
			}
			fmt.Printf("------------------------\n")
		}
	}
	c.client.Handlers.OnDisconnect = func(err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		fmt.Printf("\rdisconnected from server: %v\n> ", err)
	}
}

func (c *CLIClient) connect(register bool) error {
	if err := c.client.Connect(c.dialer, c.addr); err != nil {
		return err
	}

	if register {
		if err := c.client.Register(); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		fmt.Printf("Account registered.\n")
	}

	err := c.client.Authenticate()
	if err == chatclient.ErrUserNotFound {
		if register {
			return fmt.Errorf("authenticate: %w", err)
		}
		fmt.Printf("No account found, registering...\n")
		if err := c.client.Register(); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		err = c.client.Authenticate()
	}
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	go c.client.Run()

	fmt.Printf("Connected to %s\n", c.addr)
	fmt.Printf("Type /help for commands\n\n")
	return nil
}

func (c *CLIClient) disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.mu.Unlock()

	c.client.Disconnect()
	fmt.Printf("\nDisconnected from server\n\n")
}

func (c *CLIClient) run(reader *bufio.Reader) {
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}

		message := strings.TrimSpace(line)
		if message == "" {
			continue
		}

		if c.handleCommand(message) {
			continue
		}

		if err := c.client.SendMessage(message); err != nil {
			fmt.Printf("Send error: %v\n", err)
		}
	}

	c.disconnect()
}

func (c *CLIClient) handleCommand(message string) bool {
	switch message {
	case "/quit", "/exit", "/q":
		c.disconnect()
		fmt.Println("Goodbye!")
		os.Exit(0)
		return true
	case "/help", "/h", "/?":
		c.showHelp()
		return true
	case "/users", "/u":
		c.showUsers()
		return true
	case "/clear", "/cls":
		fmt.Print("\033[H\033[2J")
		return true
	}
	return false
}

func (c *CLIClient) showHelp() {
	fmt.Printf(`
chatcore CLI Commands v%s

  /users, /u     - Show online users
  /clear, /cls   - Clear screen
  /help, /h, /?  - Show this help
  /quit, /exit,  /q - Exit application

`, version)
}

func (c *CLIClient) showUsers() {
	c.mu.Lock()
	users := append([]string(nil), c.onlineUsers...)
	c.mu.Unlock()

	if len(users) == 0 {
		fmt.Printf("No users online (or not yet received user list)\n")
		return
	}

	fmt.Printf("Online users (%d):\n", len(users))
	for _, u := range users {
		fmt.Printf("   - %s\n", u)
	}
}
