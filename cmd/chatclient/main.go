package main

import (
	"Saathi/internal/agent"
	"Saathi/internal/auth"
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

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerURL   string `env:"SAATHI_SERVER_URL,default=http://localhost:5000"`
	SocketRoute string `env:"SAATHI_SOCKET_ROUTE,default=ws"`
	Token       string `env:"SAATHI_TOKEN"`
	JWTSecret   string `env:"SAATHI_JWT_SECRET"`
	Verbose     bool   `env:"SAATHI_CLIENT_VERBOSE"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	peer := flag.String("peer", "", "user id to chat with")
	issue := flag.String("issue", "", "mint a dev token for this user id using SAATHI_JWT_SECRET")
	flag.Parse()

	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	if *issue != "" {
		if config.JWTSecret == "" {
			return exitConfig, errors.New("-issue needs SAATHI_JWT_SECRET")
		}
		token, err := auth.NewJWTVerifier(config.JWTSecret, 0).Issue(*issue, "", "")
		if err != nil {
			return exitRuntime, fmt.Errorf("issue token: %w", err)
		}
		config.Token = token
		fmt.Printf("token for %s: %s\n", *issue, token)
	}

	if *peer == "" {
		if *issue != "" {
			return exitOK, nil
		}
		return exitConfig, errors.New("-peer is required")
	}
	if config.Token == "" {
		return exitConfig, errors.New("set SAATHI_TOKEN or use -issue")
	}

	logger := zap.NewNop()
	if config.Verbose {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger = dev
		}
	}
	defer func() { _ = logger.Sync() }()

	a, err := agent.New(agent.Config{
		ServerURL:   config.ServerURL,
		SocketRoute: config.SocketRoute,
		Token:       config.Token,
		PeerID:      *peer,
		Logger:      logger,
	})
	if err != nil {
		return exitConfig, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)
	defer a.Close()

	fmt.Printf(">>> chatting as %s with %s (/typing toggles typing, /quit exits)\n", a.SelfID(), *peer)

	lines := make(chan string)
	go readLines(lines)

	r := &renderer{printed: make(map[string]bool)}
	typing := false

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case <-a.Updates():
			r.render(a)
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			switch strings.TrimSpace(line) {
			case "":
			case "/quit":
				return exitOK, nil
			case "/typing":
				typing = !typing
				if err := a.SendTyping(typing); err != nil {
					fmt.Printf("!! typing not sent: %v\n", err)
				}
			default:
				if _, err := a.SendMessage(line); err != nil {
					fmt.Printf("!! not sent: %v\n", err)
				}
			}
		}
	}
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// renderer prints what changed since the previous update.
type renderer struct {
	printed map[string]bool
	state   agent.State
	typing  bool
}

func (r *renderer) render(a *agent.Agent) {
	if s := a.State(); s != r.state {
		r.state = s
		fmt.Printf("-- %s\n", s)
	}

	if t := a.IsTyping(); t != r.typing {
		r.typing = t
		if t {
			fmt.Println("-- peer is typing...")
		} else {
			fmt.Println("-- peer stopped typing")
		}
	}

	for _, msg := range a.Messages() {
		if msg.Pending() || r.printed[msg.ID] {
			continue
		}
		r.printed[msg.ID] = true

		who := msg.SenderID
		if who == a.SelfID() {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format(time.Kitchen), who, msg.Text)
	}
}
