// amiprobe is a wire-level probe for manager endpoints: connect, log
// in, fire ad-hoc actions, and inspect the raw response blocks with
// timing. Useful for discovering which terminal marker a server
// version uses before registering it in the collector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ergochat/readline"
	"golang.org/x/term"

	"github.com/danmuck/pbxmon/internal/ami"
	"github.com/danmuck/pbxmon/internal/logging"
)

const historyFileName = ".amiprobe_history"

func main() {
	addr := flag.String("addr", "127.0.0.1:5038", "manager endpoint host:port")
	username := flag.String("username", "", "manager username")
	secret := flag.String("secret", "", "manager secret (prompted when omitted)")
	timeout := flag.Duration("timeout", 10*time.Second, "per-action timeout")
	action := flag.String("action", "", "run one action and exit instead of the prompt")
	list := flag.Bool("list", false, "treat -action as a list action")
	terminal := flag.String("terminal", "", "terminal event name for -list")
	var fields fieldList
	flag.Var(&fields, "field", "request field Name=Value, repeatable")
	flag.Parse()

	logging.ConfigureRuntime()

	if strings.TrimSpace(*username) == "" {
		fmt.Fprintln(os.Stderr, "amiprobe: -username required")
		os.Exit(1)
	}
	secretValue, err := resolveSecret(*secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amiprobe: %v\n", err)
		os.Exit(1)
	}

	cfg := ami.DefaultConfig()
	cfg.Address = *addr
	cfg.ActionTimeout = *timeout

	ctx := context.Background()
	client, err := ami.Dial(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amiprobe: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()
	fmt.Printf("connected: %s\n", client.Banner())

	if err := client.Login(ctx, *username, secretValue); err != nil {
		fmt.Fprintf(os.Stderr, "amiprobe: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("authenticated")

	if strings.TrimSpace(*action) != "" {
		req := ami.Request{Action: *action, Fields: fields}
		if *list {
			req.Kind = ami.KindList
			req.TerminalEvent = *terminal
		}
		if err := runAction(ctx, client, req); err != nil {
			fmt.Fprintf(os.Stderr, "amiprobe: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runPrompt(ctx, client); err != nil {
		fmt.Fprintf(os.Stderr, "amiprobe: %v\n", err)
		os.Exit(1)
	}
}

// resolveSecret prompts with echo disabled when the secret was not
// given on the command line and stdin is a terminal.
func resolveSecret(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("-secret required when stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "secret: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	if len(raw) == 0 {
		return "", errors.New("empty secret")
	}
	return string(raw), nil
}

func runPrompt(ctx context.Context, client *ami.Client) error {
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:                 "ami> ",
		HistoryFile:            historyPath(),
		HistoryLimit:           500,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	fmt.Println(`type "help" for commands`)
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rl.SaveToHistory(line)

		words := strings.Fields(line)
		switch strings.ToLower(words[0]) {
		case "quit", "exit":
			return nil
		case "help":
			printHelp()
		case "markers":
			for _, name := range client.Markers().Actions() {
				event, _ := client.Markers().Terminal(name)
				fmt.Printf("  %-34s %s\n", name, event)
			}
		case "marker":
			if len(words) != 3 {
				fmt.Println("usage: marker <Action> <TerminalEvent>")
				continue
			}
			if err := client.Markers().Register(words[1], words[2]); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Printf("registered: %s completes with %s\n", words[1], words[2])
		case "stats":
			total, byEvent := client.DiscardStats()
			fmt.Printf("discarded blocks: %d\n", total)
			for name, n := range byEvent {
				fmt.Printf("  %-30s %d\n", name, n)
			}
		default:
			name, fields, err := parseActionLine(line)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			if err := runAction(ctx, client, ami.Request{Action: name, Fields: fields}); err != nil {
				fmt.Printf("error: %v\n", err)
				if errors.Is(err, ami.ErrDesynchronized) || errors.Is(err, ami.ErrClosed) {
					fmt.Println("session unusable; reconnect")
					return nil
				}
			}
		}
	}
}

func runAction(ctx context.Context, client *ami.Client, req ami.Request) error {
	start := time.Now()
	res, err := client.Execute(ctx, req)
	took := time.Since(start)
	if err != nil {
		return err
	}

	if res.Response.Len() > 0 {
		printBlock("response", res.Response)
	}
	for i, blk := range res.Events {
		printBlock(fmt.Sprintf("event %d", i+1), blk)
	}
	if res.Terminal.Len() > 0 {
		printBlock("terminal", res.Terminal)
	}
	if res.Rejected() {
		fmt.Printf("-- rejected in %v: %s\n", took, res.Message())
		return nil
	}
	fmt.Printf("-- ok in %v (%d events)\n", took, len(res.Events))
	return nil
}

func printBlock(label string, blk ami.Block) {
	fmt.Printf("[%s]\n", label)
	for _, f := range blk.Fields() {
		fmt.Printf("  %s: %s\n", f.Name, f.Value)
	}
}

func printHelp() {
	fmt.Print(`commands:
  <Action> [Name=Value ...]   send an action (list kinds resolve via markers)
  marker <Action> <Event>     register a list terminal marker
  markers                     show the marker table
  stats                       show discarded-block counters
  quit                        close the session and exit
`)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, historyFileName)
}
