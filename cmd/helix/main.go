// Helix - outreach sequence workspace client
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/helix-hr/helix-client/internal/chat"
	"github.com/helix-hr/helix-client/internal/domain"
	"github.com/helix-hr/helix-client/internal/config"
	"github.com/helix-hr/helix-client/internal/gateway"
	"github.com/helix-hr/helix-client/internal/localstate"
	"github.com/helix-hr/helix-client/internal/push"
	"github.com/helix-hr/helix-client/internal/reconcile"
	"github.com/helix-hr/helix-client/internal/session"
	"github.com/helix-hr/helix-client/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	state, err := localstate.Open(cfg.StatePath)
	if err != nil {
		slog.Error("Failed to open local state", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := state.Close(); closeErr != nil {
			slog.Error("Failed to close local state", "error", closeErr)
		}
	}()

	// Initialize the workspace.
	st := store.New("", config.WelcomeMessage)
	engine := reconcile.New(st, cfg.DedupWindow, logger)
	client := gateway.New(gateway.Config{
		BaseURL:        cfg.APIBaseURL,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)

	notify := func(msg string) { fmt.Fprintln(os.Stderr, "! "+msg) }
	svc := chat.New(st, engine, client, chat.Options{
		Optimistic:  cfg.OptimisticApply,
		Fallback:    config.FallbackReply,
		ErrorNotice: config.ErrorMessage,
		Notify:      notify,
		Logger:      logger,
	})

	mgr := session.NewManager(st, engine, client, state, session.Config{
		TTL:             cfg.SessionTTL,
		RefreshInterval: cfg.ActivityRefresh,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		slog.Error("Failed to start session", "error", err)
		os.Exit(1)
	}
	go mgr.RunActivityRefresher(ctx)

	if cfg.UseWebsockets {
		sub := push.New(push.Config{URL: cfg.WebsocketURL}, st.SessionID, svc, logger)
		go sub.Run(ctx)
	}

	// Print transcript entries as they land, whichever channel they came in
	// on.
	printer := &transcriptPrinter{out: os.Stdout}
	st.Subscribe(func() { printer.print(st.Messages()) })
	printer.print(st.Messages())

	repl(ctx, st, svc, mgr)
}

// transcriptPrinter emits each transcript entry once. Store notifications
// fire from both the REPL and the push goroutine, and a session reset shrinks
// the transcript, so the offset is locked and clamped.
type transcriptPrinter struct {
	out     io.Writer
	mu      sync.Mutex
	printed int
}

func (p *transcriptPrinter) print(msgs []domain.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed > len(msgs) {
		p.printed = len(msgs)
	}
	for _, msg := range msgs[p.printed:] {
		fmt.Fprintf(p.out, "[%s] %s\n", msg.Sender, msg.Content)
		p.printed++
	}
}

func repl(ctx context.Context, st *store.Store, svc *chat.Service, mgr *session.Manager) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Type a message, or /help for commands.")

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		mgr.RecordActivity(ctx)

		if !strings.HasPrefix(line, "/") {
			svc.ProcessMessage(ctx, line)
			continue
		}
		if line == "/quit" {
			return
		}
		runCommand(ctx, line, st, svc, mgr)
	}
}

func runCommand(ctx context.Context, line string, st *store.Store, svc *chat.Service, mgr *session.Manager) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		fmt.Println(`/sequences            list sequences
/new <role>           create a sequence
/suggest <role>       suggest the next step for a role
/context <text>       initialize hiring context
/register <email>     register a recovery email
/sessions <email>     list recoverable sessions
/recover <email> <id> switch to another session
/export <file>        export the session to a file
/import <file>        import a session snapshot
/delete               delete the session and start fresh
/quit                 exit`)
	case "/sequences":
		active := st.ActiveSequenceID()
		for _, seq := range st.Sequences() {
			marker := " "
			if seq.ID == active {
				marker = "*"
			}
			fmt.Printf("%s %s (%d steps)\n", marker, seq.Role, len(seq.Steps))
		}
	case "/new":
		if len(args) == 0 {
			fmt.Println("usage: /new <role>")
			return
		}
		if _, err := svc.CreateSequence(ctx, strings.Join(args, " ")); err != nil {
			slog.Error("Create sequence failed", "error", err)
		}
	case "/suggest":
		if len(args) == 0 {
			fmt.Println("usage: /suggest <role>")
			return
		}
		role := strings.Join(args, " ")
		suggestion, err := svc.SuggestNextStep(ctx, role)
		if err != nil {
			slog.Error("Suggestion failed", "error", err)
			return
		}
		if suggestion != nil {
			if err := svc.AddSuggestedStep(ctx, role, *suggestion); err != nil {
				slog.Error("Adding suggested step failed", "error", err)
			}
		}
	case "/context":
		if len(args) == 0 {
			fmt.Println("usage: /context <text>")
			return
		}
		if err := svc.InitContext(ctx, strings.Join(args, " ")); err != nil {
			slog.Error("Context init failed", "error", err)
		}
	case "/register":
		if len(args) != 1 {
			fmt.Println("usage: /register <email>")
			return
		}
		if err := mgr.RegisterEmail(ctx, args[0]); err != nil {
			slog.Error("Email registration failed", "error", err)
		}
	case "/sessions":
		if len(args) != 1 {
			fmt.Println("usage: /sessions <email>")
			return
		}
		sessions, err := mgr.ListSessions(ctx, args[0])
		if err != nil {
			slog.Error("Listing sessions failed", "error", err)
			return
		}
		for _, info := range sessions {
			fmt.Println(info.SessionID)
		}
	case "/recover":
		if len(args) != 2 {
			fmt.Println("usage: /recover <email> <session-id>")
			return
		}
		if err := mgr.Recover(ctx, args[0], args[1]); err != nil {
			slog.Error("Recovery failed", "error", err)
		}
	case "/export":
		if len(args) != 1 {
			fmt.Println("usage: /export <file>")
			return
		}
		data, err := mgr.Export(ctx)
		if err != nil {
			slog.Error("Export failed", "error", err)
			return
		}
		if err := os.WriteFile(args[0], data, 0644); err != nil {
			slog.Error("Writing export failed", "error", err)
		}
	case "/import":
		if len(args) != 1 {
			fmt.Println("usage: /import <file>")
			return
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			slog.Error("Reading import failed", "error", err)
			return
		}
		if err := mgr.Import(ctx, json.RawMessage(data)); err != nil {
			slog.Error("Import failed", "error", err)
		}
	case "/delete":
		if err := mgr.Delete(ctx); err != nil {
			slog.Error("Delete failed", "error", err)
		}
	default:
		fmt.Println("unknown command; /help lists commands")
	}
}
