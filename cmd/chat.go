package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/solsticeworks/scene-pilot/internal/chat"
	"github.com/solsticeworks/scene-pilot/internal/config"
	"github.com/solsticeworks/scene-pilot/internal/llm"
	"github.com/solsticeworks/scene-pilot/internal/prompt"
	"github.com/solsticeworks/scene-pilot/internal/session"
	"github.com/solsticeworks/scene-pilot/internal/signal"
	"github.com/solsticeworks/scene-pilot/internal/toolserver"
)

var (
	flagResume       string
	flagNoTools      bool
	flagNoStore      bool
	flagShowThinking bool
)

func init() {
	chatCmd.Flags().StringVar(&flagResume, "resume", "", "Resume a saved session by id or id prefix")
	chatCmd.Flags().BoolVar(&flagNoTools, "no-tools", false, "Skip tool server startup")
	chatCmd.Flags().BoolVar(&flagNoStore, "no-store", false, "Do not persist this session")
	chatCmd.Flags().BoolVar(&flagShowThinking, "show-thinking", false, "Print model reasoning as it streams")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive assistant session",
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	var dispatcher chat.ToolDispatcher
	var manager *toolserver.Manager
	if !flagNoTools {
		manager, err = startToolServers(cmd.Context(), cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: tool servers unavailable: %v\n", err)
		} else if manager != nil {
			dispatcher = manager
			defer manager.StopAll()
		}
	}

	store := openStore(cfg)
	defer store.Close()

	notifier := &consoleNotifier{showThinking: flagShowThinking}
	sess := chat.NewSession(provider, dispatcher, cfg, notifier)

	record, err := prepareRecord(cmd.Context(), cfg, store, sess)
	if err != nil {
		return err
	}

	if cfg.Chat.SystemPrompt == "" {
		var toolNames []string
		if manager != nil {
			for _, t := range manager.AllTools() {
				toolNames = append(toolNames, t.Name)
			}
		}
		cfg.Chat.SystemPrompt = prompt.SystemPrompt("", toolNames)
	}
	if manager != nil {
		notifier.ToolsReady(true, len(manager.AllTools()))
	}

	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	fmt.Println("scene-pilot ready. Type a request, /help for commands.")
	return repl(ctx, sess, store, record, notifier)
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Debug.LogFile != "" {
		logger, err := llm.NewDebugLogger(cfg.Debug.LogFile, time.Now().Format("20060102-150405"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: debug log disabled: %v\n", err)
		} else {
			provider = llm.NewLoggingProvider(provider, logger)
		}
	}
	if cfg.Chat.Retry {
		provider = llm.WrapWithRetry(provider, llm.DefaultRetryConfig())
	}
	return provider, nil
}

func startToolServers(ctx context.Context, cfg *config.Config) (*toolserver.Manager, error) {
	installRoot, _ := os.Executable()
	installRoot = filepath.Dir(installRoot)
	workspace, _ := os.Getwd()
	tcfg, err := toolserver.LoadConfig(cfg.Tools.ServersFile, toolserver.DefaultVars(installRoot, workspace))
	if err != nil {
		return nil, err
	}
	if len(tcfg.Servers) == 0 {
		return nil, nil
	}

	manager := toolserver.NewManager(tcfg, time.Duration(cfg.Tools.CallTimeout)*time.Second)
	ok, tools := manager.DiscoverTools(ctx)
	if !ok {
		for _, name := range tcfg.ServerNames() {
			if status, serr := manager.ServerStatus(name); status == toolserver.StatusFailed {
				fmt.Fprintf(os.Stderr, "Warning: tool server %s failed: %v\n", name, serr)
			}
		}
	}
	fmt.Printf("Tool servers ready: %d tools\n", len(tools))
	return manager, nil
}

func openStore(cfg *config.Config) session.Store {
	if flagNoStore {
		return session.NoopStore{}
	}
	dataDir, err := config.GetDataDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: session persistence disabled: %v\n", err)
		return session.NoopStore{}
	}
	store, err := session.NewSQLiteStore(filepath.Join(dataDir, "sessions.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: session persistence disabled: %v\n", err)
		return session.NoopStore{}
	}
	return store
}

func activeModel(cfg *config.Config) string {
	if cfg.Provider == "local" {
		return cfg.Local.Label
	}
	return cfg.OpenAI.Model
}

// prepareRecord creates the stored session, or loads one for --resume.
func prepareRecord(ctx context.Context, cfg *config.Config, store session.Store, sess *chat.Session) (*session.Session, error) {
	if flagResume != "" {
		record, err := store.Get(ctx, flagResume)
		if err != nil {
			return nil, fmt.Errorf("resume %q: %w", flagResume, err)
		}
		msgs, err := store.Messages(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		if err := sess.LoadHistory(msgs); err != nil {
			return nil, err
		}
		fmt.Printf("Resumed session %s (%d messages)\n", record.ID[:8], len(msgs))
		return record, nil
	}

	record := &session.Session{Provider: cfg.Provider, Model: activeModel(cfg)}
	if err := store.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func repl(ctx context.Context, sess *chat.Session, store session.Store, record *session.Session, notifier *consoleNotifier) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sigCh, stopSignals := signal.Interrupts()
	defer stopSignals()

	persisted := len(sess.Messages())

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := replCommand(line, sess, record); quit {
				return nil
			}
			if len(sess.Messages()) == 0 {
				persisted = 0
			}
			continue
		}

		if record.Summary == "" {
			record.Summary = session.TruncateSummary(line)
		}

		done := make(chan error, 1)
		go func() { done <- sess.SendMessage(ctx, line) }()

	wait:
		for {
			select {
			case <-sigCh:
				sess.CancelRequest()
				fmt.Fprintln(os.Stderr, "\n(cancelled)")
			case <-done:
				// failures were already surfaced through the notifier
				break wait
			}
		}
		notifier.turnDone()

		// Persist whatever the turn appended.
		msgs := sess.Messages()
		for _, m := range msgs[persisted:] {
			if err := store.AppendMessage(ctx, record.ID, m); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to save message: %v\n", err)
				break
			}
		}
		persisted = len(msgs)

		usage := sess.Usage()
		record.UserTurns++
		record.PromptTokens = usage.PromptTokens
		record.CompletionTokens = usage.CompletionTokens
		if err := store.Update(ctx, record); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to update session: %v\n", err)
		}
	}
}

func replCommand(line string, sess *chat.Session, record *session.Session) (quit bool) {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true
	case "/reset":
		sess.ResetChat()
		record.Summary = ""
	case "/usage":
		u := sess.Usage()
		fmt.Printf("requests=%d prompt=%d completion=%d total=%d\n",
			u.Requests, u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	case "/help":
		fmt.Println("/reset   clear the conversation")
		fmt.Println("/usage   show token usage")
		fmt.Println("/quit    leave")
	default:
		fmt.Printf("unknown command %s\n", line)
	}
	return false
}

// consoleNotifier renders streaming output to stdout. It tracks how much of
// each message has been printed so deltas print incrementally.
type consoleNotifier struct {
	showThinking bool

	mu             sync.Mutex
	printedContent map[int]int
	printedReason  map[int]int
}

func (n *consoleNotifier) turnDone() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.printedContent)+len(n.printedReason) > 0 {
		fmt.Println()
	}
	n.printedContent = nil
	n.printedReason = nil
}

func (n *consoleNotifier) MessageAdded(idx int, msg llm.Message) {
	n.MessageUpdated(idx, msg)
}

func (n *consoleNotifier) MessageUpdated(idx int, msg llm.Message) {
	if msg.Role != llm.RoleAssistant {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.printedContent == nil {
		n.printedContent = make(map[int]int)
		n.printedReason = make(map[int]int)
	}
	if n.showThinking && len(msg.Reasoning) > n.printedReason[idx] {
		fmt.Fprint(os.Stderr, msg.Reasoning[n.printedReason[idx]:])
		n.printedReason[idx] = len(msg.Reasoning)
	}
	if len(msg.Content) > n.printedContent[idx] {
		fmt.Print(msg.Content[n.printedContent[idx]:])
		n.printedContent[idx] = len(msg.Content)
	}
}

func (n *consoleNotifier) ChatReset() { fmt.Println("(conversation cleared)") }

func (n *consoleNotifier) ChatError(text string) {
	fmt.Fprintf(os.Stderr, "\nError: %s\n", text)
}

func (n *consoleNotifier) ToolCallStarted(call llm.ToolCall) {
	fmt.Printf("\n⚙ %s(%s)\n", call.Name, call.Arguments)
}

func (n *consoleNotifier) ToolCallFinished(call llm.ToolCall, result toolserver.Result) {
	if result.IsError {
		fmt.Printf("  ✗ %s\n", session.TruncateSummary(result.Content))
		return
	}
	fmt.Printf("  ✓ %s\n", session.TruncateSummary(result.Content))
}

func (n *consoleNotifier) ToolsReady(ok bool, count int) {}

func (n *consoleNotifier) RetryScheduled(attempt int, waitSecs float64) {
	fmt.Fprintf(os.Stderr, "\n(retrying, attempt %d in %.1fs)\n", attempt, waitSecs)
}

func (n *consoleNotifier) SummarizationStarted() {
	fmt.Fprintln(os.Stderr, "(summarizing earlier conversation…)")
}

func (n *consoleNotifier) SummarizationComplete(ok bool) {
	if !ok {
		fmt.Fprintln(os.Stderr, "(summarization failed, keeping full history)")
	}
}

func (n *consoleNotifier) TokenBudgetUpdated(current, max int, pct float64) {}

var _ chat.Notifier = (*consoleNotifier)(nil)
