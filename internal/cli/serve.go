package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zapfluxo/zapfluxo/internal/action"
	"github.com/zapfluxo/zapfluxo/internal/audit"
	"github.com/zapfluxo/zapfluxo/internal/bus"
	"github.com/zapfluxo/zapfluxo/internal/channels"
	"github.com/zapfluxo/zapfluxo/internal/chatstore"
	"github.com/zapfluxo/zapfluxo/internal/config"
	"github.com/zapfluxo/zapfluxo/internal/delegation"
	"github.com/zapfluxo/zapfluxo/internal/httpapi"
	"github.com/zapfluxo/zapfluxo/internal/metrics"
	"github.com/zapfluxo/zapfluxo/internal/pending"
	"github.com/zapfluxo/zapfluxo/internal/router"
	"github.com/zapfluxo/zapfluxo/internal/storage"
	"github.com/zapfluxo/zapfluxo/internal/textgen"
	"github.com/zapfluxo/zapfluxo/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine: channels, expiry sweeper, and admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// delegatorAdapter narrows the delegation registry to what the action
// runner needs.
type delegatorAdapter struct {
	reg *delegation.Registry
}

func (d *delegatorAdapter) NextAgent(ctx context.Context) (*action.Agent, error) {
	a, err := d.reg.NextAgent(ctx)
	if err != nil || a == nil {
		return nil, err
	}
	return &action.Agent{ID: a.ID, Name: a.Name}, nil
}

func (d *delegatorAdapter) AssignChat(ctx context.Context, chatID, agentID string) error {
	_, err := d.reg.AssignChat(ctx, chatID, agentID)
	return err
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.Paths.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	auditLog, err := audit.NewLog(db)
	if err != nil {
		return err
	}
	reg := metrics.New()

	chats, err := chatstore.NewStore(db)
	if err != nil {
		return err
	}
	agents, err := delegation.NewRegistry(db)
	if err != nil {
		return err
	}

	runner := &action.Runner{
		Tags:     chats,
		Forwards: chats,
		Funnels:  chats,
		Statuses: chats,
		Tools:    tools.DefaultRegistry(),
		Agents:   &delegatorAdapter{reg: agents},
		Audit:    auditLog,
		Metrics:  reg,
	}

	var resolver router.Resolver
	if cfg.OpenAI.APIKey != "" {
		gen := textgen.New(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
		runner.TextGen = gen
		resolver = router.NewAssistantResolver(gen)
	}

	store, err := pending.NewStore(db, runner, auditLog, reg, cfg.PendingTTL())
	if err != nil {
		return err
	}

	messageBus := bus.NewMessageBus()
	notify := func(chatID, message string) error {
		messageBus.PublishOutbound(&bus.OutboundMessage{
			Channel: "whatsapp",
			ChatID:  chatID,
			Content: message,
		})
		return nil
	}

	cleaner := pending.NewCleaner(store)
	if cfg.Cleanup.KafkaBrokers != "" {
		kcfg := pending.KafkaConfig{
			Brokers:       cfg.Cleanup.KafkaBrokers,
			Topic:         cfg.Cleanup.KafkaTopic,
			ConsumerGroup: cfg.Cleanup.ConsumerGroup,
		}
		stopSweep, err := cleaner.StartDistributed(ctx, kcfg, cfg.CleanupInterval(), notify)
		if err != nil {
			slog.Warn("kafka unreachable, falling back to local sweep timer", "error", err)
			stopSweep = cleaner.StartPeriodic(cfg.CleanupInterval(), notify)
		}
		defer stopSweep()
	} else {
		stopSweep := cleaner.StartPeriodic(cfg.CleanupInterval(), notify)
		defer stopSweep()
	}

	allChannels := []channels.Channel{
		channels.NewWhatsAppChannel(cfg.Channels.WhatsApp, messageBus),
		channels.NewSlackChannel(cfg.Channels.Slack, messageBus),
	}
	for _, ch := range allChannels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s channel: %w", ch.Name(), err)
		}
	}
	defer func() {
		for _, ch := range allChannels {
			_ = ch.Stop()
		}
	}()

	go messageBus.DispatchOutbound(ctx)

	rt := &router.Router{
		Pending:  store,
		Agents:   agents,
		Resolver: resolver,
		TTL:      cfg.PendingTTL(),
	}
	go rt.Run(ctx, messageBus)

	api := &httpapi.Server{
		Pending: store,
		Agents:  agents,
		Audit:   auditLog,
		Metrics: reg,
	}

	color.Green("zapfluxo %s up, api on %s", version, cfg.HTTP.Addr)
	return api.ListenAndServe(ctx, cfg.HTTP.Addr)
}
