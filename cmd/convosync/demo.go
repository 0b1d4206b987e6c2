package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/LuminPulse-AI/convosync"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var demoInterval time.Duration

const (
	demoShipper  = "demo-shipper"
	demoCarrier  = "demo-carrier"
	demoCarrier2 = "demo-carrier-2"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the sync engine against an in-memory backend with a simulated counterparty",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		return runDemo(ctx, cmd.OutOrStdout(), logger, demoInterval)
	},
}

// newDemoGateway seeds two conversations for demoShipper.
func newDemoGateway(now time.Time) *convosync.MemoryGateway {
	gw := convosync.NewMemoryGateway()
	gw.SetDisplayName(demoShipper, "Transports Martin")
	gw.SetDisplayName(demoCarrier, "Alex Routier")
	gw.SetDisplayName(demoCarrier2, "Sam Logistique")

	gw.PutConversations(
		convosync.Conversation{
			ID: "conv-lyon", OwnerID: demoShipper, CounterpartyID: demoCarrier,
			MissionID: "mission-lyon-paris", LastActivity: now.Add(-2 * time.Hour),
		},
		convosync.Conversation{
			ID: "conv-nantes", OwnerID: demoShipper, CounterpartyID: demoCarrier2,
			MissionID: "mission-nantes-bordeaux", LastActivity: now.Add(-24 * time.Hour),
		},
	)
	gw.PutMessages(
		convosync.Message{
			ID: "seed-1", ConversationID: "conv-lyon", AuthorID: demoShipper,
			Content: "Bonjour, le véhicule est prêt à partir de lundi.", Kind: convosync.KindText,
			CreatedAt: now.Add(-2*time.Hour - 5*time.Minute),
		},
		convosync.Message{
			ID: "seed-2", ConversationID: "conv-lyon", AuthorID: demoCarrier,
			Content: "Parfait, je regarde mon planning.", Kind: convosync.KindText,
			CreatedAt: now.Add(-2 * time.Hour),
		},
	)
	return gw
}

// demoStep is one scripted action of the simulated counterparties.
type demoStep struct {
	msg  convosync.Message
	self string
}

func demoScript() []demoStep {
	return []demoStep{
		{msg: convosync.Message{
			ConversationID: "conv-lyon", AuthorID: demoCarrier, Kind: convosync.KindPriceQuote,
			Content: "Je peux faire le trajet mardi.", Metadata: convosync.PriceQuoteMetadata{Price: 450},
		}},
		{self: "Un peu élevé, 400 € vous irait ?"},
		{msg: convosync.Message{
			ConversationID: "conv-lyon", AuthorID: demoCarrier, Kind: convosync.KindPriceDispute,
			Content: "Je peux descendre un peu.", Metadata: convosync.PriceDisputeMetadata{OriginalPrice: 450, CounterPrice: 420},
		}},
		{msg: convosync.Message{
			ConversationID: "conv-nantes", AuthorID: demoCarrier2, Kind: convosync.KindText,
			Content: "Toujours disponible pour Bordeaux ?",
		}},
		{msg: convosync.Message{
			ConversationID: "conv-lyon", AuthorID: demoCarrier, Kind: convosync.KindAttachment,
			Metadata: convosync.AttachmentMetadata{URL: "https://files.example.com/pv-livraison.pdf", Name: "pv-livraison.pdf"},
		}},
		{msg: convosync.Message{
			ConversationID: "conv-lyon", AuthorID: demoCarrier, Kind: convosync.KindSystem,
			Content: "Mission acceptée",
		}},
	}
}

// runDemo plays demoScript against an engine selected on conv-lyon and
// returns when the script ends or ctx is cancelled.
func runDemo(ctx context.Context, out io.Writer, logger *zap.Logger, interval time.Duration) error {
	gw := newDemoGateway(time.Now())
	notices := convosync.NewNotices(convosync.DefaultNoticeTTL)
	defer notices.Close()

	engine, err := startWatch(ctx, out, gw, demoShipper, "conv-lyon", logger, convosync.WithNotices(notices))
	if err != nil {
		return err
	}
	defer engine.Unmount()

	for _, step := range demoScript() {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		if step.self != "" {
			engine.Composer().SetText(step.self)
			if _, err := engine.Send(ctx); err != nil {
				logger.Warn("demo send failed", zap.Error(err))
			}
			continue
		}
		if _, err := gw.Publish(step.msg); err != nil {
			return fmt.Errorf("demo publish: %w", err)
		}
	}

	fmt.Fprintln(out)
	printConversations(out, engine.Conversations(), demoShipper)
	return nil
}

func init() {
	demoCmd.Flags().DurationVar(&demoInterval, "interval", time.Second, "Delay between scripted messages")
	rootCmd.AddCommand(demoCmd)
}
