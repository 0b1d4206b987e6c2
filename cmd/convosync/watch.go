package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/LuminPulse-AI/convosync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchConversation string
	watchTransport    string
	watchWebhookAddr  string
	watchMetricsAddr  string
)

const shutdownTimeout = 5 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow conversations live until interrupted",
	Long: "Mount the sync engine, optionally select one conversation, and print\n" +
		"new messages, notifications and errors as they arrive.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		transport := watchTransport
		if transport == "" {
			transport = valueOrDefault(s.cfg.Engine.Transport, "ws")
		}

		var gw convosync.Gateway
		var servers []*http.Server

		switch transport {
		case "ws":
			gw = s.client
		case "sse":
			gw = newClient(withTransport(s.cfg, "sse"), s.logger)
		case "webhook":
			src, err := convosync.NewWebhookSource(s.cfg.Engine.WebhookSecret, s.logger)
			if err != nil {
				return fmt.Errorf("webhook transport: %w (set engine.webhook_secret)", err)
			}
			mux := http.NewServeMux()
			mux.Handle("/webhook", src.HTTPHandler())
			servers = append(servers, &http.Server{Addr: watchWebhookAddr, Handler: mux})
			gw = convosync.ComposeGateway(s.client, s.client, src)
		default:
			return fmt.Errorf("unknown transport %q (valid: ws, sse, webhook)", transport)
		}

		opts := []convosync.EngineOption{convosync.WithCallTimeout(s.callTimeout())}
		if watchMetricsAddr != "" {
			reg := prometheus.NewRegistry()
			opts = append(opts, convosync.WithMetrics(convosync.NewMetrics(reg)))
			servers = append(servers, &http.Server{Addr: watchMetricsAddr, Handler: observabilityMux(reg)})
		}

		for _, srv := range servers {
			startServer(srv, s.logger)
		}
		defer shutdownServers(servers, s.logger)

		s.logger.Info("watching",
			zap.String("user_id", s.cfg.Auth.UserID),
			zap.String("transport", transport),
			zap.String("conversation_id", watchConversation),
		)
		return runWatch(ctx, cmd.OutOrStdout(), gw, s.cfg.Auth.UserID, watchConversation, s.logger, opts...)
	},
}

func withTransport(cfg *Config, transport string) *Config {
	c := *cfg
	c.Engine.Transport = transport
	return &c
}

// observabilityMux serves metrics and a liveness check.
func observabilityMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func startServer(srv *http.Server, logger *zap.Logger) {
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}()
}

func shutdownServers(servers []*http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("http server shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
}

// startWatch mounts an engine over gw, prints its events to out and
// selects conversationID when given. The caller must Unmount the engine.
func startWatch(ctx context.Context, out io.Writer, gw convosync.Gateway, userID, conversationID string, logger *zap.Logger, opts ...convosync.EngineOption) (*convosync.Engine, error) {
	view := newWatchView(out, userID)
	opts = append([]convosync.EngineOption{
		convosync.WithLogger(logger),
		convosync.WithNotifier(terminalNotifier{out: view}),
	}, opts...)

	engine := convosync.NewEngine(gw, userID, opts...)
	view.attach(engine)

	if err := engine.Mount(ctx); err != nil {
		if !engine.Mounted() {
			return nil, err
		}
		logger.Warn("initial conversation load failed", zap.Error(err))
	}

	if conversationID != "" {
		if err := engine.Select(ctx, conversationID); err != nil {
			logger.Warn("initial message load failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	} else {
		printConversations(view, engine.Conversations(), userID)
	}
	return engine, nil
}

// runWatch runs startWatch and blocks until ctx is cancelled.
func runWatch(ctx context.Context, out io.Writer, gw convosync.Gateway, userID, conversationID string, logger *zap.Logger, opts ...convosync.EngineOption) error {
	notices := convosync.NewNotices(convosync.DefaultNoticeTTL)
	defer notices.Close()

	opts = append([]convosync.EngineOption{convosync.WithNotices(notices)}, opts...)
	engine, err := startWatch(ctx, out, gw, userID, conversationID, logger, opts...)
	if err != nil {
		return err
	}
	defer engine.Unmount()

	<-ctx.Done()
	return nil
}

// watchView prints engine events to a terminal, one message at most once.
type watchView struct {
	mu      sync.Mutex
	out     io.Writer
	userID  string
	printed map[string]bool
}

func newWatchView(out io.Writer, userID string) *watchView {
	return &watchView{out: out, userID: userID, printed: make(map[string]bool)}
}

func (v *watchView) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.out.Write(p)
}

func (v *watchView) attach(engine *convosync.Engine) {
	engine.On(convosync.EventMessagesUpdated, func(_ convosync.EngineEvent, payload any) {
		msgs, _ := payload.([]convosync.Message)
		v.mu.Lock()
		defer v.mu.Unlock()
		for _, m := range msgs {
			if v.printed[m.ID] {
				continue
			}
			v.printed[m.ID] = true
			printMessage(v.out, m, v.userID)
		}
	})
	engine.On(convosync.EventNotice, func(_ convosync.EngineEvent, payload any) {
		if n, ok := payload.(convosync.Notice); ok {
			fmt.Fprintf(v, "! %s\n", n.Text)
		}
	})
}

// terminalNotifier prints notifications inline.
type terminalNotifier struct {
	out io.Writer
}

func (terminalNotifier) RequestPermission(context.Context) error { return nil }

func (n terminalNotifier) Show(_ context.Context, title, body string) error {
	_, err := fmt.Fprintf(n.out, "🔔 %s: %s\n", title, body)
	return err
}

func init() {
	watchCmd.Flags().StringVar(&watchConversation, "conversation", "", "Conversation to select")
	watchCmd.Flags().StringVar(&watchTransport, "transport", "", "Live transport: ws, sse or webhook (default from config)")
	watchCmd.Flags().StringVar(&watchWebhookAddr, "webhook-addr", ":8090", "Listen address for the webhook transport")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.AddCommand(watchCmd)
}
