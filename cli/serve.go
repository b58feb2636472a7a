package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/smallnest/releasedash/audit"
	"github.com/smallnest/releasedash/bus"
	"github.com/smallnest/releasedash/config"
	"github.com/smallnest/releasedash/gateway"
	"github.com/smallnest/releasedash/internal/lifetime"
	"github.com/smallnest/releasedash/internal/logger"
	"github.com/smallnest/releasedash/notify"
	"github.com/smallnest/releasedash/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const eventBufferSize = 256

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Override gateway.host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override gateway.port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Gateway.Host = serveHost
	}
	if servePort != 0 {
		cfg.Gateway.Port = servePort
	}

	client, err := newDevopsClient(cfg)
	if err != nil {
		return err
	}

	addr := gatewayConfig(cfg).Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	lt := lifetime.New()
	sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	go func() {
		select {
		case <-sigCtx.Done():
			logger.Info("Received shutdown signal")
			lt.StopApplication(nil)
		case <-lt.ApplicationStopping().Done():
		}
	}()

	return serve(lt, cfg, client, ln)
}

// serve runs the worker, the gateway on ln and the optional notifier and
// audit consumers until lt starts stopping or the worker hits a fatal error.
// It marks lt stopped before returning.
func serve(lt *lifetime.Lifetime, cfg *config.Config, backend worker.Backend, ln net.Listener) error {
	var notifier *notify.SlackNotifier
	if cfg.Notify.Slack.Enabled {
		n, err := notify.NewSlackNotifier(slackConfig(cfg))
		if err != nil {
			ln.Close()
			return err
		}
		notifier = n
	}

	var store *audit.Store
	if cfg.Audit.Enabled {
		s, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			ln.Close()
			return err
		}
		defer s.Close()
		store = s
	}

	events := bus.NewEventBus(eventBufferSize)
	w := worker.New(backend, lt, events)
	proxy := worker.NewProxy(w, lt)

	opts := gateway.Options{
		Query:   proxy,
		Command: proxy,
		Status:  w,
		Events:  events,
	}

	var g errgroup.Group

	if store != nil {
		opts.Audit = store
		sub := events.Subscribe(eventBufferSize)
		g.Go(func() error { return store.Consume(context.Background(), sub) })
		logger.Info("Audit log enabled", zap.String("path", cfg.Audit.Path))
	}
	if notifier != nil {
		sub := events.Subscribe(eventBufferSize)
		g.Go(func() error { return notifier.Run(context.Background(), sub) })
	}

	server := gateway.NewServer(gatewayConfig(cfg), gateway.NewHandler(opts))
	stopping := lt.ApplicationStopping()

	g.Go(func() error {
		return w.Run(stopping)
	})
	g.Go(func() error {
		if err := server.ServeListener(stopping, ln); err != nil {
			lt.StopApplication(err)
			return err
		}
		return nil
	})
	// The bus closes only after the worker has published its last event, so
	// that consumers see worker.stopped before their subscription ends.
	g.Go(func() error {
		<-stopping.Done()
		<-w.Done()
		return events.Close()
	})

	logger.Info("releasedash started",
		zap.String("version", Version),
		zap.String("addr", ln.Addr().String()))

	err := g.Wait()
	lt.NotifyStopped()

	if err != nil {
		logger.Error("releasedash stopped with error", zap.Error(err))
		return err
	}
	logger.Info("releasedash stopped")
	return nil
}
