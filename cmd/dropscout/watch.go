package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropscout/dropscout/internal/helix"
	"github.com/dropscout/dropscout/internal/model"
	"github.com/dropscout/dropscout/internal/notify"
	"github.com/dropscout/dropscout/internal/server"
	"github.com/dropscout/dropscout/internal/tracker"
	"github.com/dropscout/dropscout/internal/userwatch"
)

// refreshTick is how often the daemon nudges the tracker per watched
// game. The tracker's own freshness window decides whether a nudge
// actually hits the network.
const refreshTick = 10 * time.Second

func newWatchCmd() *cobra.Command {
	var games []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the live channel tracker and user event watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(games) == 0 {
				games = cfg.Games
			}
			if len(games) == 0 {
				return errors.New("no games to watch (use --game or the games config key)")
			}
			return runWatch(cmd.Context(), games)
		},
	}

	cmd.Flags().StringArrayVarP(&games, "game", "g", nil, "game to watch (repeatable)")
	return cmd
}

func runWatch(ctx context.Context, games []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	client := helix.NewClient(
		cfg.Twitch.APIURL,
		cfg.Twitch.AuthURL,
		cfg.Twitch.ClientID,
		cfg.Twitch.Token,
		cfg.Twitch.RatePerSecond,
		cfg.Twitch.Timeout(),
		cfg.Twitch.RetryDelay(),
		cfg.Twitch.RetryCount,
		logger,
	)

	notifier := notify.New(cfg.Notify, logger)

	trk := tracker.New(client, tracker.Options{
		Mode:                           cfg.Tracker.Mode,
		PubSubURL:                      cfg.Twitch.PubSubURL,
		AuthToken:                      cfg.Twitch.Token,
		MaxSockets:                     cfg.Tracker.MaxSockets,
		MaxTrackedTopics:               cfg.Tracker.MaxTrackedTopics,
		RefreshInterval:                time.Duration(cfg.Tracker.RefreshSec) * time.Second,
		FallbackRefreshInterval:        time.Duration(cfg.Tracker.FallbackRefreshSec) * time.Second,
		FallbackAfterReconnectAttempts: cfg.Tracker.FallbackAfterReconnectAttempts,
		FallbackCooldown:               time.Duration(cfg.Tracker.FallbackCooldownMin) * time.Minute,
		OfflineGrace:                   time.Duration(cfg.Tracker.OfflineGraceMin) * time.Minute,
		FallbackHook: func(until time.Time) {
			notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer notifyCancel()
			_ = notifier.SendFallback(notifyCtx, until)
		},
	}, logger)
	defer trk.Close()

	unsubscribe := trk.OnDiff(func(ev model.DiffEvent) {
		logger.Info("channel diff",
			zap.String("game", ev.Game),
			zap.String("source", string(ev.Source)),
			zap.String("reason", string(ev.Reason)),
			zap.Int("added", len(ev.Added)),
			zap.Int("removed", len(ev.RemovedIDs)),
			zap.Int("updated", len(ev.Updated)),
		)
	})
	defer unsubscribe()

	if cfg.Watcher.Enabled {
		watcher := userwatch.New(
			func(authCtx context.Context) (string, string, error) {
				ident, token, err := client.ValidateToken(authCtx)
				if err != nil {
					return "", "", err
				}
				return ident.UserID, token, nil
			},
			userwatch.Options{
				PubSubURL:                cfg.Twitch.PubSubURL,
				AuthSyncInterval:         time.Duration(cfg.Watcher.AuthSyncSec) * time.Second,
				AllowedNotificationTypes: cfg.Watcher.AllowedNotificationTypes,
			},
			logger,
		)
		defer watcher.Close()

		unsubEvents := watcher.OnEvent(func(ev model.UserEvent) {
			logger.Info("user event",
				zap.String("kind", string(ev.Kind)),
				zap.String("drop", ev.DropID),
				zap.Int("progress", ev.CurrentProgressMin),
				zap.Int("required", ev.RequiredProgressMin),
			)
			if ev.Kind == model.EventDropClaim {
				notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer notifyCancel()
				_ = notifier.SendDropClaim(notifyCtx, ev)
			}
		})
		defer unsubEvents()

		watcher.Start()
	}

	var srv *http.Server
	if cfg.Server.Enabled {
		srv = &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: server.NewRouter(trk, logger),
		}
		go func() {
			logger.Info("debug server listening", zap.String("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("debug server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("watch started",
		zap.Strings("games", games),
		zap.String("mode", cfg.Tracker.Mode),
	)

	refreshAll(ctx, trk, games)

	ticker := time.NewTicker(refreshTick)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
			shutdownServer(srv)
			return nil

		case <-ticker.C:
			refreshAll(ctx, trk, games)

		case <-ctx.Done():
			shutdownServer(srv)
			return nil
		}
	}
}

func refreshAll(ctx context.Context, trk *tracker.Tracker, games []string) {
	for _, game := range games {
		if ctx.Err() != nil {
			return
		}
		if _, err := trk.GetChannelsForGame(ctx, game); err != nil {
			logger.Warn("refresh failed", zap.String("game", game), zap.Error(err))
		}
	}
}

func shutdownServer(srv *http.Server) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("debug server shutdown failed", zap.Error(err))
	}
}
