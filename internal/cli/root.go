package cli

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/auth"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/broker"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/config"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/orders"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/scrip"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/store"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/stream"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/watchlist"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/pkg/utils"
)

// Version information
const Version = "0.1.0"

// App holds the application dependencies.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Broker     broker.Broker
	Feed       broker.Feed
	Store      *store.SQLiteStore
	Session    *auth.SessionManager
	Resolver   *scrip.Resolver
	Watchlist  *watchlist.Cache
	Gateway    *orders.Gateway
	Dispatcher *stream.Dispatcher
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:     "neotrader",
		Short:   "Terminal trading client for Kotak Neo",
		Version: Version,
		Long: `neotrader is a terminal client for the Kotak Neo brokerage:
two-step TOTP login, a live watchlist over the push feed, order
placement with async tracking, and position P&L.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			paper, _ := cmd.Flags().GetBool("paper")
			return app.initialize(paper || cfg.IsPaperMode())
		},
	}

	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("paper", false, "paper trading mode (simulated broker)")

	rootCmd.AddCommand(
		newLoginCmd(app),
		newLogoutCmd(app),
		newStatusCmd(app),
		newWatchCmd(app),
		newOrderCmd(app),
		newPositionsCmd(app),
		newLimitsCmd(app),
		newScripCmd(app),
	)

	return rootCmd
}

// initialize wires the broker stack. Paper mode swaps in the simulated
// broker and feed but keeps everything above unchanged.
func (a *App) initialize(paper bool) error {
	if a.Broker != nil {
		return nil
	}

	if paper {
		pb := broker.NewPaperBroker(0)
		feed := broker.NewPaperFeed()
		// Route synthetic fills through the feed so they reach the
		// dispatcher like live order updates
		pb.OnOrderUpdate(feed.PushOrderUpdate)
		a.Broker = pb
		a.Feed = feed
		a.Logger.Info().Msg("paper trading mode")
	} else {
		nb, err := broker.NewNeoBroker(broker.NeoConfig{
			ConsumerKey: a.Config.Credentials.ConsumerKey,
			Environment: string(a.Config.Credentials.Environment),
			Logger:      a.Logger,
		})
		if err != nil {
			return err
		}
		a.Broker = nb
		a.Feed = broker.NewNeoFeed(broker.NeoFeedConfig{
			Session: nb.Session,
			Retry: utils.RetryConfig{
				MaxAttempts:   a.Config.Feed.MaxRetries,
				InitialDelay:  msDuration(a.Config.Feed.BaseDelayMS),
				MaxDelay:      msDuration(a.Config.Feed.MaxDelayMS),
				BackoffFactor: a.Config.Feed.BackoffGrowth,
			},
			Logger: a.Logger,
		})
	}

	st, err := store.NewSQLiteStore(config.DefaultConfigDir() + "/neotrader.db")
	if err != nil {
		a.Logger.Warn().Err(err).Msg("store unavailable, persistence disabled")
	} else {
		a.Store = st
	}

	a.Session = auth.NewSessionManager(a.Broker, a.Config.Credentials, a.Logger)
	a.Resolver = scrip.NewResolver(a.Broker, a.Logger)

	var wlStore watchlist.Store
	if a.Store != nil {
		wlStore = a.Store
	}
	a.Watchlist = watchlist.NewCache(a.Feed, a.Broker, wlStore, a.Logger)

	var journal orders.Journal
	if a.Store != nil {
		journal = a.Store
	}
	a.Gateway = orders.NewGateway(a.Broker, journal, a.Watchlist.Quote, a.Logger)

	a.Dispatcher = stream.NewDispatcher(a.Feed, a.Logger)
	a.Dispatcher.RegisterTickApplier(a.Watchlist)
	a.Dispatcher.RegisterOrderApplier(a.Gateway)

	return nil
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
