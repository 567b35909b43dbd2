package main

import (
	"os"

	"github.com/go-i2p/go-datapump/lib/config"
	"github.com/go-i2p/go-datapump/lib/relay"
	"github.com/go-i2p/go-datapump/lib/util"
	"github.com/go-i2p/go-datapump/lib/util/signals"
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetGoI2PLogger()

var rootCmd = &cobra.Command{
	Use:   "datapump",
	Short: "TCP relay built on paired one-way data pumps",
	Long: `datapump accepts TCP connections and relays them full-duplex to a
configured upstream. Each connection runs as a pair of linked one-way
tunnels, so an error or close on either side tears down both directions.`,
	Run: func(cmd *cobra.Command, args []string) {
		runRelay()
	},
}

func init() {
	cobra.OnInitialize(config.InitConfig)

	def := config.DefaultRelayConfig()
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "",
		"config file (default $HOME/.go-datapump/config.yaml)")
	rootCmd.Flags().String("listen", def.Listen, "address to accept clients on")
	rootCmd.Flags().String("upstream", def.Upstream, "host:port to relay to")
	rootCmd.Flags().String("resolver", def.Resolver, "DNS server for upstream resolution (empty: system resolver)")
	rootCmd.Flags().Int("buffer-size", def.BufferSize, "per-direction buffer hint in bytes")
	rootCmd.Flags().Int64("watermark", def.Watermark, "pause reads while this many bytes are unwritten (0: never)")
	rootCmd.Flags().Int("rate-limit", def.RateLimit, "client read bandwidth cap in bytes/sec (0: unlimited)")

	viper.BindPFlag("listen", rootCmd.Flags().Lookup("listen"))
	viper.BindPFlag("upstream", rootCmd.Flags().Lookup("upstream"))
	viper.BindPFlag("resolver", rootCmd.Flags().Lookup("resolver"))
	viper.BindPFlag("buffer_size", rootCmd.Flags().Lookup("buffer-size"))
	viper.BindPFlag("watermark", rootCmd.Flags().Lookup("watermark"))
	viper.BindPFlag("rate_limit", rootCmd.Flags().Lookup("rate-limit"))
}

func runRelay() {
	go signals.Handle()

	cfg := config.NewRelayConfigFromViper()
	srv := relay.NewServer(cfg)
	if err := srv.Start(); err != nil {
		log.WithError(err).Error("failed to start relay")
		os.Exit(1)
	}
	util.RegisterCloser(srv)
	log.WithFields(logger.Fields{
		"listen":   srv.Addr().String(),
		"upstream": cfg.Upstream,
	}).Debug("relay started")

	done := make(chan struct{})
	signals.RegisterReloadHandler(func() {
		if err := viper.ReadInConfig(); err != nil {
			log.WithError(err).Warn("config reload failed")
			return
		}
		log.Debug("config reloaded; listen address changes need a restart")
	})
	// Stop() tears down active relays and waits for them to unwind; running
	// it as the drain phase bounds shutdown by the drain timeout. CloseAll
	// then sweeps anything else registered.
	signals.RegisterDrainHandler(srv.Stop)
	signals.RegisterShutdownHandler(func() {
		util.CloseAll()
		close(done)
	})

	<-done
	signals.StopHandle()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
