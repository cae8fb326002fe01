package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	txqueue "github.com/0xPolygonHermez/zkevm-txqueue"
	"github.com/0xPolygonHermez/zkevm-txqueue/chain"
	"github.com/0xPolygonHermez/zkevm-txqueue/circuitbreaker"
	"github.com/0xPolygonHermez/zkevm-txqueue/config"
	"github.com/0xPolygonHermez/zkevm-txqueue/db"
	"github.com/0xPolygonHermez/zkevm-txqueue/event"
	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/metrics"
	"github.com/0xPolygonHermez/zkevm-txqueue/monitor"
	"github.com/0xPolygonHermez/zkevm-txqueue/pool"
	"github.com/0xPolygonHermez/zkevm-txqueue/recovery"
	"github.com/0xPolygonHermez/zkevm-txqueue/scheduler"
	"github.com/0xPolygonHermez/zkevm-txqueue/sender"
	"github.com/0xPolygonHermez/zkevm-txqueue/server"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/benbjohnson/clock"
	"github.com/fatih/color"
	"github.com/invopop/jsonschema"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

const (
	appName         = "zkevm-txqueue"
	summaryInterval = 30 * time.Second
)

var (
	configFileFlag = cli.StringFlag{
		Name:     config.FlagCfg,
		Aliases:  []string{"c"},
		Usage:    "Configuration `FILE`",
		Required: false,
	}
	envFileFlag = cli.StringFlag{
		Name:     config.FlagEnv,
		Aliases:  []string{"e"},
		Usage:    "Env `FILE` with ZKEVM_TXQUEUE_ vars overriding the configuration",
		Required: false,
	}
	migrationsFlag = cli.BoolFlag{
		Name:     config.FlagNoMigrations,
		Aliases:  []string{"n"},
		Usage:    "Disable run migrations in pool database",
		Required: false,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = "zkEVM transaction queue and failure recovery"
	app.Version = txqueue.Version
	flags := []cli.Flag{&configFileFlag, &envFileFlag}
	app.Commands = []*cli.Command{
		{
			Name:    "version",
			Aliases: []string{},
			Usage:   "Application version and build",
			Action:  versionCmd,
		},
		{
			Name:    "run",
			Aliases: []string{},
			Usage:   "Run the tx queue",
			Action:  start,
			Flags:   append(flags, &migrationsFlag),
		},
		{
			Name:    "dumpconfig",
			Aliases: []string{},
			Usage:   "Print the effective configuration",
			Action:  dumpConfigCmd,
			Flags:   flags,
		},
		{
			Name:    "schema",
			Aliases: []string{},
			Usage:   "Print the JSON schema of the configuration",
			Action:  schemaCmd,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr)
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		os.Exit(1)
	}
}

func start(cliCtx *cli.Context) error {
	// Load config file
	c, err := config.Load(cliCtx)
	if err != nil {
		return err
	}

	// Setup logger
	log.Init(c.Log)
	if c.Log.Environment == log.EnvironmentDevelopment {
		txqueue.PrintVersion(os.Stdout)
		log.Info("starting application...")
	} else if c.Log.Environment == log.EnvironmentProduction {
		logVersion()
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	clk := clock.New()
	bus := event.NewBus()

	var stopFuncs []func()
	stopFuncs = append(stopFuncs, cancel, bus.Close)

	var poolDB *db.PoolDB
	if c.DB.Enabled {
		// Run migrations if the 'no-migrations' flag is not set
		if !cliCtx.Bool(config.FlagNoMigrations) {
			log.Infof("running database migrations, host: %s:%s, db: %s, user: %s", c.DB.Host, c.DB.Port, c.DB.Name, c.DB.User)
			runPoolMigrations(c.DB)
		}
		checkPoolMigrations(c.DB)

		poolDB, err = db.NewPoolDB(c.DB)
		if err != nil {
			log.Fatalf("error when creating pool DB instance, error: %v", err)
		}
		stopFuncs = append(stopFuncs, poolDB.Close)
	} else {
		log.Warn("pool db disabled, the queue is kept in memory only")
	}

	client, err := chain.NewClient(ctx, c.Chain)
	if err != nil {
		log.Fatalf("error connecting to the networks, error: %v", err)
	}
	stopFuncs = append(stopFuncs, client.Close)

	signer, err := chain.NewKeySignerFromKeystores(client, c.Chain.Keystores)
	if err != nil {
		log.Fatalf("error loading the signing keys, error: %v", err)
	}
	for _, address := range signer.Addresses() {
		log.Infof("signing txs of address %s", address.Hex())
	}

	breakers := circuitbreaker.NewRegistry(c.CircuitBreaker, clk)

	// the db is passed only when enabled, a nil *db.PoolDB is not a nil interface
	var txPool *pool.Pool
	var executor *recovery.Executor
	if poolDB != nil {
		txPool = pool.NewPool(clk, bus, poolDB)
		executor = recovery.NewExecutor(c.Recovery, clk, txPool, client, bus, poolDB)
	} else {
		txPool = pool.NewPool(clk, bus, nil)
		executor = recovery.NewExecutor(c.Recovery, clk, txPool, client, bus, nil)
	}

	if err := executor.Start(ctx); err != nil {
		log.Fatalf("error starting the recovery executor, error: %v", err)
	}

	nonceTracker := sender.NewNonceTracker()
	txMonitor := monitor.NewMonitor(c.Monitor, clk, txPool, client, executor, breakers, nonceTracker)
	txMonitor.Start(ctx)

	txSender := sender.NewSender(c.Sender, clk, txPool, signer, client, client, nonceTracker, txMonitor, executor, breakers)
	txSender.Start(ctx)

	submitted, err := txPool.Restore(ctx)
	if err != nil {
		log.Fatalf("error restoring the queue from the pool db, error: %v", err)
	}
	txMonitor.WatchAll(submitted)

	txScheduler := scheduler.NewScheduler(c.Scheduler, clk, txPool, txSender, breakers)
	txScheduler.Start(ctx)

	rpcServer := server.NewServer(c.Server, txPool, executor, bus)
	go func() {
		if err := rpcServer.Start(); err != nil {
			log.Fatal(err)
		}
	}()

	stopFuncs = append(stopFuncs,
		func() {
			if err := rpcServer.Stop(); err != nil {
				log.Errorf("error stopping the server, error: %v", err)
			}
		},
		txScheduler.Stop, txSender.Stop, txMonitor.Stop, executor.Stop,
	)

	if c.Metrics.Enabled {
		go startMetricsHttpServer(c.Metrics)
	}

	if c.Metrics.ProfilingEnabled {
		go startProfilingHttpServer(c.Metrics)
	}

	go func() {
		ticker := time.NewTicker(summaryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Infof("Exiting loop...")
				return
			case <-ticker.C:
				logSummary(txPool, txMonitor, breakers)
			}
		}
	}()

	waitSignal(stopFuncs)

	return nil
}

func logSummary(txPool *pool.Pool, txMonitor *monitor.Monitor, breakers *circuitbreaker.Registry) {
	stats := txPool.Stats()
	for status, count := range stats.ByStatus {
		metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(count))
	}
	metrics.InFlight.Set(float64(stats.InFlight))

	log.Infow("queue summary",
		"total", stats.Total,
		"queued", stats.ByStatus[types.TxStatusQueued],
		"inFlight", stats.InFlight,
		"watching", txMonitor.Watching(),
		"successRate", stats.SuccessRate,
		"avgConfirmation", stats.AverageConfirmationTime.String(),
	)
	for _, state := range breakers.States() {
		if state.Open {
			log.Warnf("circuit breaker of chain %d open since %v after %d failures", state.ChainID, state.TripTime, state.FailureCount)
		}
	}
}

func versionCmd(*cli.Context) error {
	txqueue.PrintVersion(os.Stdout)
	return nil
}

func dumpConfigCmd(cliCtx *cli.Context) error {
	c, err := config.Load(cliCtx)
	if err != nil {
		return err
	}
	return printJSON(c)
}

func schemaCmd(*cli.Context) error {
	r := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := r.Reflect(&config.Config{})
	schema.Title = appName + " config file"
	return printJSON(schema)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runPoolMigrations(c db.Config) {
	log.Infof("running database migrations for %v", db.PoolMigrationName)
	err := db.RunMigrationsUp(c, db.PoolMigrationName)
	if err != nil {
		log.Fatal(err)
	}
}

func checkPoolMigrations(c db.Config) {
	err := db.CheckMigrations(c, db.PoolMigrationName)
	if err != nil {
		log.Fatal(err)
	}
}

func waitSignal(stopFuncs []func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	for sig := range signals {
		switch sig {
		case os.Interrupt, syscall.SIGTERM:
			log.Info("terminating application gracefully...")

			exitStatus := 0
			// stop in reverse order of creation
			for i := len(stopFuncs) - 1; i >= 0; i-- {
				stopFuncs[i]()
			}
			os.Exit(exitStatus)
		}
	}
}

func logVersion() {
	log.Infow(
		// node version is already logged by default
		"Git revision", txqueue.GitRev,
		"Git branch", txqueue.GitBranch,
		"Go version", runtime.Version(),
		"Built", txqueue.BuildDate,
		"OS/Arch", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	)
}

func startProfilingHttpServer(c metrics.Config) {
	const two = 2
	mux := http.NewServeMux()
	address := fmt.Sprintf("%s:%d", c.ProfilingHost, c.ProfilingPort)
	lis, err := net.Listen("tcp", address)
	if err != nil {
		log.Errorf("failed to create tcp listener for profiling: %v", err)
		return
	}
	mux.HandleFunc(metrics.ProfilingIndexEndpoint, pprof.Index)
	mux.HandleFunc(metrics.ProfileEndpoint, pprof.Profile)
	mux.HandleFunc(metrics.ProfilingCmdEndpoint, pprof.Cmdline)
	mux.HandleFunc(metrics.ProfilingSymbolEndpoint, pprof.Symbol)
	mux.HandleFunc(metrics.ProfilingTraceEndpoint, pprof.Trace)
	profilingServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: two * time.Minute,
		ReadTimeout:       two * time.Minute,
	}
	log.Infof("profiling server listening on port %d", c.ProfilingPort)
	if err := profilingServer.Serve(lis); err != nil {
		if err == http.ErrServerClosed {
			log.Warnf("http server for profiling stopped")
			return
		}
		log.Errorf("closed http connection for profiling server: %v", err)
		return
	}
}

func startMetricsHttpServer(c metrics.Config) {
	const ten = 10
	mux := http.NewServeMux()
	address := fmt.Sprintf("%s:%d", c.Host, c.Port)
	lis, err := net.Listen("tcp", address)
	if err != nil {
		log.Errorf("failed to create tcp listener for metrics: %v", err)
		return
	}
	mux.Handle(metrics.Endpoint, promhttp.Handler())

	metricsServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: ten * time.Second,
		ReadTimeout:       ten * time.Second,
	}
	log.Infof("metrics server listening on port %d", c.Port)
	if err := metricsServer.Serve(lis); err != nil {
		if err == http.ErrServerClosed {
			log.Warnf("http server for metrics stopped")
			return
		}
		log.Errorf("closed http connection for metrics server: %v", err)
		return
	}
}
