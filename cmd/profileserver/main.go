// Command profileserver runs the profile server process: it loads
// configuration, opens the profile store, and drives every component
// (C2-C10) through a fixed-order startup and shutdown sequence until an
// OS signal asks it to stop.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Internet-of-People/iop-profile-server/internal/collaborators"
	"github.com/Internet-of-People/iop-profile-server/internal/config"
	"github.com/Internet-of-People/iop-profile-server/internal/cron"
	"github.com/Internet-of-People/iop-profile-server/internal/fabric"
	"github.com/Internet-of-People/iop-profile-server/internal/images"
	"github.com/Internet-of-People/iop-profile-server/internal/lifecycle"
	"github.com/Internet-of-People/iop-profile-server/internal/metrics"
	"github.com/Internet-of-People/iop-profile-server/internal/neighborhood"
	"github.com/Internet-of-People/iop-profile-server/internal/session"
	"github.com/Internet-of-People/iop-profile-server/internal/store"
	"golang.org/x/time/rate"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var dataDir string

	root := &cobra.Command{
		Use:   "profileserver",
		Short: "Runs and inspects an IoP profile server node",
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "directory holding config.yaml, the profile store, and images")

	root.AddCommand(newRunCommand(&dataDir))
	root.AddCommand(newStatusCommand(&dataDir))
	return root
}

func newRunCommand(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Starts the profile server and blocks until signalled to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *dataDir)
		},
	}
}

func newStatusCommand(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Reports the running server's session count and uptime",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*dataDir)
			if err != nil {
				return err
			}
			baseURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.AdminInterfacePort)
			snap, err := fetchStatus(cmd.Context(), baseURL)
			if err != nil {
				return errors.Wrap(err, "profileserver: fetch status (is the server running?)")
			}
			fmt.Printf("sessions online: %d\nstarted at:      %s\nuptime:          %s\n",
				snap.SessionsOnline, snap.StartedAt, snap.Uptime)
			return nil
		},
	}
}

func buildLogger(testMode bool) (*zap.Logger, error) {
	if testMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runServer wires and runs C2 through C10 in the fixed order spec.md §1
// names, blocking until ctx is cancelled (by an OS signal) or a component
// fails to start.
func runServer(parent context.Context, dataDir string) error {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return errors.Wrap(err, "profileserver: load configuration")
	}

	logger, err := buildLogger(cfg.TestMode)
	if err != nil {
		return errors.Wrap(err, "profileserver: build logger")
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.ImageDataFolder, 0o750); err != nil {
		return errors.Wrap(err, "profileserver: create image data folder")
	}

	// The *DB handle is bootstrap infrastructure: opened before the
	// component Supervisor runs and closed only after Supervisor.Stop
	// returns, so every component's Shutdown can still read or write
	// through it.
	db, err := store.Open(dataDir)
	if err != nil {
		return errors.Wrap(err, "profileserver: open profile store")
	}
	defer db.Close() //nolint:errcheck

	promReg := prometheus.NewRegistry()
	reg := metrics.NewRegistry(promReg)

	// C2's Server Identity is a constructor-time dependency of C10, so it
	// must be resolved before C10 is built, ahead of where the rest of the
	// fixed order runs under the Supervisor. configComponent is still
	// added to the Supervisor below (as a pre-started shim) so its
	// Shutdown still runs in the correct reverse-order slot.
	configComponent := config.NewComponent(cfg, db, logger)
	if err := configComponent.Init(ctx); err != nil {
		return errors.Wrap(err, "profileserver: init configuration store")
	}
	serverIdentity := configComponent.Identity

	profileStore := store.NewProfileStore(db, logger)

	imageFs := afero.NewBasePathFs(afero.NewOsFs(), cfg.ImageDataFolder)
	imageManager := images.NewManager(imageFs, maxThumbnailBytes, logger)
	imagesComponent := images.NewComponent(imageManager, &imageIdentitySource{db: db}, logger)

	rootSignal := lifecycle.New()
	go func() {
		<-ctx.Done()
		rootSignal.Cancel()
	}()

	sessionRegistry := session.NewRegistry()
	handshakeDeps := session.HandshakeDeps{ServerKeyPair: serverIdentity.KeyPair, Registry: sessionRegistry, Metrics: reg}
	dispatcher := session.BuildDispatcher(handshakeDeps)
	session.RegisterRoleHandlers(dispatcher, session.RoleHandlerDeps{
		DB:                   db,
		Metrics:              reg,
		Images:               imageManager,
		Registry:             sessionRegistry,
		MaxHostedIdentities:  cfg.MaxHostedIdentities,
		CancellationCooldown: time.Duration(cfg.CancelledRegistrationCooldownSeconds) * time.Second,
	})
	sessionComponent := session.NewComponent(dispatcher, sessionRegistry, reg, logger)

	fabricTLSConfig, err := tlsConfigForRoles(cfg)
	if err != nil {
		return err
	}

	roles := fabric.Roles(cfg.BindToInterface,
		cfg.PrimaryInterfacePort, cfg.ServerNeighborInterfacePort,
		cfg.ClientNonCustomerInterfacePort, cfg.ClientCustomerInterfacePort, cfg.ClientAppServiceInterfacePort)
	if err := fabric.ValidateSharedPorts(roles); err != nil {
		return errors.Wrap(err, "profileserver: role port configuration")
	}

	listeners := make([]*fabric.Listener, 0, len(roles))
	for _, role := range roles {
		roleTLS := fabricTLSConfig
		if !role.TLS {
			roleTLS = nil
		}
		limiter := rate.NewLimiter(rate.Limit(100), 200)
		listeners = append(listeners, fabric.NewListener(role, roleTLS, sessionComponent, limiter, logger))
	}
	sweeper := fabric.NewKeepAliveSweeper(sessionRegistry, logger)
	fabricComponent := fabric.NewComponent(listeners, sweeper, rootSignal, logger)

	peerClient := neighborhood.NewTCPPeerClient(serverIdentity.KeyPair, clientTLSConfig(), logger)
	lookup := neighborhood.NewStoreLookup(db)
	processor := neighborhood.NewProcessor(db, lookup, peerClient, cfg.NeighborhoodInitializationParallelism, logger).WithMetrics(reg)
	neighborhoodComponent := neighborhood.NewComponent(processor, rootSignal, logger)

	refreshThreshold := time.Duration(cfg.FollowerRefreshTime) * time.Second
	expiryThreshold := time.Duration(cfg.NeighborProfilesExpirationTime) * time.Second
	locClient := collaborators.NewLocClient(cfg.LOCPort)
	tasks := cron.NewTasks(db, imageManager, locClient, refreshThreshold, expiryThreshold)
	cronComponent := cron.NewComponent(tasks, reg, logger)

	collaboratorsComponent := collaborators.NewComponent(cfg, serverIdentity, db, logger)

	supervisor := lifecycle.NewSupervisor()
	supervisor.Add("config", preStarted{shutdown: configComponent.Shutdown})
	supervisor.Add("store", profileStore)
	supervisor.Add("images", imagesComponent)
	supervisor.Add("fabric", fabricComponent)
	supervisor.Add("session", sessionComponent)
	supervisor.Add("search", noopComponent{}) // C7 is a pure query library; nothing to start or stop.
	supervisor.Add("neighborhood", neighborhoodComponent)
	supervisor.Add("cron", cronComponent)
	supervisor.Add("collaborators", collaboratorsComponent)

	if err := supervisor.Start(ctx); err != nil {
		return err
	}

	admin := newAdminServer(net.JoinHostPort(cfg.BindToInterface, fmt.Sprintf("%d", cfg.AdminInterfacePort)), promReg, sessionRegistry, time.Now(), logger)
	go admin.run(logger)

	logger.Info("profile server started")
	<-ctx.Done()
	logger.Info("profile server stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), fabric.ShutdownGrace+5*time.Second)
	defer cancel()

	if err := admin.shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown error", zap.Error(err))
	}
	return supervisor.Stop(shutdownCtx)
}

// preStarted adapts an already-initialized lifecycle.Component (config's,
// whose Init must run before dependent components are constructed) into
// the Supervisor's Component contract without re-running Init.
type preStarted struct {
	shutdown func(context.Context) error
}

func (p preStarted) Init(ctx context.Context) error     { return nil }
func (p preStarted) Shutdown(ctx context.Context) error { return p.shutdown(ctx) }

// noopComponent fills C7's Supervisor slot: internal/search is a stateless
// query library with nothing to start or stop, but keeping its position
// in the fixed order documents that it exists between C6 and C8.
type noopComponent struct{}

func (noopComponent) Init(ctx context.Context) error     { return nil }
func (noopComponent) Shutdown(ctx context.Context) error { return nil }
