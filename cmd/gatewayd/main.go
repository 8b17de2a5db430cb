// Command gatewayd runs the protocol gateway: it loads a configuration
// file, builds the router/transformer/security/pipeline stack, and
// serves the IP-framed transport and the control-plane HTTP server until
// terminated. No legacy-bus driver is started here.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/halyardsys/protogate/internal/codec/ipframed"
	"github.com/halyardsys/protogate/internal/config"
	"github.com/halyardsys/protogate/internal/keystore"
	"github.com/halyardsys/protogate/internal/keystore/backend/pgaudit"
	"github.com/halyardsys/protogate/internal/keystore/backend/rediskv"
	"github.com/halyardsys/protogate/internal/message"
	"github.com/halyardsys/protogate/internal/protocol"
	"github.com/halyardsys/protogate/internal/logging"
	"github.com/halyardsys/protogate/internal/pipeline"
	"github.com/halyardsys/protogate/internal/router"
	"github.com/halyardsys/protogate/internal/security"
	"github.com/halyardsys/protogate/internal/transformer"
	"github.com/halyardsys/protogate/internal/transport/adminws"
	"github.com/halyardsys/protogate/internal/transport/ipquic"
	apisrv "github.com/halyardsys/protogate/internal/api"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var adminAddr string

	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "Run the avionics-bus/IP-framed protocol gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, adminAddr)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "path to the gateway configuration file")
	root.Flags().StringVar(&adminAddr, "admin-addr", ":8090", "bind address for the control-plane HTTP/WebSocket server")

	root.AddCommand(newValidateCmd(&configPath))
	return root
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration file without starting the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if _, err := cfg.Rules(); err != nil {
				return err
			}
			fmt.Printf("configuration %q is valid: %d translation rules\n", *configPath, len(cfg.TranslationRules))
			return nil
		},
	}
}

func run(configPath, adminAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.General.LogLevel)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.General.Name, level, "")
	if err != nil {
		return err
	}
	defer log.Close()

	store, err := keystore.Open(cfg.Security.KeyStoragePath)
	if err != nil {
		return fmt.Errorf("opening key store: %w", err)
	}

	var cache *rediskv.Cache
	if cfg.Backends.RedisCache.Enabled() {
		cache, err = rediskv.New(context.Background(), rediskv.Config{
			Addr:     cfg.Backends.RedisCache.Address,
			Password: cfg.Backends.RedisCache.Password,
			DB:       cfg.Backends.RedisCache.DB,
			TTL:      time.Duration(cfg.Backends.RedisCache.TTLSecs) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("connecting redis key-metadata cache: %w", err)
		}
		defer cache.Close()
		for _, m := range store.List() {
			if err := cache.PutMetadata(context.Background(), m); err != nil {
				log.Warn("failed to seed key-metadata cache", logging.Fields{"key_id": m.ID, "error": err.Error()})
			}
		}
	}

	var audit *pgaudit.Store
	if cfg.Backends.PostgresAudit.Enabled() {
		audit, err = pgaudit.Open(pgaudit.Config{
			Host:     cfg.Backends.PostgresAudit.Host,
			Port:     cfg.Backends.PostgresAudit.Port,
			User:     cfg.Backends.PostgresAudit.User,
			Password: cfg.Backends.PostgresAudit.Password,
			DBName:   cfg.Backends.PostgresAudit.DBName,
			SSLMode:  cfg.Backends.PostgresAudit.SSLMode,
		})
		if err != nil {
			return fmt.Errorf("connecting postgres key audit log: %w", err)
		}
		defer audit.Close()
	}

	ruleSet, err := cfg.Rules()
	if err != nil {
		return err
	}
	rtr, err := router.New(ruleSet)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	sec := security.New(store)
	reg := transformer.NewRegistry()

	var rotationPeriod time.Duration
	var rotate pipeline.RotationFunc
	if cfg.Security.KeyRotationDays != nil {
		rotationPeriod = time.Duration(*cfg.Security.KeyRotationDays) * 24 * time.Hour
		rotate = func() error {
			keyID := cfg.Security.DefaultEncryptionKey
			if err := store.RotateEncryption(keyID, keyID, "scheduled rotation", cfg.Security.KeyRotationDays, false); err != nil {
				return err
			}
			if audit != nil {
				if err := audit.Record(pgaudit.Event{KeyID: keyID, Action: "rotate", Detail: "scheduled rotation", Timestamp: time.Now()}); err != nil {
					log.Warn("failed to record rotation in audit log", logging.Fields{"key_id": keyID, "error": err.Error()})
				}
			}
			if cache != nil {
				for _, m := range store.ListByType(keystore.Encryption) {
					if m.ID == keyID {
						if err := cache.PutMetadata(context.Background(), m); err != nil {
							log.Warn("failed to refresh key-metadata cache", logging.Fields{"key_id": keyID, "error": err.Error()})
						}
					}
				}
			}
			return nil
		}
	}

	pl := pipeline.New(pipeline.Config{
		Router:         rtr,
		Transformer:    reg,
		Security:       sec,
		DefaultKeyID:   cfg.Security.DefaultEncryptionKey,
		QueueSize:      cfg.General.QueueSize,
		RotationPeriod: rotationPeriod,
		Rotate:         rotate,
	})
	if err := pl.Start(); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}

	feed := adminws.New(pl, rtr, log, 5*time.Second)
	feedStop := make(chan struct{})
	go feed.Run(feedStop)

	httpServer := apisrv.New(adminAddr, store, rtr, pl, feed)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			log.Error("control-plane server stopped", logging.Fields{"error": err.Error()})
		}
	}()

	ipAddr := fmt.Sprintf("%s:%d", cfg.Protocols.IpFramed.BindAddress, cfg.Protocols.IpFramed.Port)
	tlsConfig, err := selfSignedTLSConfig()
	if err != nil {
		return fmt.Errorf("generating transport certificate: %w", err)
	}
	quicSrv, err := ipquic.Listen(ipquic.Config{
		BindAddress:        ipAddr,
		TLSConfig:          tlsConfig,
		IdleTimeout:        time.Duration(cfg.Protocols.IpFramed.IdleTimeoutSecs) * time.Second,
		HandshakeTimeout:   time.Duration(cfg.Protocols.IpFramed.TimeoutSecs) * time.Second,
		MaxIncomingStreams: int64(cfg.General.ResolvedWorkers()),
	}, log)
	if err != nil {
		return fmt.Errorf("starting ip_framed listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	handler := func(hctx context.Context, sessionHandle uint32, pkt *ipframed.Packet) (*ipframed.Packet, error) {
		common := ipframed.ToCommon(pkt, ipframed.PlaceholderAddresses)
		result, err := pl.ProcessMessage(hctx, common)
		if err != nil {
			return nil, err
		}
		if result.Target != protocol.IpFramed {
			// Translated toward the legacy bus; a bus driver consumes
			// result.Secured on its own transport, not this stream.
			return nil, nil
		}
		reply := message.Common{
			SourceProtocol: protocol.IpFramed,
			Payload:        result.Secured.Payload,
			Metadata:       common.Metadata,
		}
		return ipframed.FromCommon(reply)
	}
	go func() {
		if err := quicSrv.Serve(ctx, handler); err != nil {
			log.Error("ip_framed listener stopped", logging.Fields{"error": err.Error()})
		}
	}()

	log.Info("gateway started", logging.Fields{"admin_addr": adminAddr, "ip_framed_addr": ipAddr})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down", nil)
	cancel()
	close(feedStop)
	quicSrv.Close()
	httpServer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return pl.Shutdown(shutdownCtx)
}

// selfSignedTLSConfig generates an ephemeral ECDSA certificate for the
// QUIC listener. Deployments that terminate TLS with a real certificate
// authority are expected to supply cfg-driven credentials instead.
func selfSignedTLSConfig() (*tls.Config, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"protogate"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * 365 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"protogate-ip-framed"},
	}, nil
}
