package cmd

import (
	"context"
	gocrypto "crypto"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ainvaltin/httpsrv"
	"github.com/matrix-magiq/qvalidator/correction"
	"github.com/matrix-magiq/qvalidator/events"
	"github.com/matrix-magiq/qvalidator/jam"
	"github.com/matrix-magiq/qvalidator/keyvaluedb"
	"github.com/matrix-magiq/qvalidator/keyvaluedb/boltdb"
	"github.com/matrix-magiq/qvalidator/keyvaluedb/leveldb"
	"github.com/matrix-magiq/qvalidator/keyvaluedb/memorydb"
	"github.com/matrix-magiq/qvalidator/ledger"
	"github.com/matrix-magiq/qvalidator/logger"
	"github.com/matrix-magiq/qvalidator/observability"
	"github.com/matrix-magiq/qvalidator/rpc"
	"github.com/matrix-magiq/qvalidator/session"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/matrix-magiq/qvalidator/validators"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	nodeHomeDir        = "node"
	boltStoreFileName  = "qvalidator.db"
	levelStoreDirName  = "leveldb"
	defaultNodeAddress = "localhost:9654"

	storeBolt   = "bolt"
	storeLevel  = "leveldb"
	storeMemory = "memory"

	hashBlake2b = "blake2b-256"
	hashSHA256  = "sha256"
)

var log = logger.CreateForPackage()

type nodeConfig struct {
	Base *baseConfiguration

	Address             string
	MaxBodySize         int64
	StoreType           string
	DbFile              string
	BlockInterval       time.Duration
	InitialHeight       uint64
	Quorum              string
	MaxValidators       int
	MaxPayloadSize      int
	MaxQuantumStateSize int
	MaxPublicKeySize    int
	MinStake            string
	HashAlgorithm       string
	Admins              []string
}

func newNodeCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &nodeConfig{Base: baseConfig}
	var nodeCmd = &cobra.Command{
		Use:   "node",
		Short: "Runs the JAM coordinator node",
		Long: `Runs the JAM coordinator node: produces blocks at fixed interval, accepts
cross-chain operations and validator votes over the REST API`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), config)
		},
	}
	nodeCmd.Flags().StringVar(&config.Address, "address", defaultNodeAddress, "address the REST API server listens on")
	nodeCmd.Flags().Int64Var(&config.MaxBodySize, "max-body-size", rpc.DefaultMaxBodySize, "maximum size of the request body in bytes")
	nodeCmd.Flags().StringVar(&config.StoreType, "store", storeBolt, fmt.Sprintf("storage backend, one of: %s, %s, %s", storeBolt, storeLevel, storeMemory))
	nodeCmd.Flags().StringVarP(&config.DbFile, "db", "f", "", fmt.Sprintf("path to the database (default: $QV_HOME/%s/%s or $QV_HOME/%s/%s for leveldb)", nodeHomeDir, boltStoreFileName, nodeHomeDir, levelStoreDirName))
	nodeCmd.Flags().DurationVar(&config.BlockInterval, "block-interval", 2*time.Second, "block production interval")
	nodeCmd.Flags().Uint64Var(&config.InitialHeight, "initial-height", 1, "block height to start from when the database has none")
	nodeCmd.Flags().StringVar(&config.Quorum, "quorum", session.DefaultQuorum.String(), "fraction of active validators required to finalize an operation")
	nodeCmd.Flags().IntVar(&config.MaxValidators, "max-validators", session.DefaultMaxValidatorsPerOperation, "maximum number of attestations per operation")
	nodeCmd.Flags().IntVar(&config.MaxPayloadSize, "max-payload-size", jam.DefaultMaxPayloadSize, "maximum size of the operation payload in bytes")
	nodeCmd.Flags().IntVar(&config.MaxQuantumStateSize, "max-quantum-state-size", correction.DefaultMaxQuantumStateSize, "maximum size of the payload accepted by the quantum correction stage")
	nodeCmd.Flags().IntVar(&config.MaxPublicKeySize, "max-public-key-size", validators.DefaultMaxPublicKeySize, "maximum size of the validator public key in bytes")
	nodeCmd.Flags().StringVar(&config.MinStake, "min-stake", "1", "minimum stake of the validator")
	nodeCmd.Flags().StringVar(&config.HashAlgorithm, "hash", hashBlake2b, fmt.Sprintf("hash algorithm, one of: %s, %s", hashBlake2b, hashSHA256))
	nodeCmd.Flags().StringSliceVar(&config.Admins, "admin", nil, "account id allowed to slash validators, can be repeated")
	return nodeCmd
}

func (c *nodeConfig) hashAlgorithm() (gocrypto.Hash, error) {
	switch c.HashAlgorithm {
	case hashBlake2b:
		return gocrypto.BLAKE2b_256, nil
	case hashSHA256:
		return gocrypto.SHA256, nil
	default:
		return 0, fmt.Errorf("unsupported hash algorithm %q", c.HashAlgorithm)
	}
}

func (c *nodeConfig) openStore() (keyvaluedb.KeyValueDB, error) {
	dbPath := func(name string) (string, error) {
		if c.DbFile != "" {
			return c.DbFile, nil
		}
		dir := filepath.Join(c.Base.HomeDir, nodeHomeDir)
		if err := os.MkdirAll(dir, 0700); err != nil { // -rwx------
			return "", err
		}
		return filepath.Join(dir, name), nil
	}

	switch c.StoreType {
	case storeBolt:
		file, err := dbPath(boltStoreFileName)
		if err != nil {
			return nil, err
		}
		return boltdb.New(file)
	case storeLevel:
		dir, err := dbPath(levelStoreDirName)
		if err != nil {
			return nil, err
		}
		return leveldb.New(dir)
	case storeMemory:
		return memorydb.New(), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", c.StoreType)
	}
}

func (c *nodeConfig) admins() ([]types.AccountID, error) {
	var ids []types.AccountID
	for _, s := range c.Admins {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, errors.New("admin account id is empty")
		}
		ids = append(ids, types.AccountID(s))
	}
	return ids, nil
}

func (c *nodeConfig) coordinatorOptions(metrics *observability.Metrics, bus *events.Bus) ([]jam.Option, error) {
	quorum, err := session.ParseQuorum(c.Quorum)
	if err != nil {
		return nil, err
	}
	minStake, err := types.ParseStake(c.MinStake)
	if err != nil {
		return nil, fmt.Errorf("invalid min stake %q: %w", c.MinStake, err)
	}
	hashAlgorithm, err := c.hashAlgorithm()
	if err != nil {
		return nil, err
	}
	pipeline := correction.New(
		correction.WithMaxQuantumStateSize(c.MaxQuantumStateSize),
		correction.WithObserver(metrics.CorrectionObserver()),
	)
	return []jam.Option{
		jam.WithHashAlgorithm(hashAlgorithm),
		jam.WithQuorum(quorum),
		jam.WithMaxValidatorsPerOperation(c.MaxValidators),
		jam.WithMaxPayloadSize(c.MaxPayloadSize),
		jam.WithMaxPublicKeySize(c.MaxPublicKeySize),
		jam.WithMinStake(minStake),
		jam.WithPipeline(pipeline),
		jam.WithEmitter(events.Multi(metrics.Emitter(), events.Logging(log), bus)),
	}, nil
}

func runNode(ctx context.Context, config *nodeConfig) (rErr error) {
	metrics := observability.NewMetrics()
	bus := events.NewBus()
	defer bus.Close()
	opts, err := config.coordinatorOptions(metrics, bus)
	if err != nil {
		return fmt.Errorf("invalid node configuration: %w", err)
	}
	admins, err := config.admins()
	if err != nil {
		return fmt.Errorf("invalid node configuration: %w", err)
	}
	db, err := config.openStore()
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", config.StoreType, err)
	}
	defer func() { rErr = errors.Join(rErr, db.Close()) }()

	counter, err := ledger.NewCounter(db, config.InitialHeight)
	if err != nil {
		return err
	}
	metrics.SetBlockHeight(counter.Height())
	producer, err := ledger.NewProducer(counter, config.BlockInterval, ledger.WithOnBlock(metrics.SetBlockHeight))
	if err != nil {
		return err
	}
	coordinator, err := jam.NewCoordinator(db, counter.Height, opts...)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return producer.Run(ctx) })

	// ends the event streams so that the server can shut down
	g.Go(func() error {
		<-ctx.Done()
		bus.Close()
		return nil
	})

	g.Go(func() error {
		server := http.Server{
			Addr:              config.Address,
			Handler:           rpc.NewRESTHandler(config.MaxBodySize, metrics, rpc.NewJamAPI(coordinator, admins...), rpc.NewEventsAPI(bus), rpc.MetricsEndpoints(metrics)),
			ReadTimeout:       3 * time.Second,
			ReadHeaderTimeout: time.Second,
			WriteTimeout:      5 * time.Second,
			IdleTimeout:       30 * time.Second,
		}
		logger.SetContext(logger.KeyNode, config.Address)
		defer logger.ClearContext(logger.KeyNode)
		log.Info("REST API server starting, quorum %s, %d admin(s)", config.Quorum, len(admins))
		return httpsrv.Run(ctx, server, httpsrv.ShutdownTimeout(5*time.Second))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("node stopped at block %d", counter.Height())
	return nil
}
