package main

import (
	"flag"
	"os"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/docker/libtrust"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/workload-auth/cred/config"
	"github.com/workload-auth/cred/cred"
	jwtsig "github.com/workload-auth/cred/cred/backend/jwt"
	"github.com/workload-auth/cred/pkg/wire"
)

func main() {
	var (
		configFile string
		pkFile     string
		genKey     bool
		debug      bool

		authInfo     string
		launchParams string
	)

	flag.StringVar(&configFile, "config", "", "Configuration file")
	flag.StringVar(&pkFile, "key", "", "Private key file")
	flag.BoolVar(&genKey, "genkey", false, "Generate a new EC private key at -key and exit")
	flag.BoolVar(&debug, "debug", false, "Debug mode")

	flag.StringVar(&authInfo, "authinfo", "", "AuthInfo string (e.g. cred_expire=120)")
	flag.StringVar(&launchParams, "launchparams", "", "LaunchParameters string")

	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	if debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
	}

	if genKey {
		if pkFile == "" {
			logger.Sugar().Fatalf("Must provide -key to generate into")
		}
		key, err := libtrust.GenerateECP256PrivateKey()
		if err != nil {
			logger.Sugar().Fatalf("Error generating private key: %v", err)
		}
		if err := libtrust.SaveKey(pkFile, key); err != nil {
			logger.Sugar().Fatalf("Error saving key file %s: %v", pkFile, err)
		}
		logger.Sugar().Infof("Generated key with id %s", key.KeyID())
		return
	}

	backend, err := buildBackend(configFile, pkFile, logger)
	if err != nil {
		logger.Sugar().Fatalf("Error building backend: %v", err)
	}

	manager, err := cred.NewManager(backend, cred.Options{
		AuthInfo:     authInfo,
		LaunchParams: launchParams,
		Logger:       logger,
	})
	if err != nil {
		logger.Sugar().Fatalf("Error building manager: %v", err)
	}

	if err := selfTest(manager, logger); err != nil {
		logger.Sugar().Fatalf("Self test failed: %v", err)
	}

	logger.Sugar().Infof("Self test passed (expiration window %s)", manager.Expiration())
}

func buildBackend(configFile, pkFile string, logger *zap.Logger) (cred.Backend, error) {
	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}

		var cfg config.Config
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		return cfg.Backend.Config.CreateBackend()
	}

	var key libtrust.PrivateKey
	var err error

	if pkFile == "" {
		key, err = libtrust.GenerateECP256PrivateKey()
		if err != nil {
			return nil, err
		}
		logger.Sugar().Debugf("Using newly generated key with id %s", key.KeyID())
	} else {
		key, err = libtrust.LoadKeyFile(pkFile)
		if err != nil {
			return nil, err
		}
		logger.Sugar().Debugf("Loaded private key with id %s", key.KeyID())
	}

	signer, err := jwtsig.New(key)
	if err != nil {
		return nil, err
	}

	return cred.NewSignerBackend(signer, cred.WithLogger(logger)), nil
}

// selfTest runs a create-pack-unpack-verify-project cycle against the
// active backend with a small synthetic allocation.
func selfTest(manager *cred.Manager, logger *zap.Logger) error {
	jobBitmap := bitset.New(8)
	for i := uint(0); i < 8; i++ {
		jobBitmap.Set(i)
	}

	arg := &cred.Args{
		UID:    uint32(os.Getuid()),
		GID:    uint32(os.Getgid()),
		StepID: cred.StepID{JobID: 1, Step: 0},

		JobHostlist:  "n[1-2]",
		StepHostlist: "n[1-2]",
		JobNHosts:    2,

		SocketsPerNode:   []uint16{1},
		CoresPerSocket:   []uint16{4},
		SockCoreRepCount: []uint32{2},

		JobCoreBitmap:  jobBitmap,
		StepCoreBitmap: jobBitmap.Clone(),

		JobMemAlloc:         []uint64{1024},
		JobMemAllocRepCount: []uint32{2},
	}

	credential, err := manager.Create(arg, true, cred.ProtocolVersion)
	if err != nil {
		return err
	}

	packed := wire.NewBuffer(4096)
	if err := credential.Pack(packed, cred.ProtocolVersion); err != nil {
		return err
	}

	unpacked, err := manager.Unpack(wire.FromBytes(packed.Bytes()), cred.ProtocolVersion)
	if err != nil {
		return err
	}

	if _, err := manager.Verify(unpacked); err != nil {
		return err
	}
	unpacked.Unlock()

	jobCores, stepCores, jobMem, stepMem, err := manager.FormatCoreAllocs(unpacked, "n2", 4)
	if err != nil {
		return err
	}

	logger.Sugar().Infof("n2: job cores %s (mem %d), step cores %s (mem %d), signed at %s",
		jobCores, jobMem, stepCores, stepMem,
		credential.CreateTime().Format(time.RFC3339))

	return nil
}
