// Command biokey-sim runs one controller request against the software
// platform and prints the response as JSON.
//
// The user side of the challenge is scripted:
//
//	biokey-sim --op initkey --key-id acct-1 --script touch
//	biokey-sim --op fetchkey --key-id acct-1 --script wrong,wrong,touch
//	biokey-sim --op fetchkey --key-id acct-1 --script fallback,pin
//	biokey-sim --op lock --script pin
//
// State lives in Redis. Without --redis-addr or BIOKEY_REDIS_ADDR an
// in-process miniredis is used and nothing survives the run.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	goBioKey "github.com/MrEthical07/goBioKey"
	"github.com/MrEthical07/goBioKey/internal"
	"github.com/MrEthical07/goBioKey/keystore"
	"github.com/MrEthical07/goBioKey/session"
	"github.com/MrEthical07/goBioKey/soft"
	"github.com/MrEthical07/goBioKey/tpm"
)

type options struct {
	redisAddr       string
	configPath      string
	tpmPath         string
	masterKey       string
	operation       string
	keyID           string
	request         string
	waitTime        time.Duration
	enroll          []string
	credential      string
	script          string
	allowCredential bool
	timeout         time.Duration
	verbose         bool
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("biokey-sim", pflag.ExitOnError)
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, BIOKEY_REDIS_ADDR or miniredis is used")
	flags.StringVarP(&opts.configPath, "config", "c", "", "controller YAML config")
	flags.StringVar(&opts.tpmPath, "tpm", "", "TPM resource manager device, e.g. /dev/tpmrm0; if empty, the software backend is used")
	flags.StringVar(&opts.masterKey, "master-key", "", "hex master key of the software backend; random when empty")
	flags.StringVarP(&opts.operation, "op", "o", string(goBioKey.OpFetchSecret), "initkey, fetchkey, lock, availability or removekey")
	flags.StringVarP(&opts.keyID, "key-id", "k", "", "key identifier")
	flags.StringVar(&opts.request, "request", "", "JSON request; overrides --op, --key-id and --wait")
	flags.DurationVar(&opts.waitTime, "wait", 0, "LockOnly wait time")
	flags.StringSliceVar(&opts.enroll, "enroll", []string{"thumb=sim-thumb"}, "enrolled fingerprints as name=template")
	flags.StringVar(&opts.credential, "credential", "0000", "device credential; empty clears it")
	flags.StringVarP(&opts.script, "script", "s", "touch", "comma separated user actions: "+strings.Join(actionNames(), ", "))
	flags.BoolVar(&opts.allowCredential, "allow-credential", false, "let device credential confirmations unlock keys")
	flags.DurationVar(&opts.timeout, "timeout", time.Minute, "overall deadline")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	_ = flags.Parse(os.Args[1:])

	logger := slog.Make(sloghuman.Sink(os.Stderr))
	if opts.verbose {
		logger = logger.Leveled(slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	resp, err := run(ctx, opts, logger)
	if err != nil {
		logger.Error(ctx, "simulation failed", slog.Error(err))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(resp); err != nil {
		logger.Error(ctx, "encode response", slog.Error(err))
		os.Exit(1)
	}
	if resp.Status == goBioKey.StatusError {
		os.Exit(3)
	}
}

func run(ctx context.Context, opts options, logger slog.Logger) (goBioKey.Response, error) {
	req, err := buildRequest(opts)
	if err != nil {
		return goBioKey.Response{}, err
	}
	actions, err := parseScript(opts.script)
	if err != nil {
		return goBioKey.Response{}, err
	}

	cfg := goBioKey.DefaultConfig()
	if opts.configPath != "" {
		f, err := os.Open(opts.configPath)
		if err != nil {
			return goBioKey.Response{}, fmt.Errorf("open config: %w", err)
		}
		cfg, err = goBioKey.LoadConfig(f)
		_ = f.Close()
		if err != nil {
			return goBioKey.Response{}, err
		}
	}

	client, cleanup, err := openRedis(opts.redisAddr, logger)
	if err != nil {
		return goBioKey.Response{}, err
	}
	defer cleanup()

	platform, err := soft.New(client, soft.DefaultConfig(), soft.Deps{Logger: logger})
	if err != nil {
		return goBioKey.Response{}, err
	}
	templates, err := enroll(ctx, platform, opts.enroll)
	if err != nil {
		return goBioKey.Response{}, err
	}
	if opts.credential == "" {
		err = platform.ClearDeviceCredential(ctx)
	} else {
		err = platform.SetDeviceCredential(ctx, opts.credential)
	}
	if err != nil {
		return goBioKey.Response{}, err
	}

	backend, closeBackend, err := openBackend(opts, logger)
	if err != nil {
		return goBioKey.Response{}, err
	}
	defer closeBackend()

	storeCfg := keystore.DefaultConfig()
	storeCfg.AllowDeviceCredential = opts.allowCredential
	store, err := keystore.New(storeCfg, keystore.Deps{
		Records:    keystore.NewRedisRecords(client, soft.DefaultConfig().RedisPrefix),
		Backend:    backend,
		Verifier:   platform.Tokens(),
		Enrollment: platform,
		Logger:     logger,
	})
	if err != nil {
		return goBioKey.Response{}, err
	}

	ctrl, err := goBioKey.New().
		WithConfig(cfg).
		WithKeystore(store).
		WithBiometric(platform.Biometric()).
		WithDeviceCredential(platform.DeviceCredential()).
		WithLogger(logger).
		Build()
	if err != nil {
		return goBioKey.Response{}, err
	}
	defer ctrl.Close()

	pending := ctrl.Start(ctx, req, presenter{logger: logger.Named("presenter")})

	user := &simUser{
		platform:   platform,
		pending:    pending,
		credential: opts.credential,
		template:   templates[0],
		logger:     logger.Named("user"),
	}
	go user.play(ctx, actions)

	return pending.Wait(context.Background())
}

func buildRequest(opts options) (goBioKey.Request, error) {
	if opts.request != "" {
		return goBioKey.ParseRequest([]byte(opts.request))
	}
	req := goBioKey.Request{
		Operation: goBioKey.Operation(opts.operation),
		KeyID:     opts.keyID,
		WaitTime:  opts.waitTime,
	}
	return req, req.Validate()
}

func openRedis(addr string, logger slog.Logger) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("BIOKEY_REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		logger.Info(context.Background(), "using redis", slog.F("addr", addr))
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	logger.Info(context.Background(), "using miniredis", slog.F("addr", mr.Addr()))
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func openBackend(opts options, logger slog.Logger) (keystore.Backend, func(), error) {
	if opts.tpmPath != "" {
		device, err := tpm.Open(opts.tpmPath)
		if err != nil {
			return nil, nil, err
		}
		return tpm.NewBackend(device, logger), func() { _ = device.Close() }, nil
	}

	var master []byte
	if opts.masterKey != "" {
		var err error
		master, err = hex.DecodeString(opts.masterKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decode master key: %w", err)
		}
	} else {
		var err error
		master, err = internal.NewRandom(internal.MaterialSize)
		if err != nil {
			return nil, nil, err
		}
		logger.Warn(context.Background(), "using a random master key, derived secrets will not survive this run")
	}
	backend, err := keystore.NewSoftBackend(master)
	if err != nil {
		return nil, nil, err
	}
	return backend, func() {}, nil
}

func enroll(ctx context.Context, platform *soft.Platform, entries []string) ([][]byte, error) {
	templates := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		name, tmpl, ok := strings.Cut(entry, "=")
		if !ok || name == "" || tmpl == "" {
			return nil, fmt.Errorf("enrollment %q is not name=template", entry)
		}
		if err := platform.Enroll(ctx, name, []byte(tmpl)); err != nil {
			return nil, err
		}
		templates = append(templates, []byte(tmpl))
	}
	if len(templates) == 0 {
		// Nothing enrolled. Touches use a template that cannot match.
		templates = append(templates, []byte("unenrolled"))
	}
	return templates, nil
}

type presenter struct {
	logger slog.Logger
}

func (p presenter) ApplyLocale(text session.LocaleText) {
	p.logger.Info(context.Background(), text.Title, slog.F("description", text.Description), slog.F("cancel", text.Cancel))
}

func (p presenter) ShowStage(stage session.Stage) {
	p.logger.Debug(context.Background(), "stage", slog.F("stage", stage.String()))
}

func (p presenter) ShowTransientMessage(text string, isWarning bool) {
	if isWarning {
		p.logger.Warn(context.Background(), text)
		return
	}
	p.logger.Info(context.Background(), text)
}

func (p presenter) ShowSuccessMessage(text string) {
	p.logger.Info(context.Background(), text)
}

func (presenter) RequestDismiss() {}
