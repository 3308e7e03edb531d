// Command loadtest measures save and load throughput of the configured
// backend. Backend settings come from the ESK_* variables of
// internal/config; the run itself is shaped by:
//
//	LOADTEST_N=50000              total saves
//	LOADTEST_USERS=100            distinct aggregates
//	LOADTEST_REPORT=1000          saves per progress line
//	LOADTEST_SNAPSHOT=true        snapshot on every save and load from snapshots
//	LOADTEST_LOAD_AFTER_SAVE=false
//
// For NATS: docker run --net=host nats:latest -js, then ESK_BACKEND=nats.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/internal/backend"
	"github.com/codewandler/esk-go/internal/config"
)

type loadConfig struct {
	Ops           int  `env:"LOADTEST_N" envDefault:"50000"`
	Users         int  `env:"LOADTEST_USERS" envDefault:"100"`
	Report        int  `env:"LOADTEST_REPORT" envDefault:"1000"`
	Snapshot      bool `env:"LOADTEST_SNAPSHOT" envDefault:"true"`
	LoadAfterSave bool `env:"LOADTEST_LOAD_AFTER_SAVE"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("loadtest failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	var lc loadConfig
	if err := config.ParseEnv(&lc); err != nil {
		return err
	}
	if lc.Users <= 0 || lc.Report <= 0 {
		return errors.New("LOADTEST_USERS and LOADTEST_REPORT must be positive")
	}
	log := cfg.Logger(os.Stderr)

	b, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	envOpts, err := b.EnvOptions()
	if err != nil {
		return err
	}
	env, err := es.NewEnv(es.WithEnvOpts(envOpts...), es.WithContext(ctx), es.WithAggregates(new(User)))
	if err != nil {
		return err
	}
	defer env.Shutdown()

	var total int
	counter := es.NewInMemoryProjection("event-count", 0, func(n *int, _ es.MsgCtx) error {
		*n++
		return nil
	})
	consumer, err := env.NewConsumer(counter, es.WithConsumerName("loadtest"), es.WithBatchSize(1000))
	if err != nil {
		return err
	}

	repo := es.NewTypedRepositoryFrom[*User](log, env.Repository())
	defer repo.Close()

	fmt.Printf("backend: %s, saves: %d, users: %d, snapshot: %t\n", cfg.Backend, lc.Ops, lc.Users, lc.Snapshot)

	users := make([]*User, lc.Users)
	for i := range users {
		u, _, err := repo.Create(ctx, &UserRegistered{Name: fmt.Sprintf("user-%d", i)})
		if err != nil {
			return err
		}
		users[i] = u
	}

	var (
		started = time.Now()
		last    = started
	)
	for i := 1; i <= lc.Ops; i++ {
		u := users[rand.IntN(len(users))]
		if err := u.ChangeEmail(fmt.Sprintf("user@host-%d.com", i)); err != nil {
			return err
		}
		if _, err := repo.Save(ctx, u, es.WithSnapshot(lc.Snapshot)); err != nil {
			return err
		}
		if lc.LoadAfterSave {
			loaded, err := repo.GetByID(ctx, u.GetID(), es.WithSnapshot(lc.Snapshot))
			if err != nil {
				return err
			}
			if loaded.GetVersion() != u.GetVersion() {
				return fmt.Errorf("loaded %s at version %d, saved %d", u.GetID(), loaded.GetVersion(), u.GetVersion())
			}
		}
		if i%lc.Report == 0 {
			now := time.Now()
			took := now.Sub(last)
			m := memUsage()
			fmt.Printf(
				"%7d saves | %6d ms | %7d saves/s | %d / %d MiB (sys)\n",
				i, took.Milliseconds(), int(float64(lc.Report)/took.Seconds()), m.Alloc>>20, m.Sys>>20,
			)
			last = now
		}
	}
	took := time.Since(started)

	consumeStart := time.Now()
	if _, err := consumer.CatchUp(ctx); err != nil {
		return err
	}
	counter.Read(func(n int) { total = n })

	fmt.Println("==========================================")
	fmt.Printf("  total runtime: %.3f s\n", took.Seconds())
	fmt.Printf("  avg. saves/s:  %d\n", int(float64(lc.Ops)/took.Seconds()))
	fmt.Printf("  consumed:      %d events in %.3f s\n", total, time.Since(consumeStart).Seconds())
	return nil
}

func memUsage() runtime.MemStats {
	runtime.GC()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}

// === Domain ===

type User struct {
	es.BaseAggregate
	state userState
}

type userState struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type (
	UserRegistered struct {
		Name string `json:"name"`
	}
	EmailChanged struct {
		Email string `json:"email"`
	}
)

func (UserRegistered) EventType() string { return "user.registered" }
func (EmailChanged) EventType() string   { return "user.email_changed" }

var userMutations = es.NewMutations(
	es.On(func(u *User, e *UserRegistered) error { u.state.Name = e.Name; return nil }),
	es.On(func(u *User, e *EmailChanged) error { u.state.Email = e.Email; return nil }),
)

func (u *User) GetAggType() string       { return "user" }
func (u *User) Mutations() *es.Mutations { return userMutations }

func (u *User) Snapshot() ([]byte, error)         { return json.Marshal(u.state) }
func (u *User) RestoreSnapshot(data []byte) error {
	u.state = userState{}
	return json.Unmarshal(data, &u.state)
}

func (u *User) ChangeEmail(email string) error {
	if email == "" {
		return errors.New("email is empty")
	}
	return es.Trigger(u, &EmailChanged{Email: email})
}

var _ es.Snapshottable = (*User)(nil)
