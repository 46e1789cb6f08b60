package main

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/username/sidekick"
	"github.com/username/sidekick/pkg/core"
	"github.com/username/sidekick/pkg/logutil"
	"github.com/username/sidekick/pkg/spi/memory"
	"github.com/username/sidekick/pkg/spi/store/stdout"
	"github.com/username/sidekick/pkg/validator"
)

var log = logrus.WithField("prefix", "example")

func main() {
	if err := logutil.Configure("info", "text"); err != nil {
		log.Fatal(err)
	}

	cfg := core.CheckpointConfig{
		Interval:     10,
		OracleTarget: common.HexToAddress("0x00000000000000000000000000000000c0ffee00"),
	}

	// 1. Setup a simulated chain with two checkpoints of history
	chain := memory.NewChain()
	chain.Mine(2 * cfg.Interval)
	oracle := memory.NewOracle()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	post := func(height uint64) {
		older, _ := chain.BlockAt(ctx, height-2*cfg.Interval)
		newer, _ := chain.BlockAt(ctx, height-cfg.Interval)
		oracle.Post(cfg.OracleTarget, validator.Keccak256Concat(older, newer))
	}
	post(2 * cfg.Interval)

	// 2. Initialize the watcher
	watcher, err := sidekick.New(cfg, chain, oracle, chain, stdout.New(nil))
	if err != nil {
		log.Fatal(err)
	}

	// 3. Act as the relayer: post the value for the next checkpoint, forging one of them
	forged := false
	err = watcher.OnCheckpoint(func(ctx context.Context, s core.Success) error {
		if s.Checkpoint.Height == 5*cfg.Interval && !forged {
			forged = true
			log.Warn("Relayer posts a forged checkpoint")
			oracle.Post(cfg.OracleTarget, []byte("forged"))
			return nil
		}
		post(s.Checkpoint.Height + cfg.Interval)
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	// 4. Repair the oracle once the watcher rolls back
	err = watcher.OnRollback(func(ctx context.Context, f core.Failure) error {
		log.WithField("target", f.RollbackTarget).Info("Relayer reposts the rolled back checkpoint")
		post(f.RollbackTarget)
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	// 5. Run
	go chain.Produce(ctx, 20*time.Millisecond)
	if err := watcher.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
