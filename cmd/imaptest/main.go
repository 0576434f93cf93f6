// Command imaptest drives a configurable number of simulated IMAP
// clients against a server under test, following the command-state
// catalog and reply-verification rules in this module's core packages.
//
// Flag set follows cmd/spilld's convention: stdlib flag, one var per
// setting, flag.Parse once in main.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"spilled.ink/internal/imapcore/catalog"
	"spilled.ink/internal/imapcore/checkpoint"
	"spilled.ink/internal/imapcore/client"
	"spilled.ink/internal/imapcore/corelog"
	"spilled.ink/internal/imapcore/creds"
	"spilled.ink/internal/imapcore/planner"
	"spilled.ink/internal/imapcore/router"
	"spilled.ink/internal/imapcore/runner"
	"spilled.ink/internal/imapcore/stats"
)

var version = "unknown" // filled in by "-ldflags=-X main.version=<val>"

func main() {
	log.SetFlags(0)

	flagAddr := flag.String("addr", "localhost:143", "IMAP server address to stress test")
	flagUser := flag.String("user", "imaptest", "username prefix; clients log in as user1, user2, ...")
	flagPass := flag.String("pass", "secret", "password shared by every simulated user")
	flagClients := flag.Int("clients", 10, "number of simulated clients")
	flagRandomStates := flag.Bool("random", true, "pick command states uniformly at random rather than sequentially")
	flagNoPipelining := flag.Bool("no_pipelining", false, "never keep more than one command in flight per client")
	flagQueueLen := flag.Int("max_queue", 12, "maximum number of in-flight commands per client")
	flagPlanCapacity := flag.Int("plan_capacity", 5, "lookahead command buffer size per client")
	flagRunFor := flag.Duration("duration", 30*time.Second, "how long to run before disconnecting every client")
	flagCredsDB := flag.String("creds_db", "", "SQLite credential database path; empty uses an in-memory credential store")

	flag.Parse()

	log.Printf("imaptest, version %s, starting at %s", version, time.Now())

	conf := stats.DefaultConfig()
	conf.ClientsCount = *flagClients
	conf.RandomStates = *flagRandomStates
	conf.NoPipelining = *flagNoPipelining
	conf.MaxCommandQueue = *flagQueueLen
	conf.PlanCapacity = *flagPlanCapacity

	world := stats.New(conf)
	logger := corelog.Logger{Out: log.Printf}
	pl := planner.New(world, logger)
	rt := router.New(world, logger)
	eng := runner.New(world, pl, rt, logger)
	coord := checkpoint.New(func(participants []*client.Client) error {
		return nil
	})
	eng.Checkpoint = coord

	ctx := context.Background()
	mem := creds.NewMemStore()
	if *flagCredsDB != "" {
		store, err := creds.Open(*flagCredsDB)
		if err != nil {
			log.Fatalf("opening credential db: %v", err)
		}
		defer store.Close()
		for i := 0; i < conf.ClientsCount; i++ {
			username := fmt.Sprintf("%s%d", *flagUser, i+1)
			if _, err := store.Create(ctx, username, *flagPass); err != nil {
				log.Fatalf("creating user %s: %v", username, err)
			}
		}
	}

	stop := make(chan struct{})
	go eng.Run(stop)

	for i := 0; i < conf.ClientsCount; i++ {
		username := fmt.Sprintf("%s%d", *flagUser, i+1)
		var cred *client.Cred
		if *flagCredsDB == "" {
			cred = mem.Create(username, *flagPass)
		} else {
			cred = &client.Cred{Username: username, Password: *flagPass}
		}

		conn, err := net.Dial("tcp", *flagAddr)
		if err != nil {
			log.Fatalf("dial %s: %v", *flagAddr, err)
		}
		c := client.New(i, cred, conf.MaxCommandQueue)
		world.AddClient(c)
		eng.AddClient(c, conn)
	}

	log.Printf("running %d clients against %s for %s", conf.ClientsCount, *flagAddr, *flagRunFor)
	time.Sleep(*flagRunFor)
	close(stop)

	for _, state := range []catalog.State{catalog.Login, catalog.Select, catalog.Fetch, catalog.Store, catalog.Append} {
		log.Printf("%-12s issued=%-6d avg=%s", state, world.Counter(state), world.AverageTiming(state))
	}
}
