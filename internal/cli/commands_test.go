package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/courier/internal/cli"
	"basegraph.app/courier/internal/domain"
	"basegraph.app/courier/internal/ledger"
	"basegraph.app/courier/internal/queue"
)

// sharedLedger survives across command invocations so specs can seed it.
var sharedLedger = ledger.NewMemoryBackend()

func init() {
	ledger.RegisterBackend("clitest", func(ctx context.Context, dsn string) (ledger.Backend, error) {
		return sharedLedger, nil
	})
}

var _ = Describe("queuectl", func() {
	var (
		ctx   context.Context
		dir   string
		store *queue.Store
	)

	run := func(args ...string) (string, error) {
		cmd := cli.NewRootCommand(cli.RootOptions{QueueDir: dir, LedgerDSN: "clitest://"})
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(ctx)
		return out.String(), err
	}

	enqueue := func(id, author string) domain.QueueRecord {
		rec, err := store.Enqueue(ctx, domain.Event{
			ID:           id,
			Platform:     "test",
			Kind:         domain.EventKindMention,
			AuthorHandle: author,
			Text:         "hello",
			CreatedAt:    time.Now().UTC(),
		})
		Expect(err).NotTo(HaveOccurred())
		return rec
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()

		var err error
		store, err = queue.New(queue.Config{Dir: dir, Owner: "seed"})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("global flags", func() {
		It("rejects an unknown format", func() {
			_, err := run("count", "--format", "yaml")
			Expect(err).To(MatchError(ContainSubstring("invalid format")))
		})

		It("requires a queue directory", func() {
			cmd := cli.NewRootCommand(cli.RootOptions{LedgerDSN: "memory://"})
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs([]string{"count"})

			err := cmd.Execute()
			Expect(cli.GetExitCode(err)).To(Equal(cli.ExitCommandError))
		})

		It("fails with a command error when the ledger cannot be opened", func() {
			_, err := run("count", "--ledger", "nosuch://x")
			Expect(cli.GetExitCode(err)).To(Equal(cli.ExitCommandError))
		})
	})

	Describe("list", func() {
		It("prints pending records as a table", func() {
			enqueue("e1", "alice")
			enqueue("e2", "bob")

			out, err := run("list")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("ID"))
			Expect(out).To(ContainSubstring("e1"))
			Expect(out).To(ContainSubstring("e2"))
		})

		It("filters by author in json", func() {
			enqueue("e1", "@Alice")
			enqueue("e2", "bob")

			out, err := run("list", "--author", "alice", "--format", "json")
			Expect(err).NotTo(HaveOccurred())

			var recs []domain.QueueRecord
			Expect(json.Unmarshal([]byte(out), &recs)).To(Succeed())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].ID).To(Equal("e1"))
		})

		It("prints an empty json array for an empty queue", func() {
			out, err := run("list", "--format", "json")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(MatchJSON(`[]`))
		})

		It("includes terminal records only with --all", func() {
			rec := enqueue("e1", "alice")
			Expect(store.MarkResolved(ctx, rec, domain.OutcomeNoReply)).To(Succeed())

			out, err := run("list")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("no records"))

			out, err = run("list", "--all")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("e1"))
		})
	})

	Describe("count and stats", func() {
		It("counts records per state", func() {
			enqueue("e1", "alice")
			enqueue("e2", "alice")

			out, err := run("count", "--format", "json")
			Expect(err).NotTo(HaveOccurred())

			var counts map[string]int
			Expect(json.Unmarshal([]byte(out), &counts)).To(Succeed())
			Expect(counts).To(HaveKeyWithValue("pending", 2))
		})

		It("reports stats as text", func() {
			enqueue("e1", "alice")

			out, err := run("stats")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("ledger entries:"))
			Expect(out).To(ContainSubstring("pending mention: 1"))
		})
	})

	Describe("health", func() {
		It("succeeds on a healthy queue", func() {
			out, err := run("health")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("status"))
			Expect(out).To(ContainSubstring(string(domain.HealthOK)))
		})
	})

	Describe("repair", func() {
		It("quarantines corrupt files and reconciles seen records", func() {
			enqueue("seen-1", "alice")
			Expect(sharedLedger.Add(ctx, "seen-1", time.Now().UTC())).To(Succeed())
			Expect(os.WriteFile(filepath.Join(dir, "pending", "broken.json"), []byte("{not json"), 0o644)).To(Succeed())

			out, err := run("repair", "--format", "json")
			Expect(err).NotTo(HaveOccurred())

			var report domain.RepairReport
			Expect(json.Unmarshal([]byte(out), &report)).To(Succeed())
			Expect(report.Quarantined).To(BeNumerically(">=", 1))
			Expect(report.Reconciled).To(Equal(1))

			recs, err := store.ListAll(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(BeEmpty())
		})
	})

	Describe("drop", func() {
		It("removes the records of an event", func() {
			enqueue("e1", "alice")

			out, err := run("drop", "e1")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("dropped 1 record(s) for e1"))

			recs, err := store.ListAll(ctx, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(BeEmpty())
		})

		It("exits with failure for an unknown event", func() {
			_, err := run("drop", "missing")
			Expect(cli.GetExitCode(err)).To(Equal(cli.ExitFailure))
		})

		It("requires exactly one argument", func() {
			_, err := run("drop")
			Expect(err).To(HaveOccurred())
		})
	})
})
