package sqlite_test

import (
	"context"
	"path/filepath"

	"basegraph.app/courier/core/sqlite"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Open", func() {
	ctx := context.Background()

	migrations := []sqlite.Migration{
		{Version: 1, Statements: []string{`CREATE TABLE things (id TEXT PRIMARY KEY);`}},
		{Version: 2, Statements: []string{`ALTER TABLE things ADD COLUMN note TEXT;`}},
	}

	It("creates the file and applies every migration once", func() {
		path := filepath.Join(GinkgoT().TempDir(), "nested", "test.db")

		db, err := sqlite.Open(ctx, path, migrations...)
		Expect(err).ToNot(HaveOccurred())
		_, err = db.ExecContext(ctx, `INSERT INTO things (id, note) VALUES ('a', 'b')`)
		Expect(err).ToNot(HaveOccurred())
		Expect(db.Close()).To(Succeed())

		db, err = sqlite.Open(ctx, path, migrations...)
		Expect(err).ToNot(HaveOccurred())
		defer db.Close()

		var version int
		Expect(db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)).To(Succeed())
		Expect(version).To(Equal(2))

		var count int
		Expect(db.QueryRowContext(ctx, `SELECT COUNT(*) FROM things`).Scan(&count)).To(Succeed())
		Expect(count).To(Equal(1))
	})

	It("rejects an empty path", func() {
		_, err := sqlite.Open(ctx, "")
		Expect(err).To(HaveOccurred())
	})

	It("supports in-memory databases", func() {
		db, err := sqlite.Open(ctx, ":memory:", migrations...)
		Expect(err).ToNot(HaveOccurred())
		defer db.Close()
		_, err = db.ExecContext(ctx, `INSERT INTO things (id) VALUES ('x')`)
		Expect(err).ToNot(HaveOccurred())
	})
})
