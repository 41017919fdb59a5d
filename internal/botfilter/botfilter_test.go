package botfilter_test

import (
	"os"
	"path/filepath"

	"basegraph.app/courier/internal/botfilter"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Filter", func() {
	It("matches case-insensitively and ignores a leading @", func() {
		f := botfilter.New("HorseDisc.bsky.social")
		Expect(f.IsKnownBot("@horsedisc.bsky.social")).To(BeTrue())
		Expect(f.IsKnownBot("  HORSEDISC.bsky.social ")).To(BeTrue())
		Expect(f.IsKnownBot("person.bsky.social")).To(BeFalse())
	})

	It("treats a nil filter as knowing no bots", func() {
		var f *botfilter.Filter
		Expect(f.IsKnownBot("anyone")).To(BeFalse())
	})

	It("parses the known bots list formats", func() {
		content := `# known bots
- @one.bsky.social: replies to everything
- two.bsky.social
@three.bsky.social
four.bsky.social: quote bot

`
		Expect(botfilter.ParseHandles(content)).To(Equal([]string{
			"one.bsky.social", "two.bsky.social", "three.bsky.social", "four.bsky.social",
		}))
	})

	It("loads handles from a file alongside inline ones", func() {
		path := filepath.Join(GinkgoT().TempDir(), "bots.txt")
		Expect(os.WriteFile(path, []byte("- filebot\n"), 0o644)).To(Succeed())

		f, err := botfilter.Load([]string{"inline"}, path)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Len()).To(Equal(2))
		Expect(f.IsKnownBot("filebot")).To(BeTrue())
		Expect(f.IsKnownBot("inline")).To(BeTrue())
	})
})
